package model

import (
	"fmt"
	"time"
)

// RootParentID はルート階層を表す親IDの番兵値。実在するファイルIDには使われない。
const RootParentID int64 = 0

// FileKind はファイルの種別を表す。
type FileKind string

const (
	// FileKindFolder はフォルダ。コンテンツを持たない。
	FileKindFolder FileKind = "folder"
	// FileKindPlain は通常ファイル。
	FileKindPlain FileKind = "file"
	// FileKindImage は画像ファイル。アップロード後にサムネイル生成の対象となる。
	FileKindImage FileKind = "image"
)

// ParseFileKind は文字列をFileKindに変換する。未知の種別の場合はfalseを返す。
func ParseFileKind(s string) (FileKind, bool) {
	switch FileKind(s) {
	case FileKindFolder, FileKindPlain, FileKindImage:
		return FileKind(s), true
	default:
		return "", false
	}
}

// HasContent は種別がコンテンツを持つかどうかを返す。
func (k FileKind) HasContent() bool {
	return k == FileKindPlain || k == FileKindImage
}

// ContentRef はContent Store上のblobを指す不透明な参照。
type ContentRef string

// DerivativeName はサムネイルの保存名を返す。
// (元blob名, 幅) から決定的に導出されるため、再生成しても同じ名前に上書きされる。
func (r ContentRef) DerivativeName(width int) string {
	return fmt.Sprintf("%s_%d", r, width)
}

// File はユーザーが所有するファイルまたはフォルダのメタデータを表す。
// Contentはフォルダの場合nil、通常ファイルと画像の場合は必ず非nil。
// 生成はNewFolder / NewPlainFile / NewImageFileを経由すること。
type File struct {
	ID        int64
	OwnerID   string
	Name      string
	Kind      FileKind
	ParentID  int64
	IsPublic  bool
	Content   *ContentRef
	CreatedAt time.Time
}

// NewFolder はフォルダのFileを生成する。
func NewFolder(ownerID, name string, parentID int64, isPublic bool) *File {
	return &File{
		OwnerID:  ownerID,
		Name:     name,
		Kind:     FileKindFolder,
		ParentID: parentID,
		IsPublic: isPublic,
	}
}

// NewPlainFile は通常ファイルのFileを生成する。
func NewPlainFile(ownerID, name string, parentID int64, isPublic bool, ref ContentRef) *File {
	return &File{
		OwnerID:  ownerID,
		Name:     name,
		Kind:     FileKindPlain,
		ParentID: parentID,
		IsPublic: isPublic,
		Content:  &ref,
	}
}

// NewImageFile は画像ファイルのFileを生成する。
func NewImageFile(ownerID, name string, parentID int64, isPublic bool, ref ContentRef) *File {
	f := NewPlainFile(ownerID, name, parentID, isPublic, ref)
	f.Kind = FileKindImage
	return f
}

// IsFolder はフォルダかどうかを返す。
func (f *File) IsFolder() bool {
	return f.Kind == FileKindFolder
}
