// Package file はファイル・フォルダのメタデータ管理と階層構造、公開設定、本体取得のドメインロジックを提供する。
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/filekeep/internal/access"
	"github.com/hitoshi/filekeep/internal/model"
	"github.com/hitoshi/filekeep/internal/repository"
	"github.com/hitoshi/filekeep/internal/storage"
)

// PageSize は一覧取得の1ページあたりの件数。
const PageSize = 20

// defaultContentType は拡張子から種別を判定できない場合のContent-Type。
const defaultContentType = "application/octet-stream"

// JobQueue はサムネイル生成ジョブの投入と状態照会のインターフェース。
type JobQueue interface {
	Enqueue(ctx context.Context, fileID int64, ownerID string) error
	FindByFileID(ctx context.Context, fileID int64) (*model.ThumbnailJob, error)
}

// Recorder はファイル操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordUpload(kind string)
	RecordEnqueueFailure()
}

// CreateInput はファイル作成の入力。Dataはデコード済みのバイト列。
type CreateInput struct {
	OwnerID  string
	Name     string `validate:"required"`
	Type     string `validate:"required,oneof=folder file image"`
	ParentID int64
	IsPublic bool
	Data     []byte
}

// Service はファイル管理のサービス層。
type Service struct {
	files    repository.FileRepository
	content  storage.Store
	jobs     JobQueue
	metrics  Recorder
	widths   []int
	validate *validator.Validate
}

// NewService はServiceの新しいインスタンスを生成する。
// widthsはサムネイルとして取得を許可する幅の一覧。
func NewService(
	files repository.FileRepository,
	content storage.Store,
	jobs JobQueue,
	metrics Recorder,
	widths []int,
) *Service {
	return &Service{
		files:    files,
		content:  content,
		jobs:     jobs,
		metrics:  metrics,
		widths:   slices.Clone(widths),
		validate: validator.New(),
	}
}

// Create はファイルまたはフォルダを作成する。
// 本体はメタデータより先にContent Storeへ書き込む。画像の場合はサムネイル生成ジョブを投入する。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.File, error) {
	// 1. 入力検証
	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}
	kind, _ := model.ParseFileKind(in.Type)
	if kind.HasContent() && len(in.Data) == 0 {
		return nil, model.NewValidationError("Missing data")
	}

	// 2. 親フォルダの確認（所有者は問わない）
	if err := s.checkParent(ctx, in.ParentID); err != nil {
		return nil, err
	}

	// 3. 本体の保存とFileの組み立て
	var f *model.File
	if kind == model.FileKindFolder {
		f = model.NewFolder(in.OwnerID, in.Name, in.ParentID, in.IsPublic)
	} else {
		ref, err := s.content.Save(ctx, in.Data)
		if err != nil {
			slog.Error("failed to save content",
				slog.String("user_id", in.OwnerID),
				slog.String("error", err.Error()),
			)
			return nil, model.NewStorageError()
		}
		if kind == model.FileKindImage {
			f = model.NewImageFile(in.OwnerID, in.Name, in.ParentID, in.IsPublic, ref)
		} else {
			f = model.NewPlainFile(in.OwnerID, in.Name, in.ParentID, in.IsPublic, ref)
		}
	}

	// 4. メタデータの保存
	if err := s.files.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	s.metrics.RecordUpload(string(kind))

	// 5. 画像はサムネイル生成ジョブを投入する。失敗してもアップロード自体は成功とする
	if kind == model.FileKindImage {
		if err := s.jobs.Enqueue(ctx, f.ID, f.OwnerID); err != nil {
			s.metrics.RecordEnqueueFailure()
			slog.Error("failed to enqueue thumbnail job",
				slog.Int64("file_id", f.ID),
				slog.String("user_id", f.OwnerID),
				slog.String("error", err.Error()),
			)
		}
	}

	return f, nil
}

// checkParent はparentIDがルートまたは既存のフォルダであることを確認する。
func (s *Service) checkParent(ctx context.Context, parentID int64) error {
	if parentID == model.RootParentID {
		return nil
	}
	if parentID < 0 {
		return model.NewValidationError("Parent not found")
	}

	parent, err := s.files.FindByID(ctx, parentID)
	if err != nil {
		return fmt.Errorf("failed to find parent: %w", err)
	}
	if parent == nil {
		return model.NewValidationError("Parent not found")
	}
	if !parent.IsFolder() {
		return model.NewValidationError("Parent is not a folder")
	}
	return nil
}

// List はownerIDが所有し、親がparentIDであるファイルを新しい順に1ページ分返す。
// pageは0始まりで、負の値は0として扱う。親が存在しない場合や他人の場合は空を返す。
// オフセットがintに収まらないページは常に範囲外のため空を返す。
func (s *Service) List(ctx context.Context, ownerID string, parentID int64, page int) ([]*model.File, error) {
	if page < 0 {
		page = 0
	}
	if page > math.MaxInt/PageSize {
		return []*model.File{}, nil
	}
	files, err := s.files.ListByOwnerAndParent(ctx, ownerID, parentID, PageSize, page*PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Count はListと同じ条件に一致するファイルの総数を返す。
func (s *Service) Count(ctx context.Context, ownerID string, parentID int64) (int64, error) {
	n, err := s.files.CountByOwnerAndParent(ctx, ownerID, parentID)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// CountAll は全ユーザーのファイル総数を返す。
func (s *Service) CountAll(ctx context.Context) (int64, error) {
	return s.files.Count(ctx)
}

// GetByID はownerIDが所有するファイルを返す。存在しない場合と他人のファイルはどちらもNotFound。
func (s *Service) GetByID(ctx context.Context, ownerID string, fileID int64) (*model.File, error) {
	f, err := s.files.FindByOwnerAndID(ctx, ownerID, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	if f == nil || !access.CanRead(f, ownerID) {
		return nil, model.NewNotFoundError()
	}
	return f, nil
}

// SetVisibility は公開フラグを設定し、更新後のファイルを返す。同じ値の再設定も成功する。
func (s *Service) SetVisibility(ctx context.Context, ownerID string, fileID int64, isPublic bool) (*model.File, error) {
	f, err := s.GetByID(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite(f, ownerID) {
		return nil, model.NewNotFoundError()
	}

	updated, err := s.files.UpdateVisibility(ctx, ownerID, fileID, isPublic)
	if err != nil {
		return nil, fmt.Errorf("failed to update visibility: %w", err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError()
	}
	return updated, nil
}

// GetRawData はファイル本体（widthが0以外の場合はサムネイル）とContent-Typeを返す。
// requesterIDは未認証の場合は空文字列。読み取り権限がない場合はNotFoundとなる。
func (s *Service) GetRawData(ctx context.Context, requesterID string, fileID int64, width int) ([]byte, string, error) {
	// 1. サイズ指定の検証
	if width != 0 && !slices.Contains(s.widths, width) {
		return nil, "", model.NewValidationError("Invalid size")
	}

	// 2. ファイルの取得と読み取り権限の確認
	f, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find file: %w", err)
	}
	if f == nil || !access.CanRead(f, requesterID) {
		return nil, "", model.NewNotFoundError()
	}

	// 3. フォルダは本体を持たない
	if f.IsFolder() || f.Content == nil {
		return nil, "", model.NewValidationError("A folder doesn't have content")
	}

	// 4. 本体の読み出し
	data, err := s.content.Read(ctx, *f.Content, width)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", model.NewNotFoundError()
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read content: %w", err)
	}

	return data, contentTypeOf(f.Name), nil
}

// ThumbnailStatus はファイルのサムネイル生成ジョブの状態を返す。
func (s *Service) ThumbnailStatus(ctx context.Context, ownerID string, fileID int64) (*model.ThumbnailJob, error) {
	if _, err := s.GetByID(ctx, ownerID, fileID); err != nil {
		return nil, err
	}

	job, err := s.jobs.FindByFileID(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to find thumbnail job: %w", err)
	}
	if job == nil {
		return nil, model.NewNotFoundError()
	}
	return job, nil
}

// contentTypeOf はファイル名の拡張子からContent-Typeを判定する。
func contentTypeOf(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return defaultContentType
}

// toValidationError はvalidatorのエラーを "Missing <field>" 形式のメッセージに変換する。
// 未知の種別も種別未指定と同じメッセージとする。
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewValidationError("Invalid input")
	}
	return model.NewValidationError("Missing " + strings.ToLower(verrs[0].Field()))
}
