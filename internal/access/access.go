// Package access はファイルに対する読み取り・書き込み権限を判定する。
// 判定は純粋関数で、ファイル操作の各経路で結果を返す前に必ず呼び出される。
package access

import "github.com/hitoshi/filekeep/internal/model"

// CanRead はrequesterIDがファイルを読み取れるかを返す。
// 公開ファイルは誰でも読み取れる。requesterIDが空（未認証）の場合は所有者とみなさない。
func CanRead(file *model.File, requesterID string) bool {
	if file == nil {
		return false
	}
	return file.IsPublic || isOwner(file, requesterID)
}

// CanWrite はrequesterIDがファイルを変更できるかを返す。所有者のみ許可する。
func CanWrite(file *model.File, requesterID string) bool {
	if file == nil {
		return false
	}
	return isOwner(file, requesterID)
}

func isOwner(file *model.File, requesterID string) bool {
	return requesterID != "" && file.OwnerID == requesterID
}
