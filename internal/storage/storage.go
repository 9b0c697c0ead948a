// Package storage はファイル本体（blob）の保存先を抽象化する。
// 公開・非公開の判定は行わず、アクセス制御は呼び出し側の責務とする。
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hitoshi/filekeep/internal/model"
)

// ErrNotFound は指定したblobが存在しないことを表す。
var ErrNotFound = errors.New("content not found")

// Store はblobの保存・読み出しを行うインターフェース。
type Store interface {
	// Save はdataを新しい一意な名前で保存し、その参照を返す。
	// ユーザーが指定したファイル名は保存名に使用しない。
	Save(ctx context.Context, data []byte) (model.ContentRef, error)

	// SaveDerivative はrefのサムネイルを "<ref>_<width>" に保存する。既存の場合は上書きする。
	SaveDerivative(ctx context.Context, ref model.ContentRef, width int, data []byte) error

	// Read はblobを読み出す。widthが0の場合は元データ、それ以外はサムネイルを返す。
	// 存在しない場合はErrNotFoundを返す。
	Read(ctx context.Context, ref model.ContentRef, width int) ([]byte, error)
}

// newContentRef は新しいblob名を生成する。
func newContentRef() model.ContentRef {
	return model.ContentRef(uuid.New().String())
}

// objectName はrefとwidthから保存名を決定する。
func objectName(ref model.ContentRef, width int) string {
	if width == 0 {
		return string(ref)
	}
	return ref.DerivativeName(width)
}
