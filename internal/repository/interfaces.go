// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/filekeep/internal/model"
)

// ErrDuplicate は一意制約違反を表す。サービス層でドメインエラーに変換される。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成し、採番されたIDと作成日時をuserに設定する。
	// emailが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByEmail はemailの完全一致でユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Count は登録ユーザー数を返す。
	Count(ctx context.Context) (int64, error)
}

// FileRepository はファイルメタデータの永続化インターフェース。
type FileRepository interface {
	// Create はファイルを作成し、採番されたIDと作成日時をfileに設定する。
	Create(ctx context.Context, file *model.File) error

	// FindByID は所有者を問わず指定IDのファイルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.File, error)

	// FindByOwnerAndID は所有者スコープで指定IDのファイルを取得する。
	// 存在しない場合と他人のファイルの場合はどちらもnilを返す。
	FindByOwnerAndID(ctx context.Context, ownerID string, id int64) (*model.File, error)

	// ListByOwnerAndParent は(owner_id, parent_id)が完全一致するファイルを
	// created_at降順・id降順で取得する。
	ListByOwnerAndParent(ctx context.Context, ownerID string, parentID int64, limit, offset int) ([]*model.File, error)

	// CountByOwnerAndParent はListByOwnerAndParentと同じ条件の件数を返す。
	CountByOwnerAndParent(ctx context.Context, ownerID string, parentID int64) (int64, error)

	// UpdateVisibility は所有者スコープで公開フラグを1行更新する。
	// 対象が存在しない場合はnilを返す。
	UpdateVisibility(ctx context.Context, ownerID string, id int64, isPublic bool) (*model.File, error)

	// Count は全ファイル数を返す。
	Count(ctx context.Context) (int64, error)
}

// ThumbnailJobRepository はサムネイル生成ジョブキューの永続化インターフェース。
type ThumbnailJobRepository interface {
	// Enqueue はジョブをqueued状態で登録する。同じファイルIDのジョブが存在する場合はqueuedに戻す。
	Enqueue(ctx context.Context, fileID int64, ownerID string) error

	// Claim はqueued状態のジョブを最大limit件、古い順にprocessingへ遷移させて返す。
	// FOR UPDATE SKIP LOCKEDで取得するため、複数ワーカーが同じジョブを受け取ることはない。
	Claim(ctx context.Context, limit int) ([]*model.ThumbnailJob, error)

	// MarkCompleted はジョブをcompletedに遷移させる。
	MarkCompleted(ctx context.Context, fileID int64) error

	// MarkFailed はジョブをfailedに遷移させ、エラーメッセージを記録する。
	MarkFailed(ctx context.Context, fileID int64, message string) error

	// FindByFileID はファイルIDでジョブを取得する。見つからない場合はnilを返す。
	FindByFileID(ctx context.Context, fileID int64) (*model.ThumbnailJob, error)

	// DeleteFinishedBefore は指定日時より前に終端状態になったジョブを削除し、削除件数を返す。
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)

	// FailStaleProcessing は指定日時より前からprocessingのままのジョブをfailedにし、件数を返す。
	FailStaleProcessing(ctx context.Context, before time.Time, message string) (int64, error)
}
