package model

import "time"

// JobStatus はサムネイル生成ジョブの状態を表す。
// queued → processing → completed | failed の順に遷移し、completed と failed は終端状態。
type JobStatus string

const (
	// JobStatusQueued はキューに投入され、ワーカーの取得待ちの状態。
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing はワーカーが処理中の状態。
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted は全サイズのサムネイル生成に成功した状態。
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed は1つ以上のサイズで失敗した、または対象ファイルが存在しない状態。
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal は終端状態かどうかを返す。
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ThumbnailJob は画像ファイル1件に対するサムネイル生成ジョブ。
// ファイルIDをキーとして状態を照会できる。
type ThumbnailJob struct {
	FileID       int64
	OwnerID      string
	Status       JobStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
