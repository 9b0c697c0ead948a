package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/filekeep/internal/model"
)

const jobColumns = `file_id, owner_id, status, error_message, created_at, updated_at`

// PostgresThumbnailJobRepo はthumbnail_jobsテーブルをジョブキューとして扱うリポジトリ。
type PostgresThumbnailJobRepo struct {
	db *sql.DB
}

// NewPostgresThumbnailJobRepo はPostgresThumbnailJobRepoを生成する。
func NewPostgresThumbnailJobRepo(db *sql.DB) *PostgresThumbnailJobRepo {
	return &PostgresThumbnailJobRepo{db: db}
}

// Enqueue はジョブを登録する。既存ジョブはqueuedに戻し、エラーメッセージを消去する。
func (r *PostgresThumbnailJobRepo) Enqueue(ctx context.Context, fileID int64, ownerID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO thumbnail_jobs (file_id, owner_id, status)
		 VALUES ($1, $2, 'queued')
		 ON CONFLICT (file_id) DO UPDATE SET
		    status = 'queued',
		    error_message = '',
		    updated_at = now()`,
		fileID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue thumbnail job: %w", err)
	}
	return nil
}

// Claim はqueued状態のジョブを古い順に最大limit件取得し、processingへ遷移させる。
// 取得と遷移を1文で行うため、ロック中の行は他のワーカーから見えず二重配送されない。
func (r *PostgresThumbnailJobRepo) Claim(ctx context.Context, limit int) ([]*model.ThumbnailJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE thumbnail_jobs SET status = 'processing', updated_at = now()
		 WHERE file_id IN (
		    SELECT file_id FROM thumbnail_jobs
		    WHERE status = 'queued'
		    ORDER BY created_at ASC, file_id ASC
		    LIMIT $1
		    FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim thumbnail jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.ThumbnailJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thumbnail job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thumbnail jobs: %w", err)
	}
	return jobs, nil
}

// MarkCompleted はジョブをcompletedに遷移させる。
func (r *PostgresThumbnailJobRepo) MarkCompleted(ctx context.Context, fileID int64) error {
	return r.finish(ctx, fileID, model.JobStatusCompleted, "")
}

// MarkFailed はジョブをfailedに遷移させる。
func (r *PostgresThumbnailJobRepo) MarkFailed(ctx context.Context, fileID int64, message string) error {
	return r.finish(ctx, fileID, model.JobStatusFailed, message)
}

func (r *PostgresThumbnailJobRepo) finish(ctx context.Context, fileID int64, status model.JobStatus, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE thumbnail_jobs SET status = $2, error_message = $3, updated_at = now()
		 WHERE file_id = $1`,
		fileID, string(status), message,
	)
	if err != nil {
		return fmt.Errorf("failed to mark thumbnail job %s: %w", status, err)
	}
	return nil
}

// FindByFileID はファイルIDでジョブを取得する。見つからない場合はnilを返す。
func (r *PostgresThumbnailJobRepo) FindByFileID(ctx context.Context, fileID int64) (*model.ThumbnailJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM thumbnail_jobs WHERE file_id = $1`,
		fileID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find thumbnail job: %w", err)
	}
	return job, nil
}

// DeleteFinishedBefore は終端状態かつbefore以前に更新されたジョブを削除する。
func (r *PostgresThumbnailJobRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM thumbnail_jobs
		 WHERE status IN ('completed', 'failed') AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished thumbnail jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// FailStaleProcessing はbefore以前から処理中のままのジョブをfailedに遷移させる。
// ワーカーが処理中に停止したジョブを終端状態へ回収するために使う。
func (r *PostgresThumbnailJobRepo) FailStaleProcessing(ctx context.Context, before time.Time, message string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE thumbnail_jobs SET status = 'failed', error_message = $2, updated_at = now()
		 WHERE status = 'processing' AND updated_at < $1`,
		before, message,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale thumbnail jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func scanJob(row rowScanner) (*model.ThumbnailJob, error) {
	job := &model.ThumbnailJob{}
	var status string
	if err := row.Scan(&job.FileID, &job.OwnerID, &status, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	return job, nil
}

// compile-time interface check
var _ ThumbnailJobRepository = (*PostgresThumbnailJobRepo)(nil)
