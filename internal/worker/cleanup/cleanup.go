// Package cleanup はサムネイルジョブ行の保守ジョブを提供する。
// 保持期間（デフォルト30日）を超過したcompleted/failedのジョブ行を日次バッチで削除し、
// 停止したワーカーが残したprocessing行をfailedへ回収する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// defaultRetentionDays はジョブ行の保持日数のデフォルト値。
const defaultRetentionDays = 30

// staleJobMessage は回収したジョブに記録するエラーメッセージ。
const staleJobMessage = "job interrupted: worker stopped while processing"

// JobJanitor はジョブ行の保守に必要な操作のインターフェース。
type JobJanitor interface {
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
	FailStaleProcessing(ctx context.Context, before time.Time, message string) (int64, error)
}

// CleanupJob は保持期間を超過したジョブ行の自動削除ジョブ。
// 処理中・待機中のジョブは削除しないため、何度実行しても安全。
type CleanupJob struct {
	jobs          JobJanitor
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int           // ジョブ行の保持日数（デフォルト: 30）
	StaleAfter    time.Duration // この時間を超えてprocessingのままのジョブを回収する。0以下なら回収しない
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(jobs JobJanitor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		jobs:          jobs,
		logger:        logger,
		now:           time.Now,
		RetentionDays: defaultRetentionDays,
	}
}

// Run はupdated_atがRetentionDays日前より古い終端状態のジョブを削除する。
// 削除対象がない場合もエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.jobs.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("job cleanup failed",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("failed to clean up thumbnail jobs: %w", err)
	}

	j.logger.Info("job cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// RecoverStale はStaleAfterを超えてprocessingのままのジョブをfailedにする。
// ジョブのタイムアウトは処理時間を上限づけるため、これを超えて残る行は処理者が失われている。
func (j *CleanupJob) RecoverStale(ctx context.Context) error {
	if j.StaleAfter <= 0 {
		return nil
	}
	cutoff := j.now().Add(-j.StaleAfter)

	n, err := j.jobs.FailStaleProcessing(ctx, cutoff, staleJobMessage)
	if err != nil {
		return fmt.Errorf("failed to recover stale thumbnail jobs: %w", err)
	}
	if n > 0 {
		j.logger.Warn("stale thumbnail jobs marked failed",
			slog.Int64("count", n),
			slog.Duration("stale_after", j.StaleAfter),
		)
	}
	return nil
}
