package thumbnail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/filekeep/internal/model"
)

// defaultMaxConcurrency はmaxConcurrencyが未指定の場合の同時処理数。
const defaultMaxConcurrency = 4

// JobClaimer はキューからジョブを取得するインターフェース。
type JobClaimer interface {
	Claim(ctx context.Context, limit int) ([]*model.ThumbnailJob, error)
}

// JobProcessor はジョブ1件を処理するインターフェース。
type JobProcessor interface {
	Process(ctx context.Context, job *model.ThumbnailJob) error
}

// Pool はジョブキューのポーリングと並列処理を行う。
// 一定間隔でqueued状態のジョブを取得し、semaphoreパターンで同時処理数を制限する。
type Pool struct {
	queue          JobClaimer
	processor      JobProcessor
	logger         *slog.Logger
	maxConcurrency int
}

// NewPool はPoolの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewPool(queue JobClaimer, processor JobProcessor, logger *slog.Logger, maxConcurrency int) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Pool{
		queue:          queue,
		processor:      processor,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はinterval間隔でキューをポーリングする。
// コンテキストがキャンセルされるまで実行を継続し、処理中のジョブの完了を待ってから戻る。
func (p *Pool) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("thumbnail pool started",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", p.maxConcurrency),
	)

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("failed to claim thumbnail jobs",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("thumbnail pool stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce は最大maxConcurrency件のジョブを取得して並列に処理し、処理件数を返す。
// 個々のジョブの失敗はログに記録し、戻り値には含めない。
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	jobs, err := p.queue.Claim(ctx, p.maxConcurrency)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	p.logger.Debug("claimed thumbnail jobs", slog.Int("job_count", len(jobs)))

	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}

		go func(j *model.ThumbnailJob) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.processor.Process(ctx, j); err != nil {
				p.logger.Error("thumbnail job failed",
					slog.Int64("file_id", j.FileID),
					slog.String("user_id", j.OwnerID),
					slog.String("error", err.Error()),
				)
			}
		}(job)
	}

	wg.Wait()
	return len(jobs), nil
}
