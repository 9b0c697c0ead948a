// Package thumbnail は画像アップロード後のサムネイル生成パイプラインを提供する。
// thumbnail_jobsテーブルからジョブを取得し、設定された各幅のサムネイルを生成する。
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"time"

	"github.com/hitoshi/filekeep/internal/metrics"
	"github.com/hitoshi/filekeep/internal/model"
	"github.com/hitoshi/filekeep/internal/storage"
)

// finishTimeout はジョブを終端状態へ書き込む処理に許す時間。
const finishTimeout = 5 * time.Second

// ErrFileNotFound はジョブ対象のファイルが存在しないことを表す。再試行しても成功しない。
var ErrFileNotFound = errors.New("file not found")

// FileFinder は所有者スコープでファイルを取得するインターフェース。
type FileFinder interface {
	FindByOwnerAndID(ctx context.Context, ownerID string, id int64) (*model.File, error)
}

// JobUpdater はジョブを終端状態へ遷移させるインターフェース。
type JobUpdater interface {
	MarkCompleted(ctx context.Context, fileID int64) error
	MarkFailed(ctx context.Context, fileID int64, message string) error
}

// Recorder はジョブ処理のメトリクス記録インターフェース。
type Recorder interface {
	RecordJobOutcome(outcome string)
	RecordDerivativeFailure(width int)
	RecordJobLatency(duration time.Duration)
}

// Processor はジョブ1件分のサムネイル生成を行う。
type Processor struct {
	files   FileFinder
	content storage.Store
	jobs    JobUpdater
	metrics Recorder
	logger  *slog.Logger
	widths  []int
	timeout time.Duration
	scale   func(src image.Image, format string, width int) ([]byte, error)
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
// timeoutはジョブ1件あたりの処理時間の上限。
func NewProcessor(
	files FileFinder,
	content storage.Store,
	jobs JobUpdater,
	metrics Recorder,
	logger *slog.Logger,
	widths []int,
	timeout time.Duration,
) *Processor {
	return &Processor{
		files:   files,
		content: content,
		jobs:    jobs,
		metrics: metrics,
		logger:  logger,
		widths:  slices.Clone(widths),
		timeout: timeout,
		scale:   Scale,
	}
}

// Process はジョブを処理し、completedまたはfailedに遷移させる。
// 各幅は独立に生成し、1つでも失敗した場合は全幅の試行後にfailedとする。
// 戻り値はジョブの失敗理由。状態の更新自体に失敗した場合はそのエラーも含む。
func (p *Processor) Process(ctx context.Context, job *model.ThumbnailJob) error {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	jobErr := p.generate(jobCtx, job)
	p.metrics.RecordJobLatency(time.Since(start))

	// タイムアウトやシャットダウンでctxが終了していても終端状態を書き込む
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer finishCancel()

	if jobErr != nil {
		p.metrics.RecordJobOutcome(metrics.OutcomeFailed)
		if err := p.jobs.MarkFailed(finishCtx, job.FileID, jobErr.Error()); err != nil {
			return errors.Join(jobErr, fmt.Errorf("failed to mark job failed: %w", err))
		}
		return jobErr
	}

	p.metrics.RecordJobOutcome(metrics.OutcomeCompleted)
	if err := p.jobs.MarkCompleted(finishCtx, job.FileID); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	p.logger.Info("thumbnails generated",
		slog.Int64("file_id", job.FileID),
		slog.Int("widths_count", len(p.widths)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

type decodedImage struct {
	img    image.Image
	format string
}

// generate は元画像を1回だけデコードし、全幅のサムネイルを保存する。
// デコードと縮小はctxの期限で打ち切る。
func (p *Processor) generate(ctx context.Context, job *model.ThumbnailJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := p.files.FindByOwnerAndID(ctx, job.OwnerID, job.FileID)
	if err != nil {
		return fmt.Errorf("failed to find file: %w", err)
	}
	if f == nil || f.Content == nil {
		return ErrFileNotFound
	}
	ref := *f.Content

	original, err := p.content.Read(ctx, ref, 0)
	if err != nil {
		return fmt.Errorf("failed to read original: %w", err)
	}

	src, err := runWithContext(ctx, func() (decodedImage, error) {
		img, format, err := Decode(original)
		return decodedImage{img: img, format: format}, err
	})

	var errs []error
	for _, width := range p.widths {
		werr := err
		if werr == nil {
			werr = p.derive(ctx, ref, src, width)
		}
		if werr != nil {
			p.metrics.RecordDerivativeFailure(width)
			p.logger.Error("thumbnail generation failed",
				slog.Int64("file_id", job.FileID),
				slog.String("content_ref", string(ref)),
				slog.Int("width", width),
				slog.String("error", werr.Error()),
			)
			errs = append(errs, fmt.Errorf("width %d: %w", width, werr))
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) derive(ctx context.Context, ref model.ContentRef, src decodedImage, width int) error {
	data, err := runWithContext(ctx, func() ([]byte, error) {
		return p.scale(src.img, src.format, width)
	})
	if err != nil {
		return err
	}
	return p.content.SaveDerivative(ctx, ref, width, data)
}

// runWithContext はfnを別goroutineで実行し、fnの完了とctxの終了の早い方で戻る。
// ctxが先に終了した場合もfnは最後まで実行されるが、結果は破棄される。
func runWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
