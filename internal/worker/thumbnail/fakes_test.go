package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/filekeep/internal/model"
	"github.com/hitoshi/filekeep/internal/storage"
)

// mockFileFinder はFileFinderのテスト用モック。
type mockFileFinder struct {
	findFunc func(ctx context.Context, ownerID string, id int64) (*model.File, error)
}

func (m *mockFileFinder) FindByOwnerAndID(ctx context.Context, ownerID string, id int64) (*model.File, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, ownerID, id)
	}
	return nil, nil
}

// memoryContent はstorage.Storeのインメモリ実装。
type memoryContent struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	saveCount map[string]int
	failWidth int
}

func newMemoryContent() *memoryContent {
	return &memoryContent{blobs: make(map[string][]byte), saveCount: make(map[string]int)}
}

func (m *memoryContent) Save(_ context.Context, data []byte) (model.ContentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := model.ContentRef("orig")
	m.blobs[string(ref)] = data
	return ref, nil
}

func (m *memoryContent) SaveDerivative(_ context.Context, ref model.ContentRef, width int, data []byte) error {
	if width == m.failWidth {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := ref.DerivativeName(width)
	m.blobs[name] = data
	m.saveCount[name]++
	return nil
}

func (m *memoryContent) Read(_ context.Context, ref model.ContentRef, width int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := string(ref)
	if width != 0 {
		name = ref.DerivativeName(width)
	}
	data, ok := m.blobs[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memoryContent) derivativeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saveCount)
}

// memoryJobs はJobUpdaterのインメモリ実装。
// database/sqlと同様に、終了済みのctxでは書き込まずにctx.Err()を返す。
type memoryJobs struct {
	mu       sync.Mutex
	status   map[int64]model.JobStatus
	messages map[int64]string
	markErr  error
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{status: make(map[int64]model.JobStatus), messages: make(map[int64]string)}
}

func (m *memoryJobs) MarkCompleted(ctx context.Context, fileID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.markErr != nil {
		return m.markErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[fileID] = model.JobStatusCompleted
	m.messages[fileID] = ""
	return nil
}

func (m *memoryJobs) MarkFailed(ctx context.Context, fileID int64, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.markErr != nil {
		return m.markErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[fileID] = model.JobStatusFailed
	m.messages[fileID] = message
	return nil
}

// fakeRecorder はRecorderの記録用実装。
type fakeRecorder struct {
	mu                 sync.Mutex
	outcomes           map[string]int
	derivativeFailures map[int]int
	latencies          int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{outcomes: make(map[string]int), derivativeFailures: make(map[int]int)}
}

func (r *fakeRecorder) RecordJobOutcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *fakeRecorder) RecordDerivativeFailure(width int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.derivativeFailures[width]++
}

func (r *fakeRecorder) RecordJobLatency(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies++
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
