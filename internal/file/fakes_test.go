package file

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/filekeep/internal/model"
	"github.com/hitoshi/filekeep/internal/storage"
)

// fakeFileRepo はrepository.FileRepositoryのインメモリ実装。
// created_at降順・id降順の並びはPostgreSQL実装と同じ。
type fakeFileRepo struct {
	mu        sync.Mutex
	files     map[int64]*model.File
	nextID    int64
	clock     time.Time
	createErr error
	calls     []string
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{
		files:  make(map[int64]*model.File),
		nextID: 1,
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *fakeFileRepo) Create(_ context.Context, f *model.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "files.Create")
	if r.createErr != nil {
		return r.createErr
	}
	f.ID = r.nextID
	r.nextID++
	f.CreatedAt = r.clock
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

// createAt は作成日時を指定してファイルを直接登録する。
func (r *fakeFileRepo) createAt(f *model.File, at time.Time) *model.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.ID = r.nextID
	r.nextID++
	f.CreatedAt = at
	cp := *f
	r.files[f.ID] = &cp
	return f
}

func (r *fakeFileRepo) FindByID(_ context.Context, id int64) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeFileRepo) FindByOwnerAndID(_ context.Context, ownerID string, id int64) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok && f.OwnerID == ownerID {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeFileRepo) matching(ownerID string, parentID int64) []*model.File {
	var out []*model.File
	for _, f := range r.files {
		if f.OwnerID == ownerID && f.ParentID == parentID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *fakeFileRepo) ListByOwnerAndParent(_ context.Context, ownerID string, parentID int64, limit, offset int) ([]*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.matching(ownerID, parentID)
	out := make([]*model.File, 0, limit)
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, all[i])
	}
	return out, nil
}

func (r *fakeFileRepo) CountByOwnerAndParent(_ context.Context, ownerID string, parentID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.matching(ownerID, parentID))), nil
}

func (r *fakeFileRepo) UpdateVisibility(_ context.Context, ownerID string, id int64, isPublic bool) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID {
		return nil, nil
	}
	f.IsPublic = isPublic
	cp := *f
	return &cp, nil
}

func (r *fakeFileRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.files)), nil
}

// fakeContentStore はstorage.Storeのインメモリ実装。
type fakeContentStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	seq     int
	saveErr error
	repo    *fakeFileRepo // 呼び出し順の記録先
}

func newFakeContentStore(repo *fakeFileRepo) *fakeContentStore {
	return &fakeContentStore{blobs: make(map[string][]byte), repo: repo}
}

func (s *fakeContentStore) Save(_ context.Context, data []byte) (model.ContentRef, error) {
	if s.repo != nil {
		s.repo.mu.Lock()
		s.repo.calls = append(s.repo.calls, "content.Save")
		s.repo.mu.Unlock()
	}
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ref := model.ContentRef(fmt.Sprintf("blob-%d", s.seq))
	s.blobs[string(ref)] = append([]byte(nil), data...)
	return ref, nil
}

func (s *fakeContentStore) SaveDerivative(_ context.Context, ref model.ContentRef, width int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref.DerivativeName(width)] = append([]byte(nil), data...)
	return nil
}

func (s *fakeContentStore) Read(_ context.Context, ref model.ContentRef, width int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := string(ref)
	if width != 0 {
		name = ref.DerivativeName(width)
	}
	data, ok := s.blobs[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// fakeJobQueue はJobQueueのインメモリ実装。
type fakeJobQueue struct {
	mu         sync.Mutex
	jobs       map[int64]*model.ThumbnailJob
	enqueueErr error
	findErr    error
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{jobs: make(map[int64]*model.ThumbnailJob)}
}

func (q *fakeJobQueue) Enqueue(_ context.Context, fileID int64, ownerID string) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[fileID] = &model.ThumbnailJob{FileID: fileID, OwnerID: ownerID, Status: model.JobStatusQueued}
	return nil
}

func (q *fakeJobQueue) FindByFileID(_ context.Context, fileID int64) (*model.ThumbnailJob, error) {
	if q.findErr != nil {
		return nil, q.findErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[fileID], nil
}

// fakeRecorder はRecorderの記録用実装。
type fakeRecorder struct {
	uploads         map[string]int
	enqueueFailures int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{uploads: make(map[string]int)}
}

func (r *fakeRecorder) RecordUpload(kind string) { r.uploads[kind]++ }
func (r *fakeRecorder) RecordEnqueueFailure()    { r.enqueueFailures++ }

var errBoom = errors.New("boom")

// testEnv はテスト対象のServiceと依存のフェイクをまとめたもの。
type testEnv struct {
	svc     *Service
	repo    *fakeFileRepo
	content *fakeContentStore
	jobs    *fakeJobQueue
	metrics *fakeRecorder
}

func newTestEnv() *testEnv {
	repo := newFakeFileRepo()
	content := newFakeContentStore(repo)
	jobs := newFakeJobQueue()
	rec := newFakeRecorder()
	return &testEnv{
		svc:     NewService(repo, content, jobs, rec, []int{500, 250, 100}),
		repo:    repo,
		content: content,
		jobs:    jobs,
		metrics: rec,
	}
}
