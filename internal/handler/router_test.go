package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/filekeep/internal/auth"
	"github.com/hitoshi/filekeep/internal/cache"
	"github.com/hitoshi/filekeep/internal/file"
	"github.com/hitoshi/filekeep/internal/metrics"
	"github.com/hitoshi/filekeep/internal/middleware"
	"github.com/hitoshi/filekeep/internal/model"
	"github.com/hitoshi/filekeep/internal/repository"
	"github.com/hitoshi/filekeep/internal/storage"
	"github.com/hitoshi/filekeep/internal/user"
)

// --- インメモリリポジトリ ---

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	seq   int
}

func (r *memoryUserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	r.seq++
	u.ID = fmt.Sprintf("user-%d", r.seq)
	u.CreatedAt = time.Now()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryUserRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

type memoryFileRepo struct {
	mu    sync.Mutex
	files map[int64]*model.File
	seq   int64
}

func (r *memoryFileRepo) Create(_ context.Context, f *model.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	f.ID = r.seq
	f.CreatedAt = time.Now()
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *memoryFileRepo) FindByID(_ context.Context, id int64) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryFileRepo) FindByOwnerAndID(ctx context.Context, ownerID string, id int64) (*model.File, error) {
	f, err := r.FindByID(ctx, id)
	if f == nil || f.OwnerID != ownerID {
		return nil, err
	}
	return f, nil
}

func (r *memoryFileRepo) ListByOwnerAndParent(_ context.Context, ownerID string, parentID int64, limit, offset int) ([]*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.File
	for _, f := range r.files {
		if f.OwnerID == ownerID && f.ParentID == parentID {
			cp := *f
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (r *memoryFileRepo) CountByOwnerAndParent(ctx context.Context, ownerID string, parentID int64) (int64, error) {
	files, err := r.ListByOwnerAndParent(ctx, ownerID, parentID, 1<<30, 0)
	return int64(len(files)), err
}

func (r *memoryFileRepo) UpdateVisibility(_ context.Context, ownerID string, id int64, isPublic bool) (*model.File, error) {
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

func (r *memoryFileRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.files)), nil
}

type memoryJobQueue struct {
	mu   sync.Mutex
	jobs map[int64]*model.ThumbnailJob
}

func (q *memoryJobQueue) Enqueue(_ context.Context, fileID int64, ownerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[fileID] = &model.ThumbnailJob{FileID: fileID, OwnerID: ownerID, Status: model.JobStatusQueued}
	return nil
}

func (q *memoryJobQueue) FindByFileID(_ context.Context, fileID int64) (*model.ThumbnailJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[fileID], nil
}

// --- テストサーバー ---

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	tokens, err := cache.Open("")
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { tokens.Close() })

	content, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	users := &memoryUserRepo{users: make(map[string]*model.User)}
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	userService := user.NewService(users)
	authService := auth.NewService(users, tokens, auth.ServiceConfig{SessionMaxAge: 3600})
	fileService := file.NewService(
		&memoryFileRepo{files: make(map[int64]*model.File)},
		content,
		&memoryJobQueue{jobs: make(map[int64]*model.ThumbnailJob)},
		collector,
		[]int{500, 250, 100},
	)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		TokenValidator:    authService,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		AuthService:       authService,
		UserService:       userService,
		FileService:       fileService,
		System:            NewSystemHandler(tokens, tokens, userService, fileService),
		MaxUploadBytes:    1 << 20,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
}

func (c apiClient) do(method, path, token string, body any, header map[string]string) *http.Response {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("failed to marshal body: %v", err)
		}
		r = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, c.srv.URL+path, r)
	if err != nil {
		c.t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := c.srv.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d; body=%s",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

// TestRouter_FileLifecycle は登録からログアウトまでの一連の操作をHTTP経由で検証する。
func TestRouter_FileLifecycle(t *testing.T) {
	c := apiClient{t: t, srv: newTestServer(t)}

	// 登録
	resp := c.do(http.MethodPost, "/users", "", map[string]string{"email": "bob@dylan.com", "password": "toto1234!"}, nil)
	expectStatus(t, resp, http.StatusCreated)
	var registered userResponse
	decodeInto(t, resp, &registered)

	// 重複登録
	resp = c.do(http.MethodPost, "/users", "", map[string]string{"email": "bob@dylan.com", "password": "x"}, nil)
	expectStatus(t, resp, http.StatusBadRequest)

	// ログイン
	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte("bob@dylan.com:toto1234!"))
	resp = c.do(http.MethodGet, "/connect", "", nil, map[string]string{"Authorization": basic})
	expectStatus(t, resp, http.StatusOK)
	var tok tokenResponse
	decodeInto(t, resp, &tok)
	if tok.Token == "" {
		t.Fatal("token should not be empty")
	}

	resp = c.do(http.MethodGet, "/users/me", tok.Token, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	var me userResponse
	decodeInto(t, resp, &me)
	if me.ID != registered.ID {
		t.Errorf("me.ID = %q, want %q", me.ID, registered.ID)
	}

	// フォルダとファイルの作成
	resp = c.do(http.MethodPost, "/files", tok.Token, map[string]any{"name": "images", "type": "folder"}, nil)
	expectStatus(t, resp, http.StatusCreated)
	var folder fileResponse
	decodeInto(t, resp, &folder)

	resp = c.do(http.MethodPost, "/files", tok.Token, map[string]any{
		"name":     "hello.txt",
		"type":     "file",
		"parentId": fmt.Sprint(folder.ID),
		"data":     base64.StdEncoding.EncodeToString([]byte("Hello Webstack!\n")),
	}, nil)
	expectStatus(t, resp, http.StatusCreated)
	var created fileResponse
	decodeInto(t, resp, &created)
	if created.ParentID != folder.ID || created.IsPublic {
		t.Errorf("unexpected file: %+v", created)
	}

	// 一覧
	resp = c.do(http.MethodGet, fmt.Sprintf("/files?parentId=%d", folder.ID), tok.Token, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-Total-Count"); got != "1" {
		t.Errorf("X-Total-Count = %q, want 1", got)
	}
	var listed []fileResponse
	decodeInto(t, resp, &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Errorf("listed = %+v", listed)
	}

	dataPath := fmt.Sprintf("/files/%d/data", created.ID)

	// 所有者は非公開ファイルを取得でき、未認証では404
	resp = c.do(http.MethodGet, dataPath, tok.Token, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Hello Webstack!\n" {
		t.Errorf("data = %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	expectStatus(t, c.do(http.MethodGet, dataPath, "", nil, nil), http.StatusNotFound)

	// 公開後は未認証でも取得できる
	resp = c.do(http.MethodPut, fmt.Sprintf("/files/%d/publish", created.ID), tok.Token, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	var published fileResponse
	decodeInto(t, resp, &published)
	if !published.IsPublic {
		t.Error("file should be public after publish")
	}
	expectStatus(t, c.do(http.MethodGet, dataPath, "", nil, nil), http.StatusOK)

	// フォルダは本体を持たない
	expectStatus(t, c.do(http.MethodGet, fmt.Sprintf("/files/%d/data", folder.ID), tok.Token, nil, nil), http.StatusBadRequest)

	// 統計
	resp = c.do(http.MethodGet, "/stats", "", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	var stats statsResponse
	decodeInto(t, resp, &stats)
	if stats.Users != 1 || stats.Files != 2 {
		t.Errorf("stats = %+v, want users=1 files=2", stats)
	}

	// ログアウトは1回だけ成功する
	expectStatus(t, c.do(http.MethodGet, "/disconnect", tok.Token, nil, nil), http.StatusNoContent)
	expectStatus(t, c.do(http.MethodGet, "/disconnect", tok.Token, nil, nil), http.StatusUnauthorized)
	expectStatus(t, c.do(http.MethodGet, "/files", tok.Token, nil, nil), http.StatusUnauthorized)
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	c := apiClient{t: t, srv: newTestServer(t)}

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/disconnect"},
		{http.MethodGet, "/users/me"},
		{http.MethodPost, "/files"},
		{http.MethodGet, "/files"},
		{http.MethodGet, "/files/1"},
		{http.MethodPut, "/files/1/publish"},
		{http.MethodPut, "/files/1/unpublish"},
		{http.MethodGet, "/files/1/thumbnails"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := c.do(tt.method, tt.path, "bogus-token", nil, nil)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestRouter_StatusAndMetrics(t *testing.T) {
	c := apiClient{t: t, srv: newTestServer(t)}

	resp := c.do(http.MethodGet, "/status", "", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	var st statusResponse
	decodeInto(t, resp, &st)
	if !st.DB || !st.Cache {
		t.Errorf("status = %+v, want all up", st)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}

	resp = c.do(http.MethodGet, "/metrics", "", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "filekeep_http_responses_total") {
		t.Errorf("metrics should include http responses, got:\n%s", body)
	}
}
