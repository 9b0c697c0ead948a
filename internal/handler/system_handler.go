package handler

import (
	"context"
	"net/http"
	"time"
)

// pingTimeout はストアの疎通確認1回あたりのタイムアウト。
const pingTimeout = 2 * time.Second

// Pinger はストアの疎通確認のインターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc は関数をPingerとして扱うアダプタ。
type PingFunc func(ctx context.Context) error

// Ping はf(ctx)を呼び出す。
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// UserCounter は登録ユーザー数を返すインターフェース。
type UserCounter interface {
	Count(ctx context.Context) (int64, error)
}

// FileCounter は全ファイル数を返すインターフェース。
type FileCounter interface {
	CountAll(ctx context.Context) (int64, error)
}

// SystemHandler は稼働状況と統計のHTTPハンドラー。
type SystemHandler struct {
	db    Pinger
	cache Pinger
	users UserCounter
	files FileCounter
}

// NewSystemHandler はSystemHandlerを生成する。
func NewSystemHandler(db, cache Pinger, users UserCounter, files FileCounter) *SystemHandler {
	return &SystemHandler{db: db, cache: cache, users: users, files: files}
}

type statusResponse struct {
	DB    bool `json:"db"`
	Cache bool `json:"cache"`
}

type statsResponse struct {
	Users int64 `json:"users"`
	Files int64 `json:"files"`
}

// Status は各ストアの疎通状況を返す。ストアが停止していても200を返す。
// GET /status
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.check(r.Context()))
}

// Health は全ストアが応答する場合のみ200、それ以外は503を返す。
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.check(r.Context())
	code := http.StatusOK
	if !st.DB || !st.Cache {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// Stats はユーザー数とファイル数を返す。
// GET /stats
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Count(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	files, err := h.files.CountAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Users: users, Files: files})
}

func (h *SystemHandler) check(ctx context.Context) statusResponse {
	return statusResponse{
		DB:    alive(ctx, h.db),
		Cache: alive(ctx, h.cache),
	}
}

func alive(ctx context.Context, p Pinger) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return p.Ping(ctx) == nil
}
