package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/filekeep/internal/middleware"
	"github.com/hitoshi/filekeep/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, authorizationHeader string) (*model.Session, error)
	RevokeSession(ctx context.Context, token string) error
	GetCurrentUser(ctx context.Context, token string) (*model.User, error)
}

// AuthHandler はログイン・ログアウト・ログインユーザー取得のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type tokenResponse struct {
	Token string `json:"token"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Connect はBasic認証でログインし、セッショントークンを返す。
// GET /connect
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: session.Token})
}

// Disconnect はX-Tokenのセッションを破棄する。
// GET /disconnect
func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokeSession(r.Context(), r.Header.Get(middleware.TokenHeader)); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me はX-Tokenに対応するユーザーを返す。
// GET /users/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetCurrentUser(r.Context(), r.Header.Get(middleware.TokenHeader))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Email: user.Email})
}
