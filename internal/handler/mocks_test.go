package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/filekeep/internal/file"
	"github.com/hitoshi/filekeep/internal/middleware"
	"github.com/hitoshi/filekeep/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	authenticateFn   func(ctx context.Context, header string) (*model.Session, error)
	revokeSessionFn  func(ctx context.Context, token string) error
	getCurrentUserFn func(ctx context.Context, token string) (*model.User, error)
}

func (m *mockAuthService) Authenticate(ctx context.Context, header string) (*model.Session, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, header)
	}
	return nil, model.NewUnauthorizedError()
}

func (m *mockAuthService) RevokeSession(ctx context.Context, token string) error {
	if m.revokeSessionFn != nil {
		return m.revokeSessionFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, token string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, token)
	}
	return nil, model.NewUnauthorizedError()
}

type mockUserService struct {
	registerFn func(ctx context.Context, email, password string) (*model.User, error)
}

func (m *mockUserService) Register(ctx context.Context, email, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return nil, nil
}

type mockFileService struct {
	createFn          func(ctx context.Context, in file.CreateInput) (*model.File, error)
	listFn            func(ctx context.Context, ownerID string, parentID int64, page int) ([]*model.File, error)
	countFn           func(ctx context.Context, ownerID string, parentID int64) (int64, error)
	getByIDFn         func(ctx context.Context, ownerID string, fileID int64) (*model.File, error)
	setVisibilityFn   func(ctx context.Context, ownerID string, fileID int64, isPublic bool) (*model.File, error)
	getRawDataFn      func(ctx context.Context, requesterID string, fileID int64, width int) ([]byte, string, error)
	thumbnailStatusFn func(ctx context.Context, ownerID string, fileID int64) (*model.ThumbnailJob, error)
}

func (m *mockFileService) Create(ctx context.Context, in file.CreateInput) (*model.File, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return nil, nil
}

func (m *mockFileService) List(ctx context.Context, ownerID string, parentID int64, page int) ([]*model.File, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID, parentID, page)
	}
	return nil, nil
}

func (m *mockFileService) Count(ctx context.Context, ownerID string, parentID int64) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, ownerID, parentID)
	}
	return 0, nil
}

func (m *mockFileService) GetByID(ctx context.Context, ownerID string, fileID int64) (*model.File, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, ownerID, fileID)
	}
	return nil, model.NewNotFoundError()
}

func (m *mockFileService) SetVisibility(ctx context.Context, ownerID string, fileID int64, isPublic bool) (*model.File, error) {
	if m.setVisibilityFn != nil {
		return m.setVisibilityFn(ctx, ownerID, fileID, isPublic)
	}
	return nil, model.NewNotFoundError()
}

func (m *mockFileService) GetRawData(ctx context.Context, requesterID string, fileID int64, width int) ([]byte, string, error) {
	if m.getRawDataFn != nil {
		return m.getRawDataFn(ctx, requesterID, fileID, width)
	}
	return nil, "", model.NewNotFoundError()
}

func (m *mockFileService) ThumbnailStatus(ctx context.Context, ownerID string, fileID int64) (*model.ThumbnailJob, error) {
	if m.thumbnailStatusFn != nil {
		return m.thumbnailStatusFn(ctx, ownerID, fileID)
	}
	return nil, model.NewNotFoundError()
}

// --- ヘルパー ---

// withUserID はテスト用にユーザーIDをコンテキストに注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
