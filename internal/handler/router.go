package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/filekeep/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenValidator    middleware.TokenValidator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.StatusRecorder
	MetricsHandler    http.Handler
	Logger            *slog.Logger // nilの場合はslog.Default()

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface
	FileService FileServiceInterface
	System      *SystemHandler

	MaxUploadBytes int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → Metrics → SecurityHeaders → CORS → (Session → RateLimit)
//
// /users と /connect は認証前のためIP単位のレート制限のみを適用する。
// /files/{id}/data はトークン任意で、未認証でも公開ファイルを取得できる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	fileHandler := NewFileHandler(deps.FileService, deps.MaxUploadBytes)

	// --- 認証不要のルート ---
	r.Get("/status", deps.System.Status)
	r.Get("/stats", deps.System.Stats)
	r.Get("/health", deps.System.Health)
	r.Handle("/metrics", deps.MetricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Post("/users", userHandler.Register)
		r.Get("/connect", authHandler.Connect)
	})

	session := middleware.NewSessionMiddleware(deps.TokenValidator)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(session)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/disconnect", authHandler.Disconnect)
		r.Get("/users/me", authHandler.Me)
	})

	r.Route("/files", func(r chi.Router) {
		r.With(middleware.NewOptionalSessionMiddleware(deps.TokenValidator)).
			Get("/{id}/data", fileHandler.Data)

		r.Group(func(r chi.Router) {
			r.Use(session)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/", fileHandler.Upload)
			r.Get("/", fileHandler.List)
			r.Get("/{id}", fileHandler.Get)
			r.Put("/{id}/publish", fileHandler.Publish)
			r.Put("/{id}/unpublish", fileHandler.Unpublish)
			r.Get("/{id}/thumbnails", fileHandler.Thumbnails)
		})
	})

	return r
}
