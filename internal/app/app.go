package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/filekeep/internal/auth"
	"github.com/hitoshi/filekeep/internal/cache"
	"github.com/hitoshi/filekeep/internal/config"
	"github.com/hitoshi/filekeep/internal/database"
	"github.com/hitoshi/filekeep/internal/file"
	"github.com/hitoshi/filekeep/internal/handler"
	"github.com/hitoshi/filekeep/internal/logger"
	"github.com/hitoshi/filekeep/internal/metrics"
	"github.com/hitoshi/filekeep/internal/middleware"
	"github.com/hitoshi/filekeep/internal/repository"
	"github.com/hitoshi/filekeep/internal/storage"
	"github.com/hitoshi/filekeep/internal/user"
	"github.com/hitoshi/filekeep/internal/worker/cleanup"
	"github.com/hitoshi/filekeep/internal/worker/thumbnail"
)

const (
	// dbPingTimeout は起動時と/statusでのDB疎通確認のタイムアウト。
	dbPingTimeout = 5 * time.Second
	// cacheGCInterval はキャッシュの値ログGCの実行間隔。
	cacheGCInterval = 5 * time.Minute
	// cleanupInterval は終了済みジョブ削除の実行間隔。
	cleanupInterval = 24 * time.Hour
	// staleCheckInterval は処理中のまま残ったジョブの回収間隔。
	staleCheckInterval = time.Minute
	// staleJobGrace はジョブタイムアウトに加えて回収までに待つ時間。終端状態の書き込み時間を含む。
	staleJobGrace = time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openContentStore は設定されたバックエンドのContent Storeを生成する。
func openContentStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(ctx, client, cfg.S3Bucket, cfg.S3KeyPrefix)
	default:
		return storage.NewLocalStore(cfg.StorageRoot)
	}
}

// newRegistry はプロセス標準のコレクターを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. セッションキャッシュ
	tokens, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer tokens.Close()
	go tokens.RunGC(ctx, cacheGCInterval)

	// 3. Content Store
	content, err := openContentStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	fileRepo := repository.NewPostgresFileRepo(db)
	jobRepo := repository.NewPostgresThumbnailJobRepo(db)

	// 5. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 6. ドメインサービスの初期化
	userService := user.NewService(userRepo)
	authService := auth.NewService(userRepo, tokens, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})
	fileService := file.NewService(fileRepo, content, jobRepo, collector, cfg.ThumbnailWidths)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	defer rateLimiter.Stop()

	dbPinger := handler.PingFunc(func(ctx context.Context) error {
		return database.Ping(ctx, db, dbPingTimeout)
	})

	router := handler.NewRouter(&handler.RouterDeps{
		TokenValidator:    authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		Logger:            slog.Default(),

		AuthService: authService,
		UserService: userService,
		FileService: fileService,
		System:      handler.NewSystemHandler(dbPinger, tokens, userService, fileService),

		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// サムネイル生成プールと終了済みジョブのクリーンアップを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. Content Store
	content, err := openContentStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}

	// 3. リポジトリとメトリクス
	fileRepo := repository.NewPostgresFileRepo(db)
	jobRepo := repository.NewPostgresThumbnailJobRepo(db)
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 4. サムネイル生成プール
	processor := thumbnail.NewProcessor(
		fileRepo, content, jobRepo, collector,
		slog.Default(), cfg.ThumbnailWidths, cfg.ThumbnailJobTimeout,
	)
	pool := thumbnail.NewPool(jobRepo, processor, slog.Default(), cfg.ThumbnailMaxConcurrent)

	// 5. クリーンアップジョブ
	cleanupJob := cleanup.NewCleanupJob(jobRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.JobRetentionDays
	cleanupJob.StaleAfter = cfg.ThumbnailJobTimeout + staleJobGrace

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// ジョブの結果はメトリクスでのみ観測できるため、ワーカーも/metricsを公開する
	monitorRouter := newWorkerRouter(reg, func(ctx context.Context) error {
		return database.Ping(ctx, db, dbPingTimeout)
	})
	monitor := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      monitorRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := monitor.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker monitor listen error", slog.String("error", err.Error()))
		}
	}()
	defer monitor.Close()

	slog.Info("worker starting",
		slog.Duration("poll_interval", cfg.ThumbnailPollInterval),
		slog.Int("max_concurrent", cfg.ThumbnailMaxConcurrent),
		slog.Any("widths", cfg.ThumbnailWidths),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go runPeriodically(ctx, cleanupInterval, func(ctx context.Context) {
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	})

	// 停止したワーカーが残したprocessing行を定期的にfailedへ回収
	go runPeriodically(ctx, staleCheckInterval, func(ctx context.Context) {
		if err := cleanupJob.RecoverStale(ctx); err != nil {
			slog.Error("stale job recovery failed", slog.String("error", err.Error()))
		}
	})

	// サムネイル生成プールをメインgoroutineで実行（ブロッキング）
	pool.Start(ctx, cfg.ThumbnailPollInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerRouter はワーカープロセスの監視用ルーターを返す。
// /healthはDBに到達できる場合のみ200を返す。
func newWorkerRouter(gatherer prometheus.Gatherer, pingDB handler.PingFunc) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(gatherer))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pingDB(r.Context()); err != nil {
			slog.Warn("worker health check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// runPeriodically は起動直後に1回、その後interval間隔でfnを実行する。ctxのキャンセルで終了する。
func runPeriodically(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
