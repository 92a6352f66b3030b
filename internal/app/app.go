package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/gamewatch/internal/config"
	"github.com/hitoshi/gamewatch/internal/database"
	"github.com/hitoshi/gamewatch/internal/follow"
	"github.com/hitoshi/gamewatch/internal/handler"
	"github.com/hitoshi/gamewatch/internal/logger"
	"github.com/hitoshi/gamewatch/internal/metrics"
	"github.com/hitoshi/gamewatch/internal/middleware"
	"github.com/hitoshi/gamewatch/internal/news"
	"github.com/hitoshi/gamewatch/internal/notification"
	"github.com/hitoshi/gamewatch/internal/repository"
	"github.com/hitoshi/gamewatch/internal/security"
	"github.com/hitoshi/gamewatch/internal/steam"
	syncpkg "github.com/hitoshi/gamewatch/internal/sync"
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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// services はserveとworkerで共有するコアサービス群。
type services struct {
	userRepo    repository.UserRepository
	gameRepo    repository.GameRepository
	steamClient *steam.Client
	followSvc   *follow.Service
	notifySvc   *notification.Service
	syncSvc     *syncpkg.Service
	collector   *metrics.Collector
	registry    *prometheus.Registry
}

// buildServices はDB接続からコアサービス群をワイヤリングする。
func buildServices(cfg *config.Config, db *sql.DB) *services {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	userRepo := repository.NewPostgresUserRepo(db)
	gameRepo := repository.NewPostgresGameRepo(db)

	steamClient := steam.NewClient(
		cfg.SteamAPIKey,
		&http.Client{Timeout: cfg.SteamTimeout},
		rate.NewLimiter(rate.Limit(cfg.SteamRateLimit), cfg.SteamRateBurst),
		collector,
		slog.Default(),
	)

	followSvc := follow.NewService(userRepo, gameRepo, slog.Default())

	fcmTransport := notification.NewFCMTransport(
		cfg.FCMEndpoint, cfg.FCMServerKey,
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(),
	)
	notifySvc := notification.NewService(userRepo, gameRepo, fcmTransport, collector, slog.Default())

	syncSvc := syncpkg.NewService(
		userRepo, steamClient, followSvc, notifySvc,
		collector, slog.Default(), cfg.SyncCooldown,
	)

	return &services{
		userRepo:    userRepo,
		gameRepo:    gameRepo,
		steamClient: steamClient,
		followSvc:   followSvc,
		notifySvc:   notifySvc,
		syncSvc:     syncSvc,
		collector:   collector,
		registry:    registry,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. コアサービスのワイヤリング
	svcs := buildServices(cfg, db)

	// 3. 診断用スクレイパーの初期化
	scraper := steam.NewScraper(&http.Client{Timeout: cfg.SteamTimeout}, slog.Default())

	// 4. レート制限の構成（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SyncRate = rate.Limit(float64(cfg.RateLimitSync) / 60.0)
	rateLimiterCfg.SyncBurst = cfg.RateLimitSync
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		DB:                db,
		Gatherer:          svcs.registry,

		UserHandler: handler.NewUserHandler(svcs.userRepo, svcs.steamClient, scraper, slog.Default()),
		SyncHandler: handler.NewSyncHandler(svcs.syncSvc, handler.SyncHandlerConfig{
			TotalGroups:    cfg.SyncTotalGroups,
			MaxConcurrency: cfg.SyncMaxConcurrent,
		}, slog.Default()),
		GameHandler: handler.NewGameHandler(svcs.followSvc, svcs.notifySvc, slog.Default()),
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、グループ同期スケジューラとニュース監視ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. コアサービスのワイヤリング
	svcs := buildServices(cfg, db)

	// 3. グループ同期スケジューラの初期化
	scheduler := syncpkg.NewScheduler(
		svcs.syncSvc, slog.Default(), cfg.SyncTotalGroups, cfg.SyncMaxConcurrent,
	)

	// 4. ニュース監視ジョブの初期化
	newsWatcher := news.NewWatcher(
		svcs.gameRepo,
		security.NewSSRFGuard(),
		security.NewContentSanitizer(),
		svcs.notifySvc,
		svcs.collector,
		slog.Default(),
		news.WatcherConfig{
			BatchInterval:    cfg.NewsBatchInterval,
			MaxFeedsPerCycle: cfg.NewsMaxFeedsPerCycle,
			FetchTimeout:     cfg.NewsFetchTimeout,
			MaxBodySize:      cfg.NewsMaxBodySize,
		},
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("total_groups", cfg.SyncTotalGroups),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
		slog.Duration("news_batch_interval", cfg.NewsBatchInterval),
	)

	// ニュース監視ジョブをバックグラウンドで起動
	go newsWatcher.Start(ctx)

	// グループ同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
