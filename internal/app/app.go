// Package app はアプリケーションの起動モードごとの依存関係の組み立てと実行を行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/ticketdesk/internal/config"
	"github.com/hitoshi/ticketdesk/internal/database"
	"github.com/hitoshi/ticketdesk/internal/handler"
	"github.com/hitoshi/ticketdesk/internal/importer"
	"github.com/hitoshi/ticketdesk/internal/logger"
	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/middleware"
	"github.com/hitoshi/ticketdesk/internal/security"
	"github.com/hitoshi/ticketdesk/internal/storage"
	"github.com/hitoshi/ticketdesk/internal/worker/cleanup"
	"github.com/hitoshi/ticketdesk/internal/workspace"
)

// shutdownTimeout はグレースフルシャットダウンの上限時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// LOG_LEVELは設定読み込み後に反映する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefaultLevel(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとグレースフルシャットダウンを行う。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はctxが終了するまで指定されたモードで動作する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(ctx, port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// memoryとsqliteでは保持期間切れのワークスペース削除も同じプロセスで実行する。
func runServe(ctx context.Context, cfg *config.Config) error {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promRegistry)

	workspaces := workspace.NewRegistry(backend, workspace.RegistryConfig{
		IdleTTL: cfg.WorkspaceIdleTTL,
	}, collector)
	defer workspaces.Stop()

	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitImport),
	)
	defer rateLimiter.Stop()

	importService := importer.NewService(security.NewURLGuard(), collector, importer.Config{
		Timeout:  cfg.ImportTimeout,
		MaxSize:  cfg.ImportMaxSize,
		MaxItems: cfg.ImportMaxItems,
	})

	router := handler.NewRouter(&handler.RouterDeps{
		Workspaces: workspaces,
		DeviceConfig: middleware.DeviceConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.DeviceCookieMaxAge,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		HealthChecker:     backend,
		Importer:          importService,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(promRegistry),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + cfg.ImportTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if purger, ok := backend.(storage.Purger); ok && cfg.StorageDriver != config.DriverPostgres {
		job := newCleanupJob(purger, cfg)
		g.Go(func() error {
			return job.RunEvery(gctx, cfg.CleanupInterval)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 複数のAPIサーバーが共有する永続化層に対して、保持期間切れのワークスペースを定期的に削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StorageDriver == config.DriverMemory {
		return fmt.Errorf("worker requires a persistent storage driver, got %q", cfg.StorageDriver)
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	purger, ok := backend.(storage.Purger)
	if !ok {
		return fmt.Errorf("storage driver %q does not support purging", cfg.StorageDriver)
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.WorkspaceRetentionDays),
	)

	g, gctx := errgroup.WithContext(ctx)
	job := newCleanupJob(purger, cfg)
	g.Go(func() error {
		return job.RunEvery(gctx, cfg.CleanupInterval)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// PostgreSQLは埋め込みマイグレーションを適用し、SQLiteはスキーマを作成する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		status, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("schema version",
			slog.Uint64("version", uint64(status.Version)),
			slog.Bool("changed", status.Changed),
			slog.Bool("dirty", status.Dirty),
		)
	case config.DriverSQLite:
		backend, err := openBackend(ctx, cfg)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		backend.Close()
	default:
		return fmt.Errorf("storage driver %q has no schema to migrate", cfg.StorageDriver)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", port), nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func newCleanupJob(purger storage.Purger, cfg *config.Config) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(purger, slog.Default())
	if cfg.WorkspaceRetentionDays > 0 {
		job.RetentionDays = cfg.WorkspaceRetentionDays
	}
	return job
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
