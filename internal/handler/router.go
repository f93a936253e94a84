package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Workspaces        middleware.WorkspaceProvider
	DeviceConfig      middleware.DeviceConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	HealthChecker HealthChecker
	Importer      Importer

	// メトリクス。MetricsHandlerがnilの場合は/metricsを公開しない
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Device → CSRF → RateLimit(General)
//
// /health、/metrics、/api/csrf-token はデバイスを割り当てない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// トークン発行はデバイスを割り当てずに行う
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.Metrics)
	ticketHandler := NewTicketHandler(deps.Metrics)
	importHandler := NewImportHandler(deps.Importer, ticketHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewDeviceMiddleware(deps.Workspaces, deps.DeviceConfig))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.Signup)
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/session", authHandler.Session)
		})

		// 以降は認証済みセッションが必要
		r.Route("/tickets", func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Get("/", ticketHandler.List)
			r.Post("/", ticketHandler.Create)
			r.Get("/summary", ticketHandler.Summary)
			r.With(deps.RateLimiter.ImportMiddleware()).Post("/import", importHandler.Import)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ticketHandler.Get)
				r.Patch("/", ticketHandler.Update)
				r.Delete("/", ticketHandler.Delete)
			})
		})
	})

	return r
}
