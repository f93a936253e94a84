package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker は永続化層の疎通確認を行う。storage.Backendが実装する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// healthCheckTimeout はヘルスチェック1回あたりの上限時間。
const healthCheckTimeout = 3 * time.Second

// NewHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := checker.Ping(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
