package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/hitoshi/ticketdesk/internal/metrics"
)

// NewRecoveryMiddleware はハンドラーのpanicを500レスポンスに変換する。
// ロギングミドルウェアより外側に置くため、ステータスの記録もここで行う。
func NewRecoveryMiddleware(logger *slog.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				collector.RecordHTTPStatus(http.StatusInternalServerError)
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
