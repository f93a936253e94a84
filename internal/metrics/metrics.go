// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果ラベル
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、ワークスペース管理、インポート処理から利用する。
type MetricsCollector interface {
	RecordTicketOp(op, result string)
	RecordAuthAttempt(op, result string)
	RecordStorageError(op string)
	RecordHTTPStatus(statusCode int)
	SetOpenWorkspaces(n int)
	RecordImport(created, skipped int)
	RecordImportLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	ticketOps      *prometheus.CounterVec
	authAttempts   *prometheus.CounterVec
	storageErrors  *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	openWorkspaces prometheus.Gauge
	importedItems  *prometheus.CounterVec
	importLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ticketOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_ticket_operations_total",
			Help: "チケット操作の合計数（操作・結果別）",
		}, []string{"op", "result"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_auth_attempts_total",
			Help: "認証操作の合計数（操作・結果別）",
		}, []string{"op", "result"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_storage_errors_total",
			Help: "永続化エラーの合計数",
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		openWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ticketdesk_open_workspaces",
			Help: "メモリ上に展開中のワークスペース数",
		}),
		importedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_imported_items_total",
			Help: "フィードインポートで処理した項目数",
		}, []string{"outcome"}),
		importLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketdesk_import_latency_seconds",
			Help:    "フィードインポートのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.ticketOps,
		c.authAttempts,
		c.storageErrors,
		c.httpStatus,
		c.openWorkspaces,
		c.importedItems,
		c.importLatency,
	)

	return c
}

// RecordTicketOp はチケット操作を記録する。
func (c *Collector) RecordTicketOp(op, result string) {
	c.ticketOps.WithLabelValues(op, result).Inc()
}

// RecordAuthAttempt は認証操作を記録する。
func (c *Collector) RecordAuthAttempt(op, result string) {
	c.authAttempts.WithLabelValues(op, result).Inc()
}

// RecordStorageError は永続化エラーを記録する。
func (c *Collector) RecordStorageError(op string) {
	c.storageErrors.WithLabelValues(op).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetOpenWorkspaces は展開中のワークスペース数を設定する。
func (c *Collector) SetOpenWorkspaces(n int) {
	c.openWorkspaces.Set(float64(n))
}

// RecordImport はインポートで作成・スキップした項目数を記録する。
func (c *Collector) RecordImport(created, skipped int) {
	c.importedItems.WithLabelValues("created").Add(float64(created))
	c.importedItems.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordImportLatency はインポートのレイテンシを記録する。
func (c *Collector) RecordImportLatency(duration time.Duration) {
	c.importLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordTicketOp(string, string) {}
func (Nop) RecordAuthAttempt(string, string) {}
func (Nop) RecordStorageError(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) SetOpenWorkspaces(int) {}
func (Nop) RecordImport(int, int) {}
func (Nop) RecordImportLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
