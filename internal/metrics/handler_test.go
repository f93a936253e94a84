package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTicketOp("create", ResultSuccess)
	c.RecordAuthAttempt("login", ResultSuccess)
	c.RecordStorageError("write")
	c.RecordHTTPStatus(200)
	c.SetOpenWorkspaces(1)
	c.RecordImport(1, 0)
	c.RecordImportLatency(0)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"ticketdesk_ticket_operations_total",
		"ticketdesk_auth_attempts_total",
		"ticketdesk_storage_errors_total",
		"ticketdesk_http_status_total",
		"ticketdesk_open_workspaces",
		"ticketdesk_imported_items_total",
		"ticketdesk_import_latency_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestNop_DoesNotPanic はNopがすべての記録を受け付けることを検証する。
func TestNop_DoesNotPanic(t *testing.T) {
	var c MetricsCollector = Nop{}
	c.RecordTicketOp("create", ResultSuccess)
	c.RecordAuthAttempt("login", ResultFailure)
	c.RecordStorageError("read")
	c.RecordHTTPStatus(500)
	c.SetOpenWorkspaces(0)
	c.RecordImport(0, 0)
	c.RecordImportLatency(0)
}
