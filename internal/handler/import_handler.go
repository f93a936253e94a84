package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/ticketdesk/internal/importer"
	"github.com/hitoshi/ticketdesk/internal/model"
)

// Importer はフィードからチケットを取り込むサービスのインターフェース。
type Importer interface {
	Import(ctx context.Context, store importer.TicketStore, rawURL string) (*importer.Result, error)
}

// ImportHandler はフィード取り込みのHTTPハンドラー。
type ImportHandler struct {
	importer Importer
	tickets  *TicketHandler
}

// NewImportHandler はImportHandlerを生成する。
func NewImportHandler(imp Importer, tickets *TicketHandler) *ImportHandler {
	return &ImportHandler{importer: imp, tickets: tickets}
}

type importRequest struct {
	URL string `json:"url"`
}

// Import はRSS/Atomフィードの項目をチケットとして取り込む。
// POST /api/tickets/import
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.tickets.readyWorkspace(w, r)
	if !ok {
		return
	}
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		handleServiceError(w, model.NewInvalidURLError("URLが空です"))
		return
	}

	result, err := h.importer.Import(r.Context(), ws.Tickets, req.URL)
	h.tickets.record("import", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
