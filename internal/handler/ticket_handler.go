package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/workspace"
)

// TicketHandler はチケット管理のHTTPハンドラー。
type TicketHandler struct {
	metrics metrics.MetricsCollector
}

// NewTicketHandler はTicketHandlerを生成する。
func NewTicketHandler(collector metrics.MetricsCollector) *TicketHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &TicketHandler{metrics: collector}
}

// ticketListResponse はチケット一覧のAPIレスポンス。
type ticketListResponse struct {
	Tickets []model.Ticket `json:"tickets"`
}

// summaryResponse はステータス別件数のAPIレスポンス。
type summaryResponse struct {
	Total  int                        `json:"total"`
	Counts map[model.TicketStatus]int `json:"counts"`
}

// readyWorkspace はチケット一覧を読み込めているワークスペースを返す。
// 前回の読み込みが失敗していた場合は再読み込みし、それでも失敗すれば503を書き込む。
// 壊れた保存値を新しい一覧で上書きしないよう、読み込みに成功するまで変更操作も受け付けない。
func (h *TicketHandler) readyWorkspace(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return nil, false
	}
	if ws.LoadErr() == nil {
		return ws, true
	}
	if err := ws.Reload(r.Context()); err != nil {
		h.metrics.RecordStorageError("load")
		handleServiceError(w, err)
		return nil, false
	}
	return ws, true
}

// record は操作結果をメトリクスに記録する。
func (h *TicketHandler) record(op string, err error) {
	if err == nil {
		h.metrics.RecordTicketOp(op, metrics.ResultSuccess)
		return
	}
	h.metrics.RecordTicketOp(op, metrics.ResultFailure)
	if isStorageError(err) {
		h.metrics.RecordStorageError(op)
	}
}

// List はチケット一覧を作成順に返す。statusクエリで絞り込める。
// GET /api/tickets?status=open
func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.readyWorkspace(w, r)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		writeJSON(w, http.StatusOK, ticketListResponse{Tickets: ws.Tickets.List()})
		return
	}
	if !model.TicketStatus(status).Valid() {
		handleServiceError(w, model.NewInvalidStatusError(status))
		return
	}
	writeJSON(w, http.StatusOK, ticketListResponse{Tickets: ws.Tickets.GetByStatus(model.TicketStatus(status))})
}

// Summary はステータス別の件数を返す。
// GET /api/tickets/summary
func (h *TicketHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.readyWorkspace(w, r)
	if !ok {
		return
	}

	counts := ws.Tickets.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, summaryResponse{Total: total, Counts: counts})
}

// Create はチケットを作成する。statusが省略された場合はopenとする。
// POST /api/tickets
func (h *TicketHandler) Create(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.readyWorkspace(w, r)
	if !ok {
		return
	}
	var in model.TicketInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Status == "" {
		in.Status = model.TicketStatusOpen
	}

	t, err := ws.Tickets.Create(r.Context(), in)
	h.record("create", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// Get はチケットを1件返す。
// GET /api/tickets/{id}
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.readyWorkspace(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	t, found := ws.Tickets.GetByID(id)
	if !found {
		handleServiceError(w, model.NewTicketNotFoundError(id))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Update は指定されたフィールドのみを更新する。
// 存在しないIDの場合、ストアは何もしないため404を返す。
// PATCH /api/tickets/{id}
func (h *TicketHandler) Update(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.readyWorkspace(w, r)
	if !ok {
		return
	}
	var patch model.TicketPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	id := chi.URLParam(r, "id")
	t, err := ws.Tickets.Update(r.Context(), id, patch)
	h.record("update", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if t == nil {
		handleServiceError(w, model.NewTicketNotFoundError(id))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Delete はチケットを削除する。存在しないIDでも204を返す。
// DELETE /api/tickets/{id}
func (h *TicketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.readyWorkspace(w, r)
	if !ok {
		return
	}

	err := ws.Tickets.Delete(r.Context(), chi.URLParam(r, "id"))
	h.record("delete", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
