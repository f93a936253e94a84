package handler

import (
	"net/http"

	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/model"
)

// AuthHandler はセッション管理のHTTPハンドラー。
// 操作対象はリクエストのデバイスに対応するワークスペースのAuthStore。
type AuthHandler struct {
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{metrics: collector}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse は現在のセッション状態のAPIレスポンス。
type sessionResponse struct {
	Authenticated bool           `json:"authenticated"`
	User          *model.Session `json:"user"`
}

func newSessionResponse(session model.Session, ok bool) sessionResponse {
	if !ok {
		return sessionResponse{}
	}
	return sessionResponse{Authenticated: true, User: &session}
}

// Signup はユーザー登録を処理し、成功時はそのままログイン状態にする。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := ws.Auth.Signup(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.metrics.RecordAuthAttempt("signup", metrics.ResultFailure)
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordAuthAttempt("signup", metrics.ResultSuccess)
	writeJSON(w, http.StatusCreated, newSessionResponse(session, true))
}

// Login はメールアドレスとパスワードによるログインを処理する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := ws.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordAuthAttempt("login", metrics.ResultFailure)
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordAuthAttempt("login", metrics.ResultSuccess)
	writeJSON(w, http.StatusOK, newSessionResponse(session, true))
}

// Logout はセッションを破棄する。セッション削除の失敗はログに記録し、応答は成功とする。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	result := metrics.ResultSuccess
	if err := ws.Auth.Logout(r.Context()); err != nil {
		result = metrics.ResultFailure
		h.metrics.RecordStorageError("logout")
	}
	h.metrics.RecordAuthAttempt("logout", result)

	w.WriteHeader(http.StatusNoContent)
}

// Session は現在のセッション状態を返す。
// 未ログインの場合は保存済みセッションの復元を試みる。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceOf(w, r)
	if !ok {
		return
	}

	if !ws.Auth.IsAuthenticated() {
		ws.Auth.RestoreSession(r.Context())
	}
	session, authenticated := ws.Auth.CurrentSession()
	writeJSON(w, http.StatusOK, newSessionResponse(session, authenticated))
}
