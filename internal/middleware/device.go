// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/workspace"
)

const deviceCookieName = "device_id"

// deviceIDLength はデバイスIDの文字数（32バイトの16進表現）。
const deviceIDLength = 64

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	deviceIDContextKey  = contextKey("device_id")
	workspaceContextKey = contextKey("workspace")
	deviceIDSinkKey     = contextKey("device_id_sink")
	newDeviceKey        = contextKey("new_device")
)

// WorkspaceProvider はデバイスIDに対応するワークスペースを返す。
// workspace.Registryが実装する。
type WorkspaceProvider interface {
	// Get は登録済みのワークスペースを返す。未登録なら開いて登録する。
	Get(ctx context.Context, id string) (*workspace.Workspace, error)
	// Open は登録せずにワークスペースを開く。発行したばかりのデバイスIDに使う。
	Open(ctx context.Context, id string) (*workspace.Workspace, error)
}

// DeviceConfig はデバイスCookieの設定。
type DeviceConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int
}

// NewDeviceMiddleware はデバイスCookieからワークスペースを特定してコンテキストに注入するミドルウェアを返す。
// Cookieが無い、または形式が不正な場合は新しいデバイスIDを発行する。
// デバイスIDはブラウザプロファイルに相当し、同じIDのリクエストは同じセッションとチケット一覧を共有する。
func NewDeviceMiddleware(provider WorkspaceProvider, config DeviceConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := ""
			if c, err := r.Cookie(deviceCookieName); err == nil && validDeviceID(c.Value) {
				deviceID = c.Value
			}
			isNew := deviceID == ""

			if isNew {
				id, err := generateDeviceID()
				if err != nil {
					slog.Error("failed to generate device id", slog.String("error", err.Error()))
					WriteInternalServerError(w)
					return
				}
				deviceID = id
				http.SetCookie(w, &http.Cookie{
					Name:     deviceCookieName,
					Value:    deviceID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			if sink, ok := r.Context().Value(deviceIDSinkKey).(*string); ok {
				*sink = deviceID
			}

			// Cookieを保持しないクライアントが登録済みワークスペースを増やし続けないよう、
			// 新しいデバイスのワークスペースはRegistryに登録しない
			open := provider.Get
			if isNew {
				open = provider.Open
			}
			ws, err := open(r.Context(), deviceID)
			if err != nil {
				slog.Error("failed to open workspace",
					slog.String("device_id", deviceID),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStorageReadError("ワークスペース"))
				return
			}

			ctx := ContextWithWorkspace(r.Context(), deviceID, ws)
			if isNew {
				ctx = context.WithValue(ctx, newDeviceKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth は認証済みセッションを持たないリクエストに401を返すミドルウェア。
// NewDeviceMiddlewareの後に配置する。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := WorkspaceFromContext(r.Context())
		if err != nil || !ws.Auth.IsAuthenticated() {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// DeviceIDFromContext はリクエストコンテキストからデバイスIDを取得する。
func DeviceIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(deviceIDContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("device ID not found in context")
	}
	return id, nil
}

// WorkspaceFromContext はリクエストコンテキストからワークスペースを取得する。
func WorkspaceFromContext(ctx context.Context) (*workspace.Workspace, error) {
	ws, ok := ctx.Value(workspaceContextKey).(*workspace.Workspace)
	if !ok || ws == nil {
		return nil, fmt.Errorf("workspace not found in context")
	}
	return ws, nil
}

// ContextWithWorkspace はコンテキストにデバイスIDとワークスペースを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithWorkspace(ctx context.Context, deviceID string, ws *workspace.Workspace) context.Context {
	ctx = context.WithValue(ctx, deviceIDContextKey, deviceID)
	return context.WithValue(ctx, workspaceContextKey, ws)
}

// isNewDevice はこのリクエストでデバイスIDを発行したかどうかを返す。
func isNewDevice(ctx context.Context) bool {
	v, _ := ctx.Value(newDeviceKey).(bool)
	return v
}

// withDeviceIDSink は外側のミドルウェアが確定後のデバイスIDを受け取るための格納先を注入する。
func withDeviceIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, deviceIDSinkKey, sink)
}

func validDeviceID(s string) bool {
	if len(s) != deviceIDLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func generateDeviceID() (string, error) {
	b := make([]byte, deviceIDLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
