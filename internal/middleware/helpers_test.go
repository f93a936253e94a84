package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/ticketdesk/internal/notify"
	"github.com/hitoshi/ticketdesk/internal/storage"
	"github.com/hitoshi/ticketdesk/internal/workspace"
)

// mockWorkspaceProvider はWorkspaceProviderのモック。
// openFnが未設定の場合、OpenはgetFnに委譲する。
type mockWorkspaceProvider struct {
	getFn  func(ctx context.Context, id string) (*workspace.Workspace, error)
	openFn func(ctx context.Context, id string) (*workspace.Workspace, error)
}

func (m *mockWorkspaceProvider) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	return m.getFn(ctx, id)
}

func (m *mockWorkspaceProvider) Open(ctx context.Context, id string) (*workspace.Workspace, error) {
	if m.openFn != nil {
		return m.openFn(ctx, id)
	}
	return m.getFn(ctx, id)
}

// memoryProvider はメモリバックエンド上にデバイスIDごとのワークスペースを開く。
func memoryProvider(t *testing.T) *mockWorkspaceProvider {
	t.Helper()
	backend := storage.NewMemoryBackend()
	var mu sync.Mutex
	open := make(map[string]*workspace.Workspace)
	return &mockWorkspaceProvider{
		getFn: func(ctx context.Context, id string) (*workspace.Workspace, error) {
			mu.Lock()
			defer mu.Unlock()
			if ws, ok := open[id]; ok {
				return ws, nil
			}
			ws, err := workspace.Open(ctx, id, backend.Namespace(id), notify.Nop{})
			if err != nil {
				return nil, err
			}
			open[id] = ws
			return ws, nil
		},
	}
}

// withDevice はリクエストにデバイスIDとワークスペースを注入する。
func withDevice(t *testing.T, r *http.Request, deviceID string) *http.Request {
	t.Helper()
	backend := storage.NewMemoryBackend()
	ws, err := workspace.Open(r.Context(), deviceID, backend.Namespace(deviceID), notify.Nop{})
	if err != nil {
		t.Fatalf("workspace.Open() error = %v", err)
	}
	return r.WithContext(ContextWithWorkspace(r.Context(), deviceID, ws))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func testDeviceID(prefix string) string {
	return prefix + strings.Repeat("0", deviceIDLength-len(prefix))
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}
