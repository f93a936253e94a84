// Package workspace は1つの名前空間に対する認証ストアとチケットストアの組を管理する。
//
// ワークスペースはブラウザの1プロファイルに相当し、同じ名前空間を開いた操作は
// 同じセッションとチケット一覧を共有する。
package workspace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/ticketdesk/internal/auth"
	"github.com/hitoshi/ticketdesk/internal/notify"
	"github.com/hitoshi/ticketdesk/internal/storage"
	"github.com/hitoshi/ticketdesk/internal/ticket"
)

// Workspace は1つの名前空間上に構築されたストアの組。
type Workspace struct {
	ID      string
	Auth    *auth.Store
	Tickets *ticket.Store

	mu      sync.Mutex
	loadErr error
}

// Open はKV上にストアを構築し、保存済みセッションの復元とチケットの読み込みを行う。
// チケットの読み込み失敗は致命的ではなく、LoadErrで参照できる。
// ctxがキャンセル済みの場合のみエラーを返す。
func Open(ctx context.Context, id string, kv storage.KV, notifier notify.Notifier, opts ...ticket.Option) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws := &Workspace{
		ID:      id,
		Auth:    auth.NewStore(kv, notifier),
		Tickets: ticket.NewStore(kv, notifier, opts...),
	}

	ws.Auth.RestoreSession(ctx)
	if err := ws.Tickets.Load(ctx); err != nil {
		ws.loadErr = err
		slog.Warn("workspace opened with unreadable tickets",
			slog.String("device_id", id),
			slog.String("error", err.Error()),
		)
	}

	return ws, nil
}

// LoadErr はOpen時のチケット読み込みエラーを返す。成功していればnil。
func (w *Workspace) LoadErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadErr
}

// Reload はチケット一覧を読み込み直す。読み込みエラーの再試行に使用する。
func (w *Workspace) Reload(ctx context.Context) error {
	err := w.Tickets.Load(ctx)
	w.mu.Lock()
	w.loadErr = err
	w.mu.Unlock()
	return err
}

// Close はワークスペースを閉じる。保存は各操作で完了しているため、永続化は行わない。
func (w *Workspace) Close() error {
	slog.Debug("workspace closed", slog.String("device_id", w.ID))
	return nil
}
