package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hitoshi/ticketdesk/internal/database"
	"github.com/hitoshi/ticketdesk/internal/notify"
	"github.com/hitoshi/ticketdesk/internal/storage"
	"github.com/hitoshi/ticketdesk/internal/workspace"
)

// localNamespace はローカルプロファイル内の唯一の名前空間。
const localNamespace = "local"

// profile はSQLiteファイル上に開いたローカルワークスペース。
type profile struct {
	backend *storage.SQLiteBackend
	ws      *workspace.Workspace
}

// openProfile はプロファイルを開き、セッションの復元とチケットの読み込みを行う。
// ストアからの通知はmessagesに1行ずつ書き出す。
func openProfile(ctx context.Context, path string, messages io.Writer) (*profile, error) {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	backend, err := storage.NewSQLiteBackend(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open profile %s: %w", path, err)
	}

	ws, err := workspace.Open(ctx, localNamespace, backend.Namespace(localNamespace), notify.NewWriter(messages))
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &profile{backend: backend, ws: ws}, nil
}

// Close はワークスペースとデータベースを閉じる。
func (p *profile) Close() error {
	return errors.Join(p.ws.Close(), p.backend.Close())
}

// requireSession はログイン済みでなければエラーを返す。
func (p *profile) requireSession() error {
	if !p.ws.Auth.IsAuthenticated() {
		return errors.New("not logged in: run `ticketdesk login` or `ticketdesk signup` first")
	}
	return nil
}

// requireTickets はチケット一覧を読み込めていなければエラーを返す。
// 壊れた保存値を上書きしないよう、変更操作の前にも確認する。
func (p *profile) requireTickets(ctx context.Context) error {
	if p.ws.LoadErr() == nil {
		return nil
	}
	return p.ws.Reload(ctx)
}

// withProfile はプロファイルを開いてfnを実行し、閉じる。
func withProfile(ctx context.Context, opts *options, messages io.Writer, fn func(*profile) error) (err error) {
	p, err := openProfile(ctx, opts.profile, messages)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, p.Close())
	}()
	return fn(p)
}
