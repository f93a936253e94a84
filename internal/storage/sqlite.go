package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// sqliteSchema はSQLiteBackendが使用するテーブル定義。
// updated_atはUNIXミリ秒で保持する。
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	namespace  TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_kv_entries_updated_at ON kv_entries (namespace, updated_at);
`

// SQLiteBackend はSQLiteファイルを使用するBackend。
// CLIのローカルプロファイルと単一ノード運用で使用する。
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteBackend はスキーマを初期化してSQLiteBackendを生成する。
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteBackend{db: db, now: time.Now}, nil
}

// Namespace は指定名前空間のKVを返す。
func (b *SQLiteBackend) Namespace(ns string) KV {
	return &sqliteKV{backend: b, ns: ns}
}

// Ping はデータベースへの疎通を確認する。
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close はデータベース接続を閉じる。
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// PurgeIdle は最終書き込みがbeforeより古い名前空間を削除する。
func (b *SQLiteBackend) PurgeIdle(ctx context.Context, before time.Time) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT namespace FROM kv_entries GROUP BY namespace HAVING max(updated_at) < ?`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list idle namespaces: %w", err)
	}
	var idle []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan namespace: %w", err)
		}
		idle = append(idle, ns)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("failed to iterate namespaces: %w", err)
	}
	rows.Close()

	for _, ns := range idle {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE namespace = ?`, ns); err != nil {
			return 0, fmt.Errorf("failed to delete namespace %q: %w", ns, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int64(len(idle)), nil
}

// sqliteKV はSQLiteBackendのひとつの名前空間。
type sqliteKV struct {
	backend *SQLiteBackend
	ns      string
}

func (kv *sqliteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := kv.backend.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE namespace = ? AND key = ?`,
		kv.ns, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, true, nil
}

func (kv *sqliteKV) Set(ctx context.Context, key, value string) error {
	_, err := kv.backend.db.ExecContext(ctx,
		`INSERT INTO kv_entries (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		kv.ns, key, value, kv.backend.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

func (kv *sqliteKV) Delete(ctx context.Context, key string) error {
	_, err := kv.backend.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`,
		kv.ns, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// compile-time interface check
var (
	_ Backend = (*SQLiteBackend)(nil)
	_ Purger  = (*SQLiteBackend)(nil)
)
