package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresBackend はPostgreSQLのkv_entriesテーブルを使用するBackend。
// テーブルはdatabase.RunMigrationsで作成される。
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend はPostgresBackendを生成する。
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Namespace は指定名前空間のKVを返す。
func (b *PostgresBackend) Namespace(ns string) KV {
	return &postgresKV{db: b.db, ns: ns}
}

// Ping はデータベースへの疎通を確認する。
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close はデータベース接続を閉じる。
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

// PurgeIdle は最終書き込みがbeforeより古い名前空間を削除する。
func (b *PostgresBackend) PurgeIdle(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := b.db.QueryRowContext(ctx,
		`WITH idle AS (
			SELECT namespace FROM kv_entries
			GROUP BY namespace
			HAVING max(updated_at) < $1
		), deleted AS (
			DELETE FROM kv_entries WHERE namespace IN (SELECT namespace FROM idle)
			RETURNING namespace
		)
		SELECT count(DISTINCT namespace) FROM deleted`,
		before,
	).Scan(&purged)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idle namespaces: %w", err)
	}
	return purged, nil
}

// postgresKV はPostgresBackendのひとつの名前空間。
type postgresKV struct {
	db *sql.DB
	ns string
}

func (kv *postgresKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := kv.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE namespace = $1 AND key = $2`,
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

func (kv *postgresKV) Set(ctx context.Context, key, value string) error {
	_, err := kv.db.ExecContext(ctx,
		`INSERT INTO kv_entries (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		kv.ns, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

func (kv *postgresKV) Delete(ctx context.Context, key string) error {
	_, err := kv.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`,
		kv.ns, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// compile-time interface check
var (
	_ Backend = (*PostgresBackend)(nil)
	_ Purger  = (*PostgresBackend)(nil)
)
