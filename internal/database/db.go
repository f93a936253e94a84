package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// PostgreSQLのコネクションプール設定。
// ワークスペースはメモリ上に保持されるため、同時に走るクエリは書き込みと初回読み込みに限られる。
const (
	postgresMaxOpenConns    = 10
	postgresMaxIdleConns    = 5
	postgresConnMaxIdleTime = 5 * time.Minute
)

// OpenPostgres はPostgreSQLのコネクションプールを開く。
// 接続確認は行わないため、呼び出し側でPingすること。
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(postgresMaxOpenConns)
	db.SetMaxIdleConns(postgresMaxIdleConns)
	db.SetConnMaxIdleTime(postgresConnMaxIdleTime)
	return db, nil
}

// OpenSQLite はSQLiteのプロファイルファイルを開く。親ディレクトリがなければ作成する。
// 書き込みは単一コネクションで直列化する。
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// sqliteDSN はWALと書き込み待ちを有効にしたmodernc.org/sqlite用のDSNを返す。
func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	return path + "?" + q.Encode()
}
