// Package storage はチケットとセッションを保存するキー・値の永続化基盤を提供する。
//
// 値はすべてUTF-8文字列で、上位のストアがJSONにシリアライズしたレコードを格納する。
// ひとつのBackendは複数の名前空間（ワークスペース）を持ち、名前空間同士のキーは交わらない。
package storage

import (
	"context"
	"time"
)

// KV はひとつの名前空間に閉じた文字列キー・文字列値ストア。
// 読み書きは同期的に完了する。同一キーへの並行書き込みは後勝ちとなる。
type KV interface {
	// Get はキーの値を返す。キーが存在しない場合はok=falseでエラーは返さない。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set はキーに値を保存する。既存の値は上書きされる。
	Set(ctx context.Context, key, value string) error
	// Delete はキーを削除する。存在しないキーの削除はエラーにならない。
	Delete(ctx context.Context, key string) error
}

// Backend は名前空間ごとのKVを払い出す永続化基盤。
type Backend interface {
	// Namespace は指定名前空間のKVを返す。名前空間は最初の書き込みで作成される。
	Namespace(ns string) KV
	// Ping は永続化基盤への疎通を確認する。
	Ping(ctx context.Context) error
	// Close は基盤が保持する接続を解放する。
	Close() error
}

// Purger は一定期間書き込みのない名前空間を削除できるBackend。
type Purger interface {
	// PurgeIdle は最終書き込みがbeforeより古い名前空間を全キーごと削除し、
	// 削除した名前空間の数を返す。
	PurgeIdle(ctx context.Context, before time.Time) (int64, error)
}
