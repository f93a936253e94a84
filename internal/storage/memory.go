package storage

import (
	"context"
	"sync"
	"time"
)

// memoryEntry はメモリ上の1キー分の値と更新時刻。
type memoryEntry struct {
	value     string
	updatedAt time.Time
}

// MemoryBackend はプロセス内メモリに保持するBackend。
// テストと単一プロセスの一時的なサーバー運用で使用する。プロセス終了で内容は失われる。
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryBackend はMemoryBackendを生成する。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string]map[string]memoryEntry),
		now:  time.Now,
	}
}

// Namespace は指定名前空間のKVを返す。
func (b *MemoryBackend) Namespace(ns string) KV {
	return &memoryKV{backend: b, ns: ns}
}

// Ping は常に成功する。
func (b *MemoryBackend) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close は何もしない。
func (b *MemoryBackend) Close() error {
	return nil
}

// PurgeIdle は最終書き込みがbeforeより古い名前空間を削除する。
func (b *MemoryBackend) PurgeIdle(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var purged int64
	for ns, entries := range b.data {
		var latest time.Time
		for _, e := range entries {
			if e.updatedAt.After(latest) {
				latest = e.updatedAt
			}
		}
		if latest.Before(before) {
			delete(b.data, ns)
			purged++
		}
	}
	return purged, nil
}

// memoryKV はMemoryBackendのひとつの名前空間。
type memoryKV struct {
	backend *MemoryBackend
	ns      string
}

func (kv *memoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	kv.backend.mu.RLock()
	defer kv.backend.mu.RUnlock()

	e, ok := kv.backend.data[kv.ns][key]
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (kv *memoryKV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	kv.backend.mu.Lock()
	defer kv.backend.mu.Unlock()

	entries, ok := kv.backend.data[kv.ns]
	if !ok {
		entries = make(map[string]memoryEntry)
		kv.backend.data[kv.ns] = entries
	}
	entries[key] = memoryEntry{value: value, updatedAt: kv.backend.now()}
	return nil
}

func (kv *memoryKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	kv.backend.mu.Lock()
	defer kv.backend.mu.Unlock()

	entries, ok := kv.backend.data[kv.ns]
	if !ok {
		return nil
	}
	delete(entries, key)
	if len(entries) == 0 {
		delete(kv.backend.data, kv.ns)
	}
	return nil
}

// compile-time interface check
var (
	_ Backend = (*MemoryBackend)(nil)
	_ Purger  = (*MemoryBackend)(nil)
)
