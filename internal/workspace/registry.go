package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/notify"
	"github.com/hitoshi/ticketdesk/internal/storage"
)

// RegistryConfig はRegistryの設定を保持する。
type RegistryConfig struct {
	IdleTTL       time.Duration // 最終アクセスからこの時間を超えたワークスペースを閉じる
	SweepInterval time.Duration // アイドルワークスペースの確認間隔
}

// DefaultRegistryConfig はデフォルトの設定を返す。
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTTL:       30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

type entry struct {
	ws         *Workspace
	lastAccess time.Time
}

// Registry は名前空間IDごとに開いたワークスペースを保持する。
// 同じIDの初回オープンが並行した場合は1回にまとめる。
type Registry struct {
	backend storage.Backend
	config  RegistryConfig
	metrics metrics.MetricsCollector
	now     func() time.Time

	mu    sync.Mutex
	open  map[string]*entry
	group singleflight.Group

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewRegistry はRegistryを生成し、バックグラウンドでアイドルワークスペースの掃除を開始する。
// collectorがnilの場合はメトリクスを記録しない。
func NewRegistry(backend storage.Backend, config RegistryConfig, collector metrics.MetricsCollector) *Registry {
	if collector == nil {
		collector = metrics.Nop{}
	}
	defaults := DefaultRegistryConfig()
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	r := &Registry{
		backend: backend,
		config:  config,
		metrics: collector,
		now:     time.Now,
		open:    make(map[string]*entry),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	go r.sweepLoop()

	return r
}

// Get はIDのワークスペースを返す。開いていなければ永続化基盤から開く。
func (r *Registry) Get(ctx context.Context, id string) (*Workspace, error) {
	if ws, ok := r.touch(id); ok {
		return ws, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if ws, ok := r.touch(id); ok {
			return ws, nil
		}

		// 待ち合わせている他の呼び出しに先頭呼び出しのキャンセルを波及させない
		ws, err := r.openUnregistered(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.open[id] = &entry{ws: ws, lastAccess: r.now()}
		n := len(r.open)
		r.mu.Unlock()

		r.metrics.SetOpenWorkspaces(n)
		slog.Debug("workspace opened", slog.String("device_id", id))
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

// Open はIDのワークスペースを登録せずに開く。登録済みであればそれを返す。
// 返したワークスペースはスイーパーの対象外で、書き込みがなければ永続化基盤に何も残さない。
func (r *Registry) Open(ctx context.Context, id string) (*Workspace, error) {
	if ws, ok := r.touch(id); ok {
		return ws, nil
	}
	return r.openUnregistered(ctx, id)
}

func (r *Registry) openUnregistered(ctx context.Context, id string) (*Workspace, error) {
	return Open(ctx, id, r.backend.Namespace(id),
		notify.NewLog(slog.Default().With(slog.String("device_id", id))))
}

// Evict はIDのワークスペースを閉じてRegistryから外す。開いていなければ何もしない。
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	e, ok := r.open[id]
	if ok {
		delete(r.open, id)
	}
	n := len(r.open)
	r.mu.Unlock()

	if ok {
		e.ws.Close()
		r.metrics.SetOpenWorkspaces(n)
	}
}

// Len は開いているワークスペースの数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Stop は掃除を停止し、開いているワークスペースをすべて閉じる。複数回呼んでもよい。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.done

		r.mu.Lock()
		open := r.open
		r.open = make(map[string]*entry)
		r.mu.Unlock()

		for _, e := range open {
			e.ws.Close()
		}
		r.metrics.SetOpenWorkspaces(0)
	})
}

func (r *Registry) touch(id string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.open[id]
	if !ok {
		return nil, false
	}
	e.lastAccess = r.now()
	return e.ws, true
}

// sweepLoop はバックグラウンドでアイドルワークスペースを定期的に閉じる。
func (r *Registry) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep は最終アクセスからIdleTTLを超えたワークスペースを閉じる。
func (r *Registry) sweep() int {
	now := r.now()

	r.mu.Lock()
	var idle []*Workspace
	for id, e := range r.open {
		if now.Sub(e.lastAccess) > r.config.IdleTTL {
			idle = append(idle, e.ws)
			delete(r.open, id)
		}
	}
	n := len(r.open)
	r.mu.Unlock()

	for _, ws := range idle {
		ws.Close()
	}
	if len(idle) > 0 {
		r.metrics.SetOpenWorkspaces(n)
		slog.Info("idle workspaces closed",
			slog.Int("closed", len(idle)),
			slog.Int("open", n),
		)
	}
	return len(idle)
}
