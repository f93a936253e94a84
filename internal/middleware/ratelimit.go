package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	ImportRate      rate.Limit    // フィード取り込みのレート（req/sec）
	ImportBurst     int           // フィード取り込みのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/device、フィード取り込み 10 req/min/device。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteRateLimiterConfig(120, 10)
}

// PerMinuteRateLimiterConfig は1分あたりのリクエスト数から設定を組み立てる。
// バーストサイズは1分あたりの上限と同じにする。
func PerMinuteRateLimiterConfig(generalPerMin, importPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst:    generalPerMin,
		ImportRate:      rate.Limit(float64(importPerMin) / 60.0),
		ImportBurst:     importPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

// deviceLimiter はデバイスごとのレートリミッターとアクセス時刻を保持する。
type deviceLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterPool は同じレートを共有するデバイスごとのリミッター群。
type limiterPool struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*deviceLimiter
}

func newLimiterPool(r rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*deviceLimiter),
	}
}

// get はデバイスのリミッターを取得または作成する。
func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dl, ok := p.limiters[key]; ok {
		dl.lastAccess = now
		return dl.limiter
	}

	limiter := rate.NewLimiter(p.rate, p.burst)
	p.limiters[key] = &deviceLimiter{
		limiter:    limiter,
		lastAccess: now,
	}
	return limiter
}

// expire はttlより長くアクセスのないエントリを削除する。
func (p *limiterPool) expire(now time.Time, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, dl := range p.limiters {
		if now.Sub(dl.lastAccess) > ttl {
			delete(p.limiters, id)
		}
	}
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

// RateLimiter はデバイスごとのレート制限を管理する。
// API全般のレート制限とフィード取り込みのレート制限の2種類を提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterPool
	imports *limiterPool
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		general: newLimiterPool(config.GeneralRate, config.GeneralBurst),
		imports: newLimiterPool(config.ImportRate, config.ImportBurst),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼び出しても安全。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// DeviceMiddlewareの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general")
}

// ImportMiddleware はフィード取り込み専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) ImportMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.imports, "import")
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// ImportLimiterCount は現在管理されているフィード取り込みリミッターのエントリ数を返す。
func (rl *RateLimiter) ImportLimiterCount() int {
	return rl.imports.len()
}

func (rl *RateLimiter) middleware(pool *limiterPool, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, err := DeviceIDFromContext(r.Context())
			if err != nil {
				slog.Error("rate limiter used without device middleware", slog.String("path", r.URL.Path))
				WriteInternalServerError(w)
				return
			}

			if !pool.get(limiterKey(r, deviceID), rl.now()).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("device_id", deviceID),
					slog.String("limit_type", limitType),
				)
				writeRateLimitResponse(w, pool.rate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limiterKey はリミッターのキーを返す。
// デバイスIDを発行したばかりのリクエストは接続元IPで数える。
// Cookieを捨てて毎回新しいデバイスとして振る舞うクライアントも制限対象になる。
func limiterKey(r *http.Request, deviceID string) string {
	if !isNewDevice(r.Context()) {
		return "device:" + deviceID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := rl.now()
	rl.general.expire(now, ttl)
	rl.imports.expire(now, ttl)
}
