package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ecodoc/agent/internal/config"
	"ecodoc/agent/internal/metrics"
)

const keyPrefix = "ecodoc:offline:"

// cachedResponse 缓存的上游响应。
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
	CachedAt    int64  `json:"cachedAt"`
}

// Proxy 离线读缓存代理。
//
// 路由策略:
//   - API 前缀下的 GET: stale-while-revalidate——有缓存立即返回，
//     后台限速回源刷新；条目数受 LRU 上限约束，超龄由 TTL 淘汰
//   - 变更请求 (POST/PUT/PATCH/DELETE): 永不缓存，直通网络——
//     离线写入由 Draft Manager/Worker 负责，不走通用响应缓存
//   - 静态资源: cache-first 长 TTL（内容哈希命名，不可变）
//
// Redis 缺席时退化为透明直通代理（能力缺失，不是错误）。
type Proxy struct {
	rdb        *redis.Client // 可为 nil
	upstream   string
	cookie     string
	httpClient *http.Client
	ttl        time.Duration
	staticTTL  time.Duration
	maxEntries int64
	version    string
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewProxy 创建缓存代理，rdb 可为 nil。
func NewProxy(rdb *redis.Client, cacheCfg config.CacheConfig, upstreamCfg config.UpstreamConfig, m *metrics.Metrics, log *zap.Logger) *Proxy {
	return &Proxy{
		rdb:        rdb,
		upstream:   strings.TrimRight(upstreamCfg.BaseURL, "/"),
		cookie:     upstreamCfg.SessionCookie,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ttl:        cacheCfg.TTL,
		staticTTL:  cacheCfg.StaticTTL,
		maxEntries: cacheCfg.MaxEntries,
		version:    cacheCfg.Version,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 5), // 后台刷新限速
		metrics:    m,
		log:        log,
	}
}

// APIHandler 处理 API 前缀下的代理请求。
func (p *Proxy) APIHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			// 变更请求永不缓存，始终要求网络
			p.passthrough(c)
			return
		}
		if p.rdb == nil {
			p.passthrough(c)
			return
		}
		p.staleWhileRevalidate(c)
	}
}

// StaticHandler 处理静态资源请求（cache-first）。
func (p *Proxy) StaticHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.rdb == nil || c.Request.Method != http.MethodGet {
			p.passthrough(c)
			return
		}

		key := p.key("static", requestPath(c.Request))
		if cached, ok := p.get(c.Request.Context(), key); ok {
			if p.metrics != nil {
				p.metrics.CacheHits.WithLabelValues("static").Inc()
			}
			writeCached(c, cached)
			return
		}

		if p.metrics != nil {
			p.metrics.CacheMisses.WithLabelValues("static").Inc()
		}
		cached, err := p.fetchAndStore(c.Request.Context(), c.Request, key, p.staticTTL, false)
		if err != nil {
			offlineError(c, err)
			return
		}
		writeCached(c, cached)
	}
}

// staleWhileRevalidate 缓存命中立即返回并后台刷新，未命中同步回源。
func (p *Proxy) staleWhileRevalidate(c *gin.Context) {
	key := p.key("api", requestPath(c.Request))

	if cached, ok := p.get(c.Request.Context(), key); ok {
		if p.metrics != nil {
			p.metrics.CacheHits.WithLabelValues("api").Inc()
		}
		writeCached(c, cached)

		// 请求上下文随响应结束，后台刷新用独立上下文
		if p.limiter.Allow() {
			req := c.Request.Clone(context.Background())
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if _, err := p.fetchAndStore(ctx, req, key, p.ttl, true); err != nil {
					p.log.Debug("background revalidation failed", zap.String("key", key), zap.Error(err))
				}
			}()
		}
		return
	}

	if p.metrics != nil {
		p.metrics.CacheMisses.WithLabelValues("api").Inc()
	}
	cached, err := p.fetchAndStore(c.Request.Context(), c.Request, key, p.ttl, true)
	if err != nil {
		offlineError(c, err)
		return
	}
	writeCached(c, cached)
}

// passthrough 直通代理，不读也不写缓存。
func (p *Proxy) passthrough(c *gin.Context) {
	req, err := p.upstreamRequest(c.Request.Context(), c.Request, c.Request.Body)
	if err != nil {
		offlineError(c, err)
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		offlineError(c, err)
		return
	}
	defer resp.Body.Close()

	c.Status(resp.StatusCode)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Header("Content-Type", ct)
	}
	io.Copy(c.Writer, resp.Body)
}

// fetchAndStore 回源获取并在 2xx 时写入缓存。
func (p *Proxy) fetchAndStore(ctx context.Context, inbound *http.Request, key string, ttl time.Duration, enforceLRU bool) (*cachedResponse, error) {
	req, err := p.upstreamRequest(ctx, inbound, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, err
	}

	cached := &cachedResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		CachedAt:    time.Now().UnixMilli(),
	}

	if p.rdb != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.put(ctx, key, cached, ttl, enforceLRU)
	}
	return cached, nil
}

// upstreamRequest 基于入站请求构造上游请求。
func (p *Proxy) upstreamRequest(ctx context.Context, inbound *http.Request, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, inbound.Method, p.upstream+requestPath(inbound), body)
	if err != nil {
		return nil, err
	}
	for _, h := range []string{"Accept", "Content-Type", "Cookie"} {
		if v := inbound.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if p.cookie != "" {
		req.Header.Add("Cookie", p.cookie)
	}
	return req, nil
}

// get 读取缓存条目并刷新 LRU 位置。
func (p *Proxy) get(ctx context.Context, key string) (*cachedResponse, bool) {
	data, err := p.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		p.rdb.Del(ctx, key)
		return nil, false
	}

	p.rdb.ZAdd(ctx, p.lruKey(), redis.Z{Score: float64(time.Now().UnixMilli()), Member: key})
	return &cached, true
}

// put 写入缓存条目并约束 LRU 上限。
func (p *Proxy) put(ctx context.Context, key string, cached *cachedResponse, ttl time.Duration, enforceLRU bool) {
	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := p.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		p.log.Debug("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}

	if !enforceLRU {
		return
	}

	lru := p.lruKey()
	p.rdb.ZAdd(ctx, lru, redis.Z{Score: float64(time.Now().UnixMilli()), Member: key})

	count, err := p.rdb.ZCard(ctx, lru).Result()
	if err != nil || count <= p.maxEntries {
		return
	}

	// 淘汰最久未使用的条目
	victims, err := p.rdb.ZPopMin(ctx, lru, count-p.maxEntries).Result()
	if err != nil {
		return
	}
	for _, v := range victims {
		if member, ok := v.Member.(string); ok {
			p.rdb.Del(ctx, member)
			if p.metrics != nil {
				p.metrics.CacheEvicted.Inc()
			}
		}
	}
}

// Activate 清除旧版本命名空间的全部缓存（应用升级时调用一次）。
func (p *Proxy) Activate(ctx context.Context) error {
	if p.rdb == nil {
		return nil
	}

	currentPrefix := keyPrefix + p.version + ":"
	var cursor uint64
	removed := 0
	for {
		keys, next, err := p.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if !strings.HasPrefix(key, currentPrefix) {
				p.rdb.Del(ctx, key)
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if removed > 0 {
		p.log.Info("superseded cache entries purged",
			zap.String("version", p.version),
			zap.Int("removed", removed),
		)
	}
	return nil
}

// Precache 预取配置的静态资源（启动时调用，失败逐条记日志）。
func (p *Proxy) Precache(ctx context.Context, paths []string) {
	if p.rdb == nil || len(paths) == 0 {
		return
	}

	for _, path := range paths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.upstream+path, nil)
		if err != nil {
			continue
		}
		key := p.key("static", path)
		if _, err := p.fetchAndStore(ctx, req, key, p.staticTTL, false); err != nil {
			p.log.Warn("precache failed", zap.String("path", path), zap.Error(err))
		}
	}
	p.log.Info("static precache finished", zap.Int("paths", len(paths)))
}

// key 构造带版本命名空间的缓存键。
func (p *Proxy) key(kind, path string) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, p.version, kind, path)
}

// lruKey LRU 记录所在的有序集合键。
func (p *Proxy) lruKey() string {
	return keyPrefix + p.version + ":lru"
}

// requestPath 返回路径加查询串。
func requestPath(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}

// writeCached 将缓存条目写成 HTTP 响应。
func writeCached(c *gin.Context, cached *cachedResponse) {
	contentType := cached.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(cached.Status, contentType, cached.Body)
}

// offlineError 网络不可达且无缓存副本时的响应。
func offlineError(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":   "upstream unreachable",
		"message": err.Error(),
	})
}
