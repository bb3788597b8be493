package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 同步代理监控指标
type Metrics struct {
	// 草稿指标
	DraftsSaved    prometheus.Counter
	DraftsSynced   prometheus.Counter
	DraftsFailed   prometheus.Counter
	DraftsDeleted  prometheus.Counter
	DraftsPending  prometheus.Gauge
	SyncBatchTotal *prometheus.CounterVec

	// 同步耗时
	SyncDuration prometheus.Histogram

	// 离线缓存指标
	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec
	CacheEvicted prometheus.Counter

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标（promauto 自动注册到默认 Registry）
func NewMetrics() *Metrics {
	return &Metrics{
		DraftsSaved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ecodoc_drafts_saved_total",
				Help: "Total number of drafts saved locally",
			},
		),
		DraftsSynced: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ecodoc_drafts_synced_total",
				Help: "Total number of drafts delivered to the portal",
			},
		),
		DraftsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ecodoc_drafts_failed_total",
				Help: "Total number of failed delivery attempts",
			},
		),
		DraftsDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ecodoc_drafts_deleted_total",
				Help: "Total number of drafts discarded by the user",
			},
		),
		DraftsPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ecodoc_drafts_pending",
				Help: "Number of drafts currently awaiting delivery",
			},
		),
		SyncBatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecodoc_sync_batches_total",
				Help: "Total number of background sync batches by outcome",
			},
			[]string{"outcome"}, // ok, partial, error
		),
		SyncDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ecodoc_sync_batch_duration_seconds",
				Help:    "Background sync batch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecodoc_cache_hits_total",
				Help: "Total number of offline cache hits",
			},
			[]string{"kind"}, // api, static, attachment
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecodoc_cache_misses_total",
				Help: "Total number of offline cache misses",
			},
			[]string{"kind"},
		),
		CacheEvicted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ecodoc_cache_evicted_total",
				Help: "Total number of cache entries evicted by the LRU bound",
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecodoc_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ecodoc_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ecodoc_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// HTTPHandler 返回 Prometheus 指标端点处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
