package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ecodoc/agent/internal/store"
)

// Prober 上游可达性探测。
type Prober interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
//
// 存活检查覆盖本地依赖（存储、Redis），就绪检查覆盖上游门户：
// 门户不可达时代理仍然存活（离线正是它存在的意义），但未就绪。
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，rdb 与 prober 可为 nil。
func NewHealthChecker(st store.Store, rdb *redis.Client, prober Prober, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		logger: logger,
	}

	hc.health.AddLivenessCheck("store", func() error {
		return st.Health()
	})

	if rdb != nil {
		hc.health.AddLivenessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return rdb.Ping(ctx).Err()
		})
	}

	if prober != nil {
		hc.health.AddReadinessCheck("upstream", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return prober.Ping(ctx)
		})
	}

	return hc
}

// LiveHandler 存活检查端点。
func (hc *HealthChecker) LiveHandler() http.Handler {
	return http.HandlerFunc(hc.health.LiveEndpoint)
}

// ReadyHandler 就绪检查端点。
func (hc *HealthChecker) ReadyHandler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}
