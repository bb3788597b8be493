package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ecodoc/agent/internal/cache"
	"ecodoc/agent/internal/config"
	"ecodoc/agent/internal/domain"
	"ecodoc/agent/internal/draft"
	"ecodoc/agent/internal/health"
	"ecodoc/agent/internal/logger"
	"ecodoc/agent/internal/metrics"
	"ecodoc/agent/internal/notify"
	"ecodoc/agent/internal/portal"
	"ecodoc/agent/internal/store"
	"ecodoc/agent/internal/store/memory"
	"ecodoc/agent/internal/store/sqldb"
	"ecodoc/agent/internal/syncer"
	httptransport "ecodoc/agent/internal/transport/http"
)

// main 启动 EcoDoc 离线同步代理。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.LogFile,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting ecodoc sync agent",
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("store", cfg.Store.Type),
		zap.String("log_level", cfg.Log.Level),
	)

	// 初始化存储层。持久化不可用时降级：离线草稿功能禁用，
	// 代理的其余部分（直通转发）继续工作。
	st, offlineEnabled := initializeStore(cfg, log)

	// Redis 可选：承载离线读缓存与跨进程同步信号，缺席时两者降级
	rdb := initializeRedis(cfg, log)

	m := metrics.NewMetrics()

	portalClient := portal.NewClient(cfg.Upstream, log)

	// WebSocket Hub + 日志兜底，组成通知链
	hub := notify.NewHub(cfg.CORS.AllowedOrigins, log)
	notifier := notify.Multi{hub, notify.NewLogNotifier(log)}

	bus := syncer.NewBus(rdb, log)
	manager := draft.NewManager(st, portalClient, bus, notifier, m, log)
	worker := syncer.NewWorker(st, manager, notifier, m, cfg.Sync.RetryFailed, log)
	scheduler := syncer.NewScheduler(bus, worker, portalClient, cfg.Sync, cfg.Upstream.ProbeInterval, log)

	proxy := cache.NewProxy(rdb, cfg.Cache, cfg.Upstream, m, log)

	healthChecker := health.NewHealthChecker(st, rdb, portalClient, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Manager:       manager,
		Store:         st,
		Portal:        portalClient,
		CacheProxy:    proxy,
		Hub:           hub,
		HealthChecker: healthChecker,
		Metrics:       m,
		Logger:        log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 缓存激活：清除旧版本命名空间，预取静态资源
	if err := proxy.Activate(ctx); err != nil {
		log.Warn("cache activation failed", zap.Error(err))
	}
	proxy.Precache(ctx, cfg.Cache.Precache)

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting notification hub")
		hub.Run(groupCtx)
		return nil
	})

	// 同步调度器 goroutine（离线功能禁用时不启动）
	if offlineEnabled {
		group.Go(func() error {
			return scheduler.Run(groupCtx)
		})

		// pending 草稿数量指标 goroutine
		group.Go(func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					drafts, err := st.ListDraftsByStatus(domain.StatusPending, domain.StatusSyncing, domain.StatusFailed)
					if err != nil {
						continue
					}
					pending := 0
					for _, d := range drafts {
						if d.SyncStatus == domain.StatusPending {
							pending++
						}
					}
					m.DraftsPending.Set(float64(pending))
				}
			}
		})
	} else {
		log.Warn("persistent storage unavailable, offline drafting disabled")
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := st.Close(); err != nil {
			log.Warn("store close warning", zap.Error(err))
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close warning", zap.Error(err))
			}
		}

		log.Info("agent stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("agent error", zap.Error(err))
	}

	log.Info("agent exited cleanly")
}

// initializeStore 初始化本地存储。
//
// 打开失败按能力缺失处理：回退到内存存储（进程内可用但不跨重启），
// 并返回 offlineEnabled=false 以禁用后台同步。
func initializeStore(cfg *config.Config, log *zap.Logger) (store.Store, bool) {
	if cfg.Store.Type == "memory" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(cfg.Store.AttachmentRetention), true
	}

	st, err := sqldb.Open(sqldb.Config{
		Driver:              cfg.Store.Type,
		DSN:                 cfg.Store.DSN,
		AttachmentRetention: cfg.Store.AttachmentRetention,
	}, log)
	if err != nil {
		log.Error("failed to open persistent store, degrading to online-only mode", zap.Error(err))
		return memory.NewStore(cfg.Store.AttachmentRetention), false
	}

	log.Info("persistent store opened",
		zap.String("driver", cfg.Store.Type),
		zap.String("dsn", cfg.Store.DSN),
	)
	return st, true
}

// initializeRedis 初始化 Redis 客户端，失败时返回 nil（缓存与跨进程信号降级）。
func initializeRedis(cfg *config.Config, log *zap.Logger) *goredis.Client {
	if cfg.Cache.RedisAddress == "" {
		log.Info("redis not configured, offline read cache disabled")
		return nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Cache.RedisAddress,
		Password:     cfg.Cache.RedisPassword,
		DB:           cfg.Cache.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, offline read cache disabled", zap.Error(err))
		rdb.Close()
		return nil
	}

	log.Info("connected to redis",
		zap.String("address", cfg.Cache.RedisAddress),
		zap.Int("db", cfg.Cache.RedisDB),
	)
	return rdb
}
