package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ecodoc/agent/internal/config"
)

// Prober 门户可达性探测。
type Prober interface {
	Ping(ctx context.Context) error
}

// Scheduler 扮演平台角色：决定何时唤醒 Worker。
//
// 触发来源:
//   - 信号总线上的 sync-drafts 登记（页面侧保存草稿后）
//   - 连通性恢复沿（探测从失败翻转为成功）
//   - 周期性兜底
//
// Worker 编排失败时的指数退避在这里实现——应用代码（Manager/Worker）
// 中没有任何退避逻辑。
type Scheduler struct {
	bus    *Bus
	worker *Worker
	prober Prober
	cfg    config.SyncConfig
	probe  time.Duration
	log    *zap.Logger
}

// NewScheduler 创建同步调度器。
func NewScheduler(bus *Bus, worker *Worker, prober Prober, syncCfg config.SyncConfig, probeInterval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		bus:    bus,
		worker: worker,
		prober: prober,
		cfg:    syncCfg,
		probe:  probeInterval,
		log:    log,
	}
}

// Run 运行调度循环，随 ctx 取消退出。
func (s *Scheduler) Run(ctx context.Context) error {
	signals := s.bus.Signals(ctx)

	probeTicker := time.NewTicker(s.probe)
	defer probeTicker.Stop()
	fallbackTicker := time.NewTicker(s.cfg.FallbackInterval)
	defer fallbackTicker.Stop()

	online := s.prober.Ping(ctx) == nil
	backoff := time.Duration(0)
	var retryC <-chan time.Time

	s.log.Info("sync scheduler started",
		zap.Bool("online", online),
		zap.Duration("probe_interval", s.probe),
		zap.Duration("fallback_interval", s.cfg.FallbackInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync scheduler stopped")
			return nil

		case _, ok := <-signals:
			if !ok {
				return nil
			}

		case <-probeTicker.C:
			nowOnline := s.prober.Ping(ctx) == nil
			// 只在离线→在线的恢复沿触发同步
			if nowOnline && !online {
				s.log.Info("connectivity restored, scheduling sync")
				online = nowOnline
				break
			}
			online = nowOnline
			continue

		case <-fallbackTicker.C:

		case <-retryC:
			retryC = nil
		}

		if _, _, err := s.worker.HandleSyncEvent(ctx); err != nil {
			if backoff == 0 {
				backoff = s.cfg.BackoffBase
			} else {
				backoff *= 2
				if backoff > s.cfg.BackoffMax {
					backoff = s.cfg.BackoffMax
				}
			}
			s.log.Warn("sync event failed, backing off",
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			retryC = time.After(backoff)
			continue
		}
		backoff = 0
	}
}
