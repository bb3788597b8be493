package syncer

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SyncTag 后台同步事件的标签。
const SyncTag = "sync-drafts"

// Bus 后台同步信号总线。
//
// 进程内通过本地通道传递信号；配置了 Redis 时额外走 pub/sub 频道，
// 让以独立进程部署的页面侧也能唤醒本 Worker。Redis 缺席时登记
// 退化为仅进程内信号并记一条日志，绝不抛错。
type Bus struct {
	rdb   *redis.Client // 可为 nil
	local chan struct{}
	log   *zap.Logger
}

// NewBus 创建信号总线，rdb 可为 nil。
func NewBus(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{
		rdb:   rdb,
		local: make(chan struct{}, 1),
		log:   log,
	}
}

// RequestSync 登记一次同步意图。
//
// 信号会被合并：已有未消费的信号时重复登记是无操作。
func (b *Bus) RequestSync(ctx context.Context) {
	if b.rdb != nil {
		if err := b.rdb.Publish(ctx, SyncTag, "1").Err(); err != nil {
			b.log.Debug("sync registration via redis failed, falling back to local signal", zap.Error(err))
		}
	}

	select {
	case b.local <- struct{}{}:
	default:
	}
}

// Signals 返回合并后的信号通道，随 ctx 取消关闭。
func (b *Bus) Signals(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)

		var redisCh <-chan *redis.Message
		if b.rdb != nil {
			sub := b.rdb.Subscribe(ctx, SyncTag)
			defer sub.Close()
			redisCh = sub.Channel()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.local:
			case _, ok := <-redisCh:
				if !ok {
					redisCh = nil
					continue
				}
			}

			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	return out
}
