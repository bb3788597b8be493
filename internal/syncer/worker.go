package syncer

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"ecodoc/agent/internal/domain"
	"ecodoc/agent/internal/metrics"
	"ecodoc/agent/internal/notify"
	"ecodoc/agent/internal/store"
)

// DraftSyncer 单条草稿的投递逻辑，与页面侧手动重试共用同一实现。
type DraftSyncer interface {
	SyncDraft(ctx context.Context, draft *domain.DraftMessage) error
}

// Worker 后台同步执行者。
//
// 在独立于页面的执行上下文中运行，随时可能被宿主终止重启；
// 与页面侧只通过共享存储协调，不共享内存。
type Worker struct {
	store       store.Store
	syncer      DraftSyncer
	notifier    notify.Notifier
	metrics     *metrics.Metrics
	retryFailed bool // 自动重试是否包含 failed 草稿
	log         *zap.Logger
}

// NewWorker 创建后台同步 Worker。
func NewWorker(st store.Store, syncer DraftSyncer, notifier notify.Notifier, m *metrics.Metrics, retryFailed bool, log *zap.Logger) *Worker {
	return &Worker{
		store:       st,
		syncer:      syncer,
		notifier:    notifier,
		metrics:     m,
		retryFailed: retryFailed,
		log:         log,
	}
}

// HandleSyncEvent 处理一次 sync-drafts 事件。
//
// 选取 pending 与 syncing 草稿（上一次尝试崩溃可能把草稿卡在
// syncing；Worker 实际上是单例，把 syncing 视为可重试而不是
// "另一次尝试进行中"）。逐条顺序投递，单条失败不中断批次。
//
// 仅当外层编排本身失败（如存储不可达）才返回错误，让调度器的
// 退避机制接管——这是系统中唯一的退避机制，属于调度器而非这里。
func (w *Worker) HandleSyncEvent(ctx context.Context) (succeeded, failed int, err error) {
	start := time.Now()

	statuses := []domain.SyncStatus{domain.StatusPending, domain.StatusSyncing}
	if w.retryFailed {
		statuses = append(statuses, domain.StatusFailed)
	}

	drafts, err := w.store.ListDraftsByStatus(statuses...)
	if err != nil {
		if w.metrics != nil {
			w.metrics.SyncBatchTotal.WithLabelValues("error").Inc()
		}
		return 0, 0, err
	}

	if len(drafts) == 0 {
		return 0, 0, nil
	}

	sortByCreatedAt(drafts)

	w.log.Info("background sync started",
		zap.String("tag", SyncTag),
		zap.Int("drafts", len(drafts)),
	)

	for i := range drafts {
		if ctx.Err() != nil {
			break
		}
		// 单条草稿的失败已在 SyncDraft 内部落库，这里只计数并继续
		if err := w.syncer.SyncDraft(ctx, &drafts[i]); err != nil {
			failed++
			continue
		}
		succeeded++
	}

	if w.metrics != nil {
		w.metrics.SyncDuration.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if failed > 0 {
			outcome = "partial"
		}
		w.metrics.SyncBatchTotal.WithLabelValues(outcome).Inc()
	}

	// 有成功投递时向用户推送摘要；通知失败不影响投递正确性
	if succeeded > 0 {
		w.notifier.SyncSummary(succeeded, failed)
	}

	w.log.Info("background sync finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
	return succeeded, failed, nil
}

// sortByCreatedAt 按创建时间升序排序。
func sortByCreatedAt(drafts []domain.DraftMessage) {
	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt < drafts[j].CreatedAt
	})
}
