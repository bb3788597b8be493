package draft

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"ecodoc/agent/internal/domain"
	"ecodoc/agent/internal/metrics"
	"ecodoc/agent/internal/notify"
	"ecodoc/agent/internal/store"
)

// Uplink 投递端契约：任意 2xx 为成功，其余返回携带原始错误文本的 error。
type Uplink interface {
	SendMessage(ctx context.Context, draft *domain.DraftMessage) error
}

// SyncRegistrar 向平台登记一次后台同步意图（尽力而为）。
type SyncRegistrar interface {
	RequestSync(ctx context.Context)
}

// Input 创建草稿的输入。
type Input struct {
	Subject        string                   `json:"subject"`
	Content        string                   `json:"content"`
	RecipientIDs   []int                    `json:"recipientIds"`
	DocumentNumber string                   `json:"documentNumber"`
	Attachments    []domain.DraftAttachment `json:"attachments"`
}

// Manager 同步协议的页面侧实现。
//
// 只与存储和平台的同步登记接口打交道，从不直接调用后台 Worker——
// 两个执行上下文之间的协调完全通过共享存储完成。
type Manager struct {
	store     store.Store
	uplink    Uplink
	registrar SyncRegistrar // 可为 nil：平台缺少该能力时草稿等待手动重试或周期兜底
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewManager 创建草稿管理器。
func NewManager(st store.Store, uplink Uplink, registrar SyncRegistrar, notifier notify.Notifier, m *metrics.Metrics, log *zap.Logger) *Manager {
	return &Manager{
		store:     st,
		uplink:    uplink,
		registrar: registrar,
		notifier:  notifier,
		metrics:   m,
		log:       log,
	}
}

// SaveDraft 创建一条 pending 草稿并登记后台同步。
func (m *Manager) SaveDraft(ctx context.Context, input Input) (*domain.DraftMessage, error) {
	draft := &domain.DraftMessage{
		ID:             domain.NewDraftID(),
		Subject:        input.Subject,
		Content:        input.Content,
		RecipientIDs:   input.RecipientIDs,
		DocumentNumber: input.DocumentNumber,
		Attachments:    input.Attachments,
		CreatedAt:      time.Now().UnixMilli(),
		SyncStatus:     domain.StatusPending,
	}

	if err := draft.Validate(); err != nil {
		return nil, err
	}

	if err := m.store.SaveDraft(draft); err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.DraftsSaved.Inc()
	}
	m.notifier.DraftStatus(draft)

	// 平台缺少后台同步能力时这里是 no-op，草稿等待手动重试
	if m.registrar != nil {
		m.registrar.RequestSync(ctx)
	}

	m.log.Info("draft saved",
		zap.String("draft_id", draft.ID),
		zap.Int("recipients", len(draft.RecipientIDs)),
		zap.Int("attachments", len(draft.Attachments)),
	)
	return draft, nil
}

// SyncDraft 执行一次投递尝试，手动重试与后台同步共用这段逻辑。
//
// 流程: 状态置 syncing → 重建 multipart 提交 → 任意 2xx 删除记录（提交点），
// 否则置 failed 并携带原始错误文本。
//
// 对同一草稿的并发调用是安全的："记录已不存在"（已被竞争的另一次尝试
// 同步并删除）在任何一步都按静默无操作处理，而不是崩溃。
func (m *Manager) SyncDraft(ctx context.Context, draft *domain.DraftMessage) error {
	if err := m.store.UpdateDraftStatus(draft.ID, domain.StatusSyncing, ""); err != nil {
		if errors.Is(err, store.ErrDraftNotFound) {
			m.log.Debug("draft already gone, skipping sync", zap.String("draft_id", draft.ID))
			return nil
		}
		return err
	}
	m.notifyStatus(draft, domain.StatusSyncing, "")

	// 无收文部门的草稿在客户端拦截，不发出注定被拒绝的请求
	if err := draft.CanSubmit(); err != nil {
		return m.markFailed(draft, err.Error())
	}

	if err := m.uplink.SendMessage(ctx, draft); err != nil {
		return m.markFailed(draft, err.Error())
	}

	// 提交点：服务器确认接收后立即删除，synced 不落库
	if err := m.store.DeleteDraft(draft.ID); err != nil {
		m.log.Warn("failed to delete synced draft", zap.String("draft_id", draft.ID), zap.Error(err))
	}

	if m.metrics != nil {
		m.metrics.DraftsSynced.Inc()
	}
	m.notifyStatus(draft, domain.StatusSynced, "")
	m.log.Info("draft synced", zap.String("draft_id", draft.ID))
	return nil
}

// SyncAllPending 顺序同步所有 pending 草稿。
//
// 严格串行：第 N 条的网络调用在第 N-1 条完全结束后才开始，
// 既限制服务器负载，也让投递顺序大体跟随创建顺序（非严格保证）。
func (m *Manager) SyncAllPending(ctx context.Context) (succeeded, failed int, err error) {
	drafts, err := m.store.ListDraftsByStatus(domain.StatusPending)
	if err != nil {
		return 0, 0, err
	}

	sortByCreatedAt(drafts)

	for i := range drafts {
		if err := m.SyncDraft(ctx, &drafts[i]); err != nil {
			failed++
			continue
		}
		succeeded++
	}

	m.log.Info("manual sync finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)
	return succeeded, failed, nil
}

// ListDrafts 返回按创建时间排序的所有草稿。
func (m *Manager) ListDrafts(ctx context.Context) ([]domain.DraftMessage, error) {
	drafts, err := m.store.ListDrafts()
	if err != nil {
		return nil, err
	}
	sortByCreatedAt(drafts)
	return drafts, nil
}

// DeleteDraft 用户主动丢弃草稿，不触发网络调用，幂等。
func (m *Manager) DeleteDraft(ctx context.Context, id string) error {
	if err := m.store.DeleteDraft(id); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.DraftsDeleted.Inc()
	}
	m.log.Info("draft discarded", zap.String("draft_id", id))
	return nil
}

// markFailed 记录失败状态并返回携带原始文本的错误。
func (m *Manager) markFailed(draft *domain.DraftMessage, message string) error {
	if err := m.store.UpdateDraftStatus(draft.ID, domain.StatusFailed, message); err != nil {
		if !errors.Is(err, store.ErrDraftNotFound) {
			return err
		}
		// 竞争的尝试已经同步并删除了这条草稿，按成功处理
		return nil
	}

	if m.metrics != nil {
		m.metrics.DraftsFailed.Inc()
	}
	m.notifyStatus(draft, domain.StatusFailed, message)
	m.log.Warn("draft delivery failed",
		zap.String("draft_id", draft.ID),
		zap.String("error", message),
	)
	return errors.New(message)
}

// notifyStatus 推送状态变化（复制草稿，不改动调用方持有的对象）。
func (m *Manager) notifyStatus(draft *domain.DraftMessage, status domain.SyncStatus, errorMessage string) {
	cp := *draft
	cp.SyncStatus = status
	cp.ErrorMessage = errorMessage
	m.notifier.DraftStatus(&cp)
}

// sortByCreatedAt 按创建时间升序排序。
func sortByCreatedAt(drafts []domain.DraftMessage) {
	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt < drafts[j].CreatedAt
	})
}
