package notify

import (
	"go.uber.org/zap"

	"ecodoc/agent/internal/domain"
)

// Notifier 向用户界面推送同步进展。
//
// 通知是尽力而为的：任何实现的失败都不得影响投递正确性，
// 调用方不检查错误。
type Notifier interface {
	// DraftStatus 推送单条草稿的状态变化
	DraftStatus(draft *domain.DraftMessage)
	// SyncSummary 推送一批后台同步的结果摘要
	SyncSummary(succeeded, failed int)
}

// LogNotifier 把通知写入日志，在没有 UI 连接时作为兜底实现。
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier 创建日志通知器。
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// DraftStatus 记录草稿状态变化。
func (n *LogNotifier) DraftStatus(draft *domain.DraftMessage) {
	n.log.Info("draft status changed",
		zap.String("draft_id", draft.ID),
		zap.String("status", string(draft.SyncStatus)),
		zap.String("error", draft.ErrorMessage),
	)
}

// SyncSummary 记录同步批次摘要。
func (n *LogNotifier) SyncSummary(succeeded, failed int) {
	n.log.Info("background sync completed",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)
}

// Multi 将通知扇出到多个实现。
type Multi []Notifier

// DraftStatus 依次通知所有实现。
func (m Multi) DraftStatus(draft *domain.DraftMessage) {
	for _, n := range m {
		n.DraftStatus(draft)
	}
}

// SyncSummary 依次通知所有实现。
func (m Multi) SyncSummary(succeeded, failed int) {
	for _, n := range m {
		n.SyncSummary(succeeded, failed)
	}
}
