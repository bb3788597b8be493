package store

import (
	"errors"

	"ecodoc/agent/internal/domain"
)

var (
	// ErrDraftNotFound 草稿不存在（可能已被并发的同步尝试删除，调用方按无操作处理）
	ErrDraftNotFound = errors.New("draft not found")
	// ErrAttachmentNotFound 附件缓存未命中（不是错误，调用方回源网络获取）
	ErrAttachmentNotFound = errors.New("attachment not found in cache")
	// ErrStorageUnavailable 宿主环境拒绝持久化存储，离线功能降级禁用
	ErrStorageUnavailable = errors.New("persistent storage unavailable")
)

// Store 定义草稿与附件缓存的持久化操作。
//
// 页面侧（Draft Manager）与后台同步（Worker）共享同一份数据，
// 所有变更都是单键 upsert/delete，不提供多记录事务 —— 无锁并发
// 安全性完全依赖 DeleteDraft 作为提交点以及对缺失记录更新的无操作化。
type Store interface {
	// ========== Draft Repository ==========
	SaveDraft(draft *domain.DraftMessage) error
	GetDraft(id string) (*domain.DraftMessage, error)
	ListDrafts() ([]domain.DraftMessage, error)
	ListDraftsByStatus(statuses ...domain.SyncStatus) ([]domain.DraftMessage, error)
	UpdateDraftStatus(id string, status domain.SyncStatus, errorMessage string) error
	DeleteDraft(id string) error // 幂等，删除不存在的 ID 不报错

	// ========== Attachment Cache Repository ==========
	SaveCachedAttachment(att *domain.CachedAttachment) error
	GetCachedAttachment(id int64) (*domain.CachedAttachment, error)
	CleanupExpiredAttachments() (int, error) // 删除超过保留窗口的缓存附件，返回删除数量

	Health() error
	Close() error
}
