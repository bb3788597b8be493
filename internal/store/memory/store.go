package memory

import (
	"sync"
	"time"

	"ecodoc/agent/internal/domain"
	"ecodoc/agent/internal/store"
)

// Store 使用内存保存草稿与附件缓存，主要用于开发验证与测试。
//
// 与 SQL 实现遵循同一接口语义：单键读写，缺失记录更新返回
// store.ErrDraftNotFound，删除幂等。
type Store struct {
	mu          sync.RWMutex
	drafts      map[string]*domain.DraftMessage
	attachments map[int64]*domain.CachedAttachment

	retention time.Duration
}

// NewStore 创建一个内存存储实例。
func NewStore(retention time.Duration) *Store {
	return &Store{
		drafts:      make(map[string]*domain.DraftMessage),
		attachments: make(map[int64]*domain.CachedAttachment),
		retention:   retention,
	}
}

// SaveDraft 按 ID 插入或覆盖草稿。
func (s *Store) SaveDraft(draft *domain.DraftMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *draft
	s.drafts[draft.ID] = &cp
	return nil
}

// GetDraft 根据 ID 获取草稿。
func (s *Store) GetDraft(id string) (*domain.DraftMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	draft, ok := s.drafts[id]
	if !ok {
		return nil, store.ErrDraftNotFound
	}
	cp := *draft
	return &cp, nil
}

// ListDrafts 返回所有草稿，顺序无保证，调用方按 CreatedAt 排序。
func (s *Store) ListDrafts() ([]domain.DraftMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DraftMessage, 0, len(s.drafts))
	for _, draft := range s.drafts {
		out = append(out, *draft)
	}
	return out, nil
}

// ListDraftsByStatus 返回处于任一给定状态的草稿。
func (s *Store) ListDraftsByStatus(statuses ...domain.SyncStatus) ([]domain.DraftMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[domain.SyncStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	out := make([]domain.DraftMessage, 0)
	for _, draft := range s.drafts {
		if want[draft.SyncStatus] {
			out = append(out, *draft)
		}
	}
	return out, nil
}

// UpdateDraftStatus 部分更新草稿状态。
//
// 草稿可能已被并发的同步尝试删除，此时返回 store.ErrDraftNotFound，
// 调用方按无操作处理而不是崩溃。
func (s *Store) UpdateDraftStatus(id string, status domain.SyncStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[id]
	if !ok {
		return store.ErrDraftNotFound
	}
	draft.SyncStatus = status
	draft.ErrorMessage = errorMessage
	return nil
}

// DeleteDraft 删除草稿，幂等。
func (s *Store) DeleteDraft(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, id)
	return nil
}

// SaveCachedAttachment 写入附件缓存。
func (s *Store) SaveCachedAttachment(att *domain.CachedAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *att
	if cp.CachedAt == 0 {
		cp.CachedAt = time.Now().UnixMilli()
	}
	s.attachments[att.ID] = &cp
	return nil
}

// GetCachedAttachment 读取缓存附件，未命中返回 store.ErrAttachmentNotFound。
func (s *Store) GetCachedAttachment(id int64) (*domain.CachedAttachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, ok := s.attachments[id]
	if !ok {
		return nil, store.ErrAttachmentNotFound
	}
	cp := *att
	return &cp, nil
}

// CleanupExpiredAttachments 删除超过保留窗口的缓存附件。
func (s *Store) CleanupExpiredAttachments() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention).UnixMilli()
	count := 0
	for id, att := range s.attachments {
		if att.CachedAt < cutoff {
			delete(s.attachments, id)
			count++
		}
	}
	return count, nil
}

// Health 内存存储始终健康。
func (s *Store) Health() error {
	return nil
}

// Close 释放资源（内存实现无操作）。
func (s *Store) Close() error {
	return nil
}
