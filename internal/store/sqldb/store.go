package sqldb

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ecodoc/agent/internal/domain"
	"ecodoc/agent/internal/store"
)

// schemaVersion 本地库结构版本。版本不一致时整库重建：
// 草稿本来就是尚未提交到服务器的数据，没有不可替代的内容。
const schemaVersion = 1

// schemaMeta 结构版本标记行。
type schemaMeta struct {
	ID      int `gorm:"primaryKey"`
	Version int
}

func (schemaMeta) TableName() string {
	return "schema_meta"
}

// Config SQL 存储配置
type Config struct {
	Driver              string        // "sqlite" 或 "postgres"
	DSN                 string        // sqlite: 文件路径; postgres: 连接字符串
	AttachmentRetention time.Duration // 附件缓存保留窗口
}

// Store 基于 GORM 的持久化存储实现。
//
// 默认使用 SQLite 单文件库；当页面侧与后台同步以独立进程部署、
// 需要共享同一份数据时可切换为 PostgreSQL。
type Store struct {
	db        *gorm.DB
	retention time.Duration
	log       *zap.Logger
}

// openGroup 合并并发的 Open 调用：同一 DSN 的并发调用方等待同一次初始化。
var openGroup singleflight.Group

// Open 打开（或创建）本地存储，可安全地并发多次调用。
//
// 宿主环境拒绝持久化时返回包装了 store.ErrStorageUnavailable 的错误，
// 调用方应降级为"离线功能禁用"而不是退出。
func Open(cfg Config, log *zap.Logger) (*Store, error) {
	v, err, _ := openGroup.Do(cfg.Driver+":"+cfg.DSN, func() (interface{}, error) {
		return open(cfg, log)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

func open(cfg Config, log *zap.Logger) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		db, err = gorm.Open(sqlite.Open(cfg.DSN), gormConfig)
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	s := &Store{
		db:        db,
		retention: cfg.AttachmentRetention,
		log:       log,
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	// 保留窗口清理只在打开时执行一次，不走定时器：
	// 一个会话内的过期陈旧可以接受。
	if count, err := s.CleanupExpiredAttachments(); err != nil {
		log.Warn("attachment cache cleanup failed", zap.Error(err))
	} else if count > 0 {
		log.Info("expired cached attachments removed", zap.Int("count", count))
	}

	return s, nil
}

// migrate 检查结构版本并执行迁移。
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&schemaMeta{}); err != nil {
		return err
	}

	var meta schemaMeta
	err := s.db.First(&meta, 1).Error
	switch {
	case err == nil && meta.Version != schemaVersion:
		s.log.Warn("store schema version mismatch, wiping local data",
			zap.Int("found", meta.Version),
			zap.Int("expected", schemaVersion),
		)
		if err := s.db.Migrator().DropTable(&domain.DraftMessage{}, &domain.CachedAttachment{}); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	if err := s.db.AutoMigrate(&domain.DraftMessage{}, &domain.CachedAttachment{}); err != nil {
		return err
	}

	return s.db.Save(&schemaMeta{ID: 1, Version: schemaVersion}).Error
}

// SaveDraft 按 ID 插入或覆盖草稿，单记录原子写。
func (s *Store) SaveDraft(draft *domain.DraftMessage) error {
	return s.db.Save(draft).Error
}

// GetDraft 根据 ID 获取草稿。
func (s *Store) GetDraft(id string) (*domain.DraftMessage, error) {
	var draft domain.DraftMessage
	if err := s.db.First(&draft, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrDraftNotFound
		}
		return nil, err
	}
	return &draft, nil
}

// ListDrafts 返回所有草稿。
func (s *Store) ListDrafts() ([]domain.DraftMessage, error) {
	var drafts []domain.DraftMessage
	if err := s.db.Find(&drafts).Error; err != nil {
		return nil, err
	}
	return drafts, nil
}

// ListDraftsByStatus 返回处于任一给定状态的草稿。
func (s *Store) ListDraftsByStatus(statuses ...domain.SyncStatus) ([]domain.DraftMessage, error) {
	var drafts []domain.DraftMessage
	if err := s.db.Where("sync_status IN ?", statuses).Find(&drafts).Error; err != nil {
		return nil, err
	}
	return drafts, nil
}

// UpdateDraftStatus 部分更新草稿状态，缺失记录返回 store.ErrDraftNotFound。
func (s *Store) UpdateDraftStatus(id string, status domain.SyncStatus, errorMessage string) error {
	res := s.db.Model(&domain.DraftMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status":   status,
			"error_message": errorMessage,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrDraftNotFound
	}
	return nil
}

// DeleteDraft 删除草稿，幂等。
func (s *Store) DeleteDraft(id string) error {
	return s.db.Delete(&domain.DraftMessage{}, "id = ?", id).Error
}

// SaveCachedAttachment 写入附件缓存。
func (s *Store) SaveCachedAttachment(att *domain.CachedAttachment) error {
	if att.CachedAt == 0 {
		att.CachedAt = time.Now().UnixMilli()
	}
	return s.db.Save(att).Error
}

// GetCachedAttachment 读取缓存附件，未命中返回 store.ErrAttachmentNotFound。
func (s *Store) GetCachedAttachment(id int64) (*domain.CachedAttachment, error) {
	var att domain.CachedAttachment
	if err := s.db.First(&att, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrAttachmentNotFound
		}
		return nil, err
	}
	return &att, nil
}

// CleanupExpiredAttachments 删除超过保留窗口的缓存附件。
func (s *Store) CleanupExpiredAttachments() (int, error) {
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	res := s.db.Delete(&domain.CachedAttachment{}, "cached_at < ?", cutoff)
	return int(res.RowsAffected), res.Error
}

// Health 检查底层数据库连接。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
