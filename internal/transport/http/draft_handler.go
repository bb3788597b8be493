package httptransport

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ecodoc/agent/internal/domain"
	"ecodoc/agent/internal/draft"
	"ecodoc/agent/internal/store"
)

// DraftHandler 草稿相关的 HTTP 处理逻辑。
type DraftHandler struct {
	manager *draft.Manager
	store   store.Store
	log     *zap.Logger
}

// NewDraftHandler 创建草稿处理器。
func NewDraftHandler(manager *draft.Manager, st store.Store, log *zap.Logger) *DraftHandler {
	return &DraftHandler{manager: manager, store: st, log: log}
}

// Create 保存草稿
//
// POST /api/v1/drafts（multipart 表单，与门户公文创建端点同构：
// subject、content、recipientIds JSON 数组、可选 documentNumber、attachments 文件）
func (h *DraftHandler) Create(c *gin.Context) {
	input, err := parseDraftForm(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	saved, err := h.manager.SaveDraft(c.Request.Context(), *input)
	if err != nil {
		if errors.Is(err, domain.ErrEmptySubject) {
			BadRequest(c, "主题不能为空")
			return
		}
		if errors.Is(err, store.ErrStorageUnavailable) {
			Unavailable(c, "本地存储不可用，离线草稿功能已禁用")
			return
		}
		InternalError(c, "保存草稿失败")
		return
	}

	Created(c, saved)
}

// List 按创建时间排序返回所有草稿
//
// GET /api/v1/drafts
func (h *DraftHandler) List(c *gin.Context) {
	drafts, err := h.manager.ListDrafts(c.Request.Context())
	if err != nil {
		InternalError(c, "读取草稿列表失败")
		return
	}
	Success(c, drafts)
}

// Delete 丢弃草稿（幂等，无网络调用）
//
// DELETE /api/v1/drafts/:id
func (h *DraftHandler) Delete(c *gin.Context) {
	if err := h.manager.DeleteDraft(c.Request.Context(), c.Param("id")); err != nil {
		InternalError(c, "删除草稿失败")
		return
	}
	NoContent(c)
}

// Sync 手动重试单条草稿
//
// POST /api/v1/drafts/:id/sync
func (h *DraftHandler) Sync(c *gin.Context) {
	id := c.Param("id")

	d, err := h.store.GetDraft(id)
	if err != nil {
		if errors.Is(err, store.ErrDraftNotFound) {
			NotFound(c, "草稿不存在")
			return
		}
		InternalError(c, "读取草稿失败")
		return
	}

	// 同步失败不算请求失败：失败状态已落库，前端展示状态徽标即可
	syncErr := h.manager.SyncDraft(c.Request.Context(), d)

	result, err := h.store.GetDraft(id)
	if errors.Is(err, store.ErrDraftNotFound) {
		// 记录已删除说明投递成功
		Success(c, gin.H{"id": id, "syncStatus": domain.StatusSynced})
		return
	}
	if err != nil {
		InternalError(c, "读取草稿失败")
		return
	}
	if syncErr != nil {
		h.log.Debug("manual sync attempt failed", zap.String("draft_id", id), zap.Error(syncErr))
	}
	Success(c, result)
}

// SyncAll 手动同步所有 pending 草稿
//
// POST /api/v1/drafts/sync
func (h *DraftHandler) SyncAll(c *gin.Context) {
	succeeded, failed, err := h.manager.SyncAllPending(c.Request.Context())
	if err != nil {
		InternalError(c, "同步失败")
		return
	}
	Success(c, gin.H{
		"succeeded": succeeded,
		"failed":    failed,
	})
}

// parseDraftForm 解析 multipart 草稿表单。
func parseDraftForm(c *gin.Context) (*draft.Input, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, errors.New("请求必须是 multipart 表单")
	}

	input := &draft.Input{
		Subject:        formValue(form.Value, "subject"),
		Content:        formValue(form.Value, "content"),
		DocumentNumber: formValue(form.Value, "documentNumber"),
	}

	if raw := formValue(form.Value, "recipientIds"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.RecipientIDs); err != nil {
			return nil, errors.New("recipientIds 必须是 JSON 整数数组")
		}
	}

	for _, fh := range form.File["attachments"] {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		input.Attachments = append(input.Attachments, domain.DraftAttachment{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	return input, nil
}

func formValue(values map[string][]string, key string) string {
	if v, ok := values[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}
