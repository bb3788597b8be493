package httptransport

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ecodoc/agent/internal/portal"
	"ecodoc/agent/internal/store"
)

// AttachmentHandler 缓存附件读取。
type AttachmentHandler struct {
	store  store.Store
	portal *portal.Client
	log    *zap.Logger
}

// NewAttachmentHandler 创建附件处理器。
func NewAttachmentHandler(st store.Store, client *portal.Client, log *zap.Logger) *AttachmentHandler {
	return &AttachmentHandler{store: st, portal: client, log: log}
}

// Get 读取附件：缓存命中直接返回，未命中回源门户并写通缓存
//
// GET /api/v1/attachments/:id
//
// 缓存只服务离线重复访问，不参与正确性：离线且未命中时返回 503。
func (h *AttachmentHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "附件 ID 必须是整数")
		return
	}

	att, err := h.store.GetCachedAttachment(id)
	if err == nil {
		writeAttachment(c, att.MimeType, att.Filename, att.Data)
		return
	}
	if !errors.Is(err, store.ErrAttachmentNotFound) {
		InternalError(c, "读取附件缓存失败")
		return
	}

	// 缓存未命中按"需要回源"处理，不是错误
	fetched, err := h.portal.FetchAttachment(c.Request.Context(), id)
	if err != nil {
		h.log.Debug("attachment fetch failed", zap.Int64("attachment_id", id), zap.Error(err))
		Unavailable(c, "附件未缓存且门户不可达")
		return
	}

	// 写通缓存，失败只记日志（缓存是机会性的）
	if err := h.store.SaveCachedAttachment(fetched); err != nil {
		h.log.Warn("attachment cache write failed", zap.Int64("attachment_id", id), zap.Error(err))
	}

	writeAttachment(c, fetched.MimeType, fetched.Filename, fetched.Data)
}

func writeAttachment(c *gin.Context, mimeType, filename string, data []byte) {
	if filename != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Data(200, mimeType, data)
}
