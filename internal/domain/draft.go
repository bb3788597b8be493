package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DraftMessage 表示一条本地排队、尚未提交到门户服务器的待发公文。
//
// 除 SyncStatus / ErrorMessage 与删除外，记录创建后不再变更。
type DraftMessage struct {
	ID             string            `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Subject        string            `json:"subject" gorm:"type:varchar(500)"`
	Content        string            `json:"content" gorm:"type:text"`
	RecipientIDs   []int             `json:"recipientIds" gorm:"serializer:json;type:text"` // JSON 编码的收文部门 ID 列表
	DocumentNumber string            `json:"documentNumber,omitempty" gorm:"type:varchar(100)"`
	Attachments    []DraftAttachment `json:"attachments,omitempty" gorm:"serializer:json;type:text"` // 附件内联存储（离线时服务器不可达）
	CreatedAt      int64             `json:"createdAt" gorm:"autoCreateTime:false"`                  // 毫秒时间戳，创建后不变
	SyncStatus     SyncStatus        `json:"syncStatus" gorm:"type:varchar(16);index"`
	ErrorMessage   string            `json:"errorMessage,omitempty" gorm:"type:text"` // 仅在 failed 状态下有值
}

// TableName 指定表名
func (DraftMessage) TableName() string {
	return "drafts"
}

// DraftAttachment 草稿附件，二进制内容随草稿内联保存。
type DraftAttachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// NewDraftID 生成草稿本地 ID
//
// 格式: 毫秒时间戳 + 随机后缀，避免快速连续创建时冲突。
func NewDraftID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
