package domain

// CachedAttachment 表示一份已下载、为离线重复访问而缓存的文件。
//
// 仅用于离线读取，不参与投递正确性；超过保留窗口的条目在存储初始化时清除。
type CachedAttachment struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement:false"` // 服务器分配的附件 ID
	MessageID *int64 `json:"messageId,omitempty" gorm:"index"`         // 反向引用，仅用于查找
	Filename  string `json:"filename" gorm:"type:varchar(255)"`
	MimeType  string `json:"mimeType" gorm:"type:varchar(100)"`
	Size      int64  `json:"size"`
	Data      []byte `json:"-" gorm:"type:blob"`
	CachedAt  int64  `json:"cachedAt"` // 毫秒时间戳，用于按时间淘汰
}

// TableName 指定表名
func (CachedAttachment) TableName() string {
	return "attachments_cache"
}
