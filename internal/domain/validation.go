package domain

import "errors"

var (
	// ErrNoRecipients 草稿没有收文部门，提交前必须至少选择一个
	ErrNoRecipients = errors.New("draft has no recipients")
	// ErrEmptySubject 草稿主题为空
	ErrEmptySubject = errors.New("draft subject must not be empty")
)

// Validate 检查草稿是否满足保存要求
//
// 收文部门列表允许在保存时为空（提交前才强制非空）。
func (d *DraftMessage) Validate() error {
	if d.Subject == "" {
		return ErrEmptySubject
	}
	return nil
}

// CanSubmit 检查草稿是否满足投递要求
func (d *DraftMessage) CanSubmit() error {
	if len(d.RecipientIDs) == 0 {
		return ErrNoRecipients
	}
	return nil
}
