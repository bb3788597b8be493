package domain

// SyncStatus 草稿同步状态（闭合枚举）
//
// 状态机:
//   - pending: 已创建，从未尝试，或平台要求稍后重试
//   - syncing: 一次投递尝试正在进行（网络调用前立即设置）
//   - synced:  瞬态信号，投递成功后记录立即删除，不会落库
//   - failed:  最近一次尝试被拒绝或出错，携带 ErrorMessage
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// IsValid 检查状态值是否合法
func (s SyncStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// AtRest 检查状态是否可能出现在存储中
//
// synced 记录在成功投递后立即删除，落库的 synced 行说明删除环节有 bug。
func (s SyncStatus) AtRest() bool {
	return s == StatusPending || s == StatusSyncing || s == StatusFailed
}
