package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDraftID(t *testing.T) {
	t.Run("快速连续创建不冲突", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			id := NewDraftID()
			assert.False(t, seen[id], "duplicate draft id: %s", id)
			seen[id] = true
		}
	})
}

func TestSyncStatus(t *testing.T) {
	tests := []struct {
		name   string
		status SyncStatus
		valid  bool
		atRest bool
	}{
		{"pending", StatusPending, true, true},
		{"syncing", StatusSyncing, true, true},
		{"failed", StatusFailed, true, true},
		{"synced 合法但不落库", StatusSynced, true, false},
		{"未知状态非法", SyncStatus("done"), false, false},
		{"空状态非法", SyncStatus(""), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.IsValid())
			assert.Equal(t, tt.atRest, tt.status.AtRest())
		})
	}
}

func TestDraftValidate(t *testing.T) {
	t.Run("主题为空拒绝保存", func(t *testing.T) {
		d := &DraftMessage{Content: "Q3 data"}
		assert.ErrorIs(t, d.Validate(), ErrEmptySubject)
	})

	t.Run("内容允许为空", func(t *testing.T) {
		d := &DraftMessage{Subject: "Report"}
		assert.NoError(t, d.Validate())
	})

	t.Run("收文部门为空允许保存但禁止提交", func(t *testing.T) {
		d := &DraftMessage{Subject: "Report"}
		assert.NoError(t, d.Validate())
		assert.ErrorIs(t, d.CanSubmit(), ErrNoRecipients)
	})

	t.Run("有收文部门可以提交", func(t *testing.T) {
		d := &DraftMessage{Subject: "Report", RecipientIDs: []int{5}}
		assert.NoError(t, d.CanSubmit())
	})
}
