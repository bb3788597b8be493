package draft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecodoc/agent/internal/domain"
	"ecodoc/agent/internal/notify"
	"ecodoc/agent/internal/store/memory"
)

// fakeUplink 记录投递调用，可按草稿 ID 注入失败。
type fakeUplink struct {
	mu       sync.Mutex
	sent     []string
	failWith map[string]error
}

func newFakeUplink() *fakeUplink {
	return &fakeUplink{failWith: make(map[string]error)}
}

func (f *fakeUplink) SendMessage(ctx context.Context, draft *domain.DraftMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[draft.ID]; ok {
		return err
	}
	f.sent = append(f.sent, draft.ID)
	return nil
}

func (f *fakeUplink) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeRegistrar 记录同步登记次数。
type fakeRegistrar struct {
	mu    sync.Mutex
	count int
}

func (f *fakeRegistrar) RequestSync(ctx context.Context) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *memory.Store, *fakeUplink, *fakeRegistrar) {
	t.Helper()
	st := memory.NewStore(7 * 24 * time.Hour)
	uplink := newFakeUplink()
	registrar := &fakeRegistrar{}
	m := NewManager(st, uplink, registrar, notify.NewLogNotifier(zap.NewNop()), nil, zap.NewNop())
	return m, st, uplink, registrar
}

func TestManager_SaveDraft(t *testing.T) {
	m, st, uplink, registrar := newTestManager(t)
	ctx := context.Background()

	// 场景 A: 离线保存草稿，不触发网络调用
	saved, err := m.SaveDraft(ctx, Input{
		Subject:      "Report",
		Content:      "Q3 data",
		RecipientIDs: []int{5},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, saved.SyncStatus)
	assert.NotEmpty(t, saved.ID)
	assert.NotZero(t, saved.CreatedAt)
	assert.Empty(t, uplink.sentIDs(), "saving a draft must not attempt delivery")
	assert.Equal(t, 1, registrar.count, "saving must register a background sync intent")

	drafts, err := st.ListDraftsByStatus(domain.StatusPending)
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
}

func TestManager_SaveDraft_UniqueIDs(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		saved, err := m.SaveDraft(ctx, Input{Subject: "Report"})
		require.NoError(t, err)
		assert.False(t, seen[saved.ID])
		seen[saved.ID] = true
	}
}

func TestManager_SyncDraft(t *testing.T) {
	t.Run("成功投递后记录删除", func(t *testing.T) {
		// 场景 B
		m, st, uplink, _ := newTestManager(t)
		ctx := context.Background()

		saved, err := m.SaveDraft(ctx, Input{Subject: "Report", RecipientIDs: []int{5}})
		require.NoError(t, err)

		require.NoError(t, m.SyncDraft(ctx, saved))
		assert.Equal(t, []string{saved.ID}, uplink.sentIDs())

		drafts, err := st.ListDrafts()
		require.NoError(t, err)
		assert.Empty(t, drafts, "synced draft must be deleted, not retained")
	})

	t.Run("服务器拒绝置为 failed 并保留原始错误文本", func(t *testing.T) {
		// 场景 C
		m, st, uplink, _ := newTestManager(t)
		ctx := context.Background()

		saved, err := m.SaveDraft(ctx, Input{Subject: "Report", RecipientIDs: []int{5}})
		require.NoError(t, err)

		uplink.failWith[saved.ID] = errors.New("500 Internal Server Error: boom")
		err = m.SyncDraft(ctx, saved)
		require.Error(t, err)

		got, err := st.GetDraft(saved.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.SyncStatus)
		assert.Equal(t, "500 Internal Server Error: boom", got.ErrorMessage)

		// failed 草稿手动重试仍可成功并删除
		delete(uplink.failWith, saved.ID)
		require.NoError(t, m.SyncDraft(ctx, got))

		drafts, err := st.ListDrafts()
		require.NoError(t, err)
		assert.Empty(t, drafts)
	})

	t.Run("无收文部门客户端拦截不发请求", func(t *testing.T) {
		m, st, uplink, _ := newTestManager(t)
		ctx := context.Background()

		saved, err := m.SaveDraft(ctx, Input{Subject: "Report"})
		require.NoError(t, err)

		err = m.SyncDraft(ctx, saved)
		require.Error(t, err)
		assert.Empty(t, uplink.sentIDs(), "request must be blocked client-side")

		got, err := st.GetDraft(saved.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.SyncStatus)
		assert.NotEmpty(t, got.ErrorMessage)
	})

	t.Run("记录已被竞争尝试删除时静默无操作", func(t *testing.T) {
		m, st, uplink, _ := newTestManager(t)
		ctx := context.Background()

		saved, err := m.SaveDraft(ctx, Input{Subject: "Report", RecipientIDs: []int{5}})
		require.NoError(t, err)

		require.NoError(t, m.SyncDraft(ctx, saved))
		require.Len(t, uplink.sentIDs(), 1)

		// 第二次调用观察到"记录已不存在"，不再投递也不报错
		require.NoError(t, m.SyncDraft(ctx, saved))
		assert.Len(t, uplink.sentIDs(), 1, "at most one successful submission")

		drafts, err := st.ListDrafts()
		require.NoError(t, err)
		assert.Empty(t, drafts)
	})

	t.Run("并发调用同一草稿不崩溃", func(t *testing.T) {
		m, _, _, _ := newTestManager(t)
		ctx := context.Background()

		saved, err := m.SaveDraft(ctx, Input{Subject: "Report", RecipientIDs: []int{5}})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = m.SyncDraft(ctx, saved)
			}()
		}
		wg.Wait()
	})
}

func TestManager_SyncAllPending(t *testing.T) {
	t.Run("严格按创建时间顺序投递", func(t *testing.T) {
		m, st, uplink, _ := newTestManager(t)
		ctx := context.Background()

		// 倒序写入，投递必须按 CreatedAt 升序
		for i, id := range []string{"t3", "t2", "t1"} {
			require.NoError(t, st.SaveDraft(&domain.DraftMessage{
				ID:           id,
				Subject:      "Report",
				RecipientIDs: []int{5},
				CreatedAt:    int64(300 - i*100),
				SyncStatus:   domain.StatusPending,
			}))
		}

		succeeded, failed, err := m.SyncAllPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, succeeded)
		assert.Equal(t, 0, failed)
		assert.Equal(t, []string{"t1", "t2", "t3"}, uplink.sentIDs())
	})

	t.Run("单条失败不中断批次", func(t *testing.T) {
		// 场景 D
		m, st, uplink, _ := newTestManager(t)
		ctx := context.Background()

		_, err := m.SaveDraft(ctx, Input{Subject: "one", RecipientIDs: []int{1}})
		require.NoError(t, err)
		second, err := m.SaveDraft(ctx, Input{Subject: "two", RecipientIDs: []int{2}})
		require.NoError(t, err)

		uplink.failWith[second.ID] = errors.New("503 Service Unavailable")

		succeeded, failed, err := m.SyncAllPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, failed)

		pending, err := st.ListDraftsByStatus(domain.StatusPending)
		require.NoError(t, err)
		assert.Empty(t, pending)

		failedDrafts, err := st.ListDraftsByStatus(domain.StatusFailed)
		require.NoError(t, err)
		require.Len(t, failedDrafts, 1)
		assert.Equal(t, second.ID, failedDrafts[0].ID)
		assert.Equal(t, "503 Service Unavailable", failedDrafts[0].ErrorMessage)
	})

	t.Run("failed 草稿不参与 pending 批次", func(t *testing.T) {
		m, st, uplink, _ := newTestManager(t)
		ctx := context.Background()

		require.NoError(t, st.SaveDraft(&domain.DraftMessage{
			ID: "failed-1", Subject: "x", RecipientIDs: []int{1},
			CreatedAt: 100, SyncStatus: domain.StatusFailed, ErrorMessage: "old error",
		}))

		succeeded, failed, err := m.SyncAllPending(ctx)
		require.NoError(t, err)
		assert.Zero(t, succeeded)
		assert.Zero(t, failed)
		assert.Empty(t, uplink.sentIDs())
	})
}

func TestManager_DeleteDraft(t *testing.T) {
	m, st, uplink, _ := newTestManager(t)
	ctx := context.Background()

	saved, err := m.SaveDraft(ctx, Input{Subject: "Report", RecipientIDs: []int{5}})
	require.NoError(t, err)

	require.NoError(t, m.DeleteDraft(ctx, saved.ID))
	require.NoError(t, m.DeleteDraft(ctx, saved.ID), "delete must be idempotent")

	drafts, err := st.ListDrafts()
	require.NoError(t, err)
	assert.Empty(t, drafts)
	assert.Empty(t, uplink.sentIDs(), "discard must not trigger a network call")
}
