package syncer

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
	"ecodoc/agent/internal/store/memory"
)

// fakeSyncer 模拟单条投递：成功则删除草稿，失败则置 failed。
type fakeSyncer struct {
	st       *memory.Store
	failWith map[string]error
	synced   []string
}

func (f *fakeSyncer) SyncDraft(ctx context.Context, draft *domain.DraftMessage) error {
	if err, ok := f.failWith[draft.ID]; ok {
		_ = f.st.UpdateDraftStatus(draft.ID, domain.StatusFailed, err.Error())
		return err
	}
	f.synced = append(f.synced, draft.ID)
	return f.st.DeleteDraft(draft.ID)
}

// recordingNotifier 记录推送的同步摘要。
type recordingNotifier struct {
	mu        sync.Mutex
	summaries [][2]int
}

func (r *recordingNotifier) DraftStatus(draft *domain.DraftMessage) {}

func (r *recordingNotifier) SyncSummary(succeeded, failed int) {
	r.mu.Lock()
	r.summaries = append(r.summaries, [2]int{succeeded, failed})
	r.mu.Unlock()
}

func seedDraft(t *testing.T, st *memory.Store, id string, createdAt int64, status domain.SyncStatus) {
	t.Helper()
	require.NoError(t, st.SaveDraft(&domain.DraftMessage{
		ID:           id,
		Subject:      "Report",
		RecipientIDs: []int{5},
		CreatedAt:    createdAt,
		SyncStatus:   status,
	}))
}

func TestWorker_HandleSyncEvent(t *testing.T) {
	t.Run("无草稿时静默完成", func(t *testing.T) {
		st := memory.NewStore(time.Hour)
		fs := &fakeSyncer{st: st, failWith: map[string]error{}}
		rn := &recordingNotifier{}
		w := NewWorker(st, fs, rn, nil, false, zap.NewNop())

		succeeded, failed, err := w.HandleSyncEvent(context.Background())
		require.NoError(t, err)
		assert.Zero(t, succeeded)
		assert.Zero(t, failed)
		assert.Empty(t, rn.summaries, "empty batch must not notify")
	})

	t.Run("按创建时间顺序批量投递并推送摘要", func(t *testing.T) {
		st := memory.NewStore(time.Hour)
		seedDraft(t, st, "b", 200, domain.StatusPending)
		seedDraft(t, st, "a", 100, domain.StatusPending)
		seedDraft(t, st, "c", 300, domain.StatusPending)

		fs := &fakeSyncer{st: st, failWith: map[string]error{}}
		rn := &recordingNotifier{}
		w := NewWorker(st, fs, rn, nil, false, zap.NewNop())

		succeeded, failed, err := w.HandleSyncEvent(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, succeeded)
		assert.Zero(t, failed)
		assert.Equal(t, []string{"a", "b", "c"}, fs.synced)
		require.Len(t, rn.summaries, 1)
		assert.Equal(t, [2]int{3, 0}, rn.summaries[0])
	})

	t.Run("单条失败不中断批次", func(t *testing.T) {
		st := memory.NewStore(time.Hour)
		seedDraft(t, st, "a", 100, domain.StatusPending)
		seedDraft(t, st, "b", 200, domain.StatusPending)
		seedDraft(t, st, "c", 300, domain.StatusPending)

		fs := &fakeSyncer{st: st, failWith: map[string]error{
			"b": errors.New("503 Service Unavailable"),
		}}
		rn := &recordingNotifier{}
		w := NewWorker(st, fs, rn, nil, false, zap.NewNop())

		succeeded, failed, err := w.HandleSyncEvent(context.Background())
		require.NoError(t, err, "per-draft failure must not surface as a batch error")
		assert.Equal(t, 2, succeeded)
		assert.Equal(t, 1, failed)
		assert.Equal(t, []string{"a", "c"}, fs.synced)

		left, err := st.ListDraftsByStatus(domain.StatusFailed)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "b", left[0].ID)
	})

	t.Run("卡在 syncing 的草稿可重试", func(t *testing.T) {
		// 上一次进程在投递途中被终止的情形
		st := memory.NewStore(time.Hour)
		seedDraft(t, st, "stuck", 100, domain.StatusSyncing)

		fs := &fakeSyncer{st: st, failWith: map[string]error{}}
		w := NewWorker(st, fs, &recordingNotifier{}, nil, false, zap.NewNop())

		succeeded, _, err := w.HandleSyncEvent(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, []string{"stuck"}, fs.synced)
	})

	t.Run("failed 草稿默认不自动重试", func(t *testing.T) {
		st := memory.NewStore(time.Hour)
		seedDraft(t, st, "f", 100, domain.StatusFailed)

		fs := &fakeSyncer{st: st, failWith: map[string]error{}}
		w := NewWorker(st, fs, &recordingNotifier{}, nil, false, zap.NewNop())

		succeeded, failed, err := w.HandleSyncEvent(context.Background())
		require.NoError(t, err)
		assert.Zero(t, succeeded)
		assert.Zero(t, failed)
		assert.Empty(t, fs.synced)
	})

	t.Run("retry_failed 开启时 failed 草稿参与批次", func(t *testing.T) {
		st := memory.NewStore(time.Hour)
		seedDraft(t, st, "f", 100, domain.StatusFailed)

		fs := &fakeSyncer{st: st, failWith: map[string]error{}}
		w := NewWorker(st, fs, &recordingNotifier{}, nil, true, zap.NewNop())

		succeeded, _, err := w.HandleSyncEvent(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, succeeded)
	})
}

func TestBus_RequestSyncCoalesces(t *testing.T) {
	bus := NewBus(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := bus.Signals(ctx)

	// 连续多次登记应合并为至少一个、至多少数几个信号
	for i := 0; i < 5; i++ {
		bus.RequestSync(ctx)
	}

	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatal("expected a sync signal")
	}

	// 消费完积压后不再有新信号
	drained := false
	for !drained {
		select {
		case <-signals:
		case <-time.After(50 * time.Millisecond):
			drained = true
		}
	}

	select {
	case <-signals:
		t.Fatal("signals must coalesce, not accumulate")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SignalsCloseOnCancel(t *testing.T) {
	bus := NewBus(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	signals := bus.Signals(ctx)
	cancel()

	select {
	case _, ok := <-signals:
		assert.False(t, ok, "channel must close when context is cancelled")
	case <-time.After(time.Second):
		t.Fatal("signal channel did not close")
	}
}
