package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/decision-zk/decisiond/pkg/store"
	"github.com/decision-zk/decisiond/pkg/wallet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st, err := store.Open(t.TempDir(), logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(logger, st, nil), st
}

func TestTrackPersistsBroadcastedRecord(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Track(ctx, store.TxRecord{ID: "at1a", Address: "aleo1abc", Method: "cast_vote"}))

	rec, ok := tr.Active("at1a")
	require.True(t, ok)
	assert.Equal(t, store.TxBroadcasted, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())

	history := st.History("aleo1abc")
	require.Len(t, history, 1)
	assert.Equal(t, store.TxBroadcasted, history[0].Status)
	assert.Equal(t, "cast_vote", history[0].Method)
}

func TestCompleteTransitionsExactlyOnce(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Track(ctx, store.TxRecord{ID: "at1a", Address: "aleo1abc"}))

	var fired atomic.Int32
	tr.OnTerminal(func(ctx context.Context, rec store.TxRecord) {
		fired.Add(1)
		assert.Equal(t, store.TxSuccess, rec.Status)
	})

	assert.True(t, tr.Complete(ctx, "at1a", store.TxSuccess))
	assert.False(t, tr.Complete(ctx, "at1a", store.TxSuccess))
	assert.False(t, tr.Complete(ctx, "at1a", store.TxFailed))
	assert.Equal(t, int32(1), fired.Load())
}

func TestCompleteRejectsNonTerminal(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Track(ctx, store.TxRecord{ID: "at1a", Address: "aleo1abc"}))

	assert.False(t, tr.Complete(ctx, "at1a", store.TxPending))
	rec, ok := tr.Active("at1a")
	require.True(t, ok)
	assert.Equal(t, store.TxBroadcasted, rec.Status)
}

func TestCompleteConcurrentCallersSingleWinner(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Track(ctx, store.TxRecord{ID: "at1a", Address: "aleo1abc"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		status := store.TxSuccess
		if i%2 == 1 {
			status = store.TxFailed
		}
		wg.Add(1)
		go func(status store.TxStatus) {
			defer wg.Done()
			if tr.Complete(ctx, "at1a", status) {
				wins.Add(1)
			}
		}(status)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	history := st.History("aleo1abc")
	require.Len(t, history, 1)
	assert.True(t, history[0].Status.Terminal())
}

func TestApplyResultUnknownIDWithAddressLandsInHistory(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()

	// Record tracked before a restart: history has it, the active set does not.
	require.NoError(t, st.UpsertHistory(ctx, "aleo1abc", store.TxRecord{
		ID: "at1gone", Address: "aleo1abc", Status: store.TxBroadcasted, Method: "cast_vote", CreatedAt: time.Now(),
	}))

	tr.ApplyResult(ctx, Result{ID: "at1gone", Address: "aleo1abc", Status: string(store.TxSuccess)})

	history := st.History("aleo1abc")
	require.Len(t, history, 1)
	assert.Equal(t, store.TxSuccess, history[0].Status)
	assert.Equal(t, "cast_vote", history[0].Method)
}

func TestApplyResultIgnoresNonTerminal(t *testing.T) {
	tr, _ := newTestTracker(t)
	assert.False(t, tr.ApplyResult(context.Background(), Result{ID: "at1a", Status: "Pending"}))
}

// statusWallet is a minimal Wallet returning scripted statuses.
type statusWallet struct {
	mu       sync.Mutex
	statuses []wallet.StatusResult
	errs     []error
	calls    int
}

func (w *statusWallet) Name() string                     { return "test" }
func (w *statusWallet) Connected() bool                  { return true }
func (w *statusWallet) Address() string                  { return "aleo1abc" }
func (w *statusWallet) Events() <-chan wallet.Event      { return nil }
func (w *statusWallet) Close()                           {}
func (w *statusWallet) Disconnect(context.Context) error { return nil }

func (w *statusWallet) Connect(context.Context, wallet.Permission, wallet.Network) (wallet.Account, error) {
	return wallet.Account{Address: "aleo1abc"}, nil
}

func (w *statusWallet) SignMessage(context.Context, []byte) ([]byte, error) { return nil, nil }

func (w *statusWallet) RequestTransaction(context.Context, wallet.Transaction) (any, error) {
	return nil, nil
}

func (w *statusWallet) RequestRecords(context.Context, string) ([]wallet.Record, error) {
	return nil, nil
}

func (w *statusWallet) Decrypt(context.Context, string) (string, error) { return "", nil }

func (w *statusWallet) TransactionStatus(ctx context.Context, id string) (wallet.StatusResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.calls
	w.calls++
	if i < len(w.errs) && w.errs[i] != nil {
		return wallet.StatusResult{}, w.errs[i]
	}
	if i >= len(w.statuses) {
		return w.statuses[len(w.statuses)-1], nil
	}
	return w.statuses[i], nil
}

func TestPollWalletCompletesOnFinalized(t *testing.T) {
	tr, st := newTestTracker(t)
	tr.pollEvery = time.Millisecond
	ctx := context.Background()
	require.NoError(t, tr.Track(ctx, store.TxRecord{ID: "at1a", Address: "aleo1abc"}))

	w := &statusWallet{
		statuses: []wallet.StatusResult{{Status: "Pending"}, {Status: "Finalized"}},
		errs:     []error{assert.AnError},
	}
	tr.PollWallet(ctx, w, "at1a")

	history := st.History("aleo1abc")
	require.Len(t, history, 1)
	assert.Equal(t, store.TxSuccess, history[0].Status)
	_, active := tr.Active("at1a")
	assert.False(t, active)
}

func TestPollWalletCompletesOnRejected(t *testing.T) {
	tr, st := newTestTracker(t)
	tr.pollEvery = time.Millisecond
	ctx := context.Background()
	require.NoError(t, tr.Track(ctx, store.TxRecord{ID: "at1a", Address: "aleo1abc"}))

	w := &statusWallet{statuses: []wallet.StatusResult{{Status: "Rejected"}}}
	tr.PollWallet(ctx, w, "at1a")

	history := st.History("aleo1abc")
	require.Len(t, history, 1)
	assert.Equal(t, store.TxFailed, history[0].Status)
}

func TestPollWalletStopsWhenRecordGone(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.pollEvery = time.Millisecond

	w := &statusWallet{statuses: []wallet.StatusResult{{Status: "Pending"}}}
	// Never tracked: the poll loop exits on its first tick.
	tr.PollWallet(context.Background(), w, "at1missing")
	assert.Zero(t, w.calls)
}

func TestEffectiveStatusStaleness(t *testing.T) {
	now := time.Now().UTC()
	fresh := store.TxRecord{ID: "at1a", Status: store.TxBroadcasted, CreatedAt: now.Add(-time.Minute)}
	stale := store.TxRecord{ID: "at1b", Status: store.TxBroadcasted, CreatedAt: now.Add(-11 * time.Minute)}
	done := store.TxRecord{ID: "at1c", Status: store.TxSuccess, CreatedAt: now.Add(-time.Hour)}

	assert.Equal(t, store.TxBroadcasted, EffectiveStatus(fresh, now))
	assert.Equal(t, store.TxFailed, EffectiveStatus(stale, now))
	assert.Equal(t, store.TxSuccess, EffectiveStatus(done, now))
}

func TestEffectiveStatusAppliedOnReadOnly(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.UpsertHistory(ctx, "aleo1abc", store.TxRecord{
		ID: "at1a", Address: "aleo1abc", Status: store.TxBroadcasted, CreatedAt: old,
	}))

	history := tr.EffectiveHistory("aleo1abc", time.Now().UTC())
	require.Len(t, history, 1)
	assert.Equal(t, store.TxFailed, history[0].Status)

	// The persisted record is untouched.
	raw := st.History("aleo1abc")
	require.Len(t, raw, 1)
	assert.Equal(t, store.TxBroadcasted, raw[0].Status)
}
