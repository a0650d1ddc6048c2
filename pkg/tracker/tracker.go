package tracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/metrics"
	"github.com/decision-zk/decisiond/pkg/redis"
	"github.com/decision-zk/decisiond/pkg/store"
	"github.com/decision-zk/decisiond/pkg/txid"
	"github.com/decision-zk/decisiond/pkg/wallet"
)

// Message kinds exchanged with the tracker worker over the Redis streams.
const (
	KindTrackTransaction = "TRACK_TRANSACTION"
	KindTxSuccess        = "TX_SUCCESS"
	KindTxError          = "TX_ERROR"
)

const (
	// WalletPollInterval is the foreground wallet poll cadence.
	WalletPollInterval = 3 * time.Second
	// StaleAfter is how long a non-terminal record stays credible. Past the
	// window it reads as Failed; resubmitting is cheaper than trusting a
	// poller that lost the transaction.
	StaleAfter = 10 * time.Minute
)

// TrackRequest is the payload of a TRACK_TRANSACTION stream message.
type TrackRequest struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Method    string `json:"method"`
	ProgramID string `json:"programId,omitempty"`
}

// Result is the payload of a TX_SUCCESS or TX_ERROR stream message.
type Result struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Tracker owns a transaction's lifecycle from broadcast to its single
// terminal transition. Two pollers race toward the same sink: the foreground
// wallet poll and the background worker watching the explorer. The sink
// compares-and-swaps, so whichever arrives second is a no-op.
type Tracker struct {
	logger *zap.Logger
	store  *store.Store
	rdb    *redis.Client

	active *xsync.Map[string, store.TxRecord]

	// onTerminal runs exactly once per transaction, after the history write.
	// The API daemon hooks balance refresh and websocket push here.
	onTerminal func(ctx context.Context, rec store.TxRecord)

	pollEvery time.Duration
}

// New builds a tracker. rdb may be nil; background tracking then degrades to
// the foreground wallet poll alone.
func New(logger *zap.Logger, st *store.Store, rdb *redis.Client) *Tracker {
	return &Tracker{
		logger:    logger,
		store:     st,
		rdb:       rdb,
		active:    xsync.NewMap[string, store.TxRecord](),
		pollEvery: WalletPollInterval,
	}
}

// OnTerminal registers the hook run once per terminal transition. Call
// before tracking starts.
func (t *Tracker) OnTerminal(fn func(ctx context.Context, rec store.TxRecord)) {
	t.onTerminal = fn
}

// Track registers a freshly broadcast transaction: it lands in the active
// set and the persisted history as Broadcasted, and a TRACK_TRANSACTION
// message is queued for the background worker.
func (t *Tracker) Track(ctx context.Context, rec store.TxRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = store.TxBroadcasted
	}
	t.active.Store(rec.ID, rec)
	if err := t.store.UpsertHistory(ctx, rec.Address, rec); err != nil {
		return err
	}
	metrics.TrackRequests.Inc()

	if t.rdb != nil {
		payload, err := json.Marshal(TrackRequest{
			ID:        rec.ID,
			Address:   rec.Address,
			Method:    rec.Method,
			ProgramID: rec.ProgramID,
		})
		if err == nil {
			t.rdb.XAdd(ctx, redis.StreamTrackRequests, map[string]interface{}{
				"kind": KindTrackTransaction,
				"data": string(payload),
			})
		}
	}

	t.logger.Info("tracking transaction",
		zap.String("id", rec.ID),
		zap.String("address", rec.Address),
		zap.String("method", rec.Method))
	return nil
}

// Active returns the in-memory record for id, if still being tracked.
func (t *Tracker) Active(id string) (store.TxRecord, bool) {
	return t.active.Load(id)
}

// Complete drives the record to the terminal status. It is the single sink
// both pollers converge on: only Success and Failed are accepted, and only
// the first caller wins. Returns whether this call made the transition.
func (t *Tracker) Complete(ctx context.Context, id string, status store.TxStatus) bool {
	if !status.Terminal() {
		return false
	}

	var rec store.TxRecord
	transitioned := false
	t.active.Compute(id, func(old store.TxRecord, loaded bool) (store.TxRecord, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		if old.Status.Terminal() {
			rec = old
			return old, xsync.CancelOp
		}
		old.Status = status
		rec = old
		transitioned = true
		return old, xsync.UpdateOp
	})
	if !transitioned {
		return false
	}

	if err := t.store.UpsertHistory(ctx, rec.Address, rec); err != nil {
		t.logger.Warn("persisting terminal status failed",
			zap.String("id", id),
			zap.Error(err))
	}
	metrics.TerminalTransitions.WithLabelValues(string(status)).Inc()
	t.active.Delete(id)

	t.logger.Info("transaction settled",
		zap.String("id", id),
		zap.String("status", string(status)))

	if t.onTerminal != nil {
		t.onTerminal(ctx, rec)
	}
	return true
}

// ApplyResult maps a worker result message onto the terminal sink. Results
// for transactions no longer in the active set (a restart dropped them) are
// written straight to history; the store's own merge keeps that idempotent.
func (t *Tracker) ApplyResult(ctx context.Context, res Result) bool {
	status := store.TxStatus(res.Status)
	if !status.Terminal() {
		t.logger.Warn("ignoring result with non-terminal status",
			zap.String("id", res.ID),
			zap.String("status", res.Status))
		return false
	}

	if t.Complete(ctx, res.ID, status) {
		return true
	}
	if _, active := t.active.Load(res.ID); active {
		return false
	}
	if res.Address == "" {
		return false
	}
	err := t.store.UpsertHistory(ctx, res.Address, store.TxRecord{
		ID:      res.ID,
		Status:  status,
		Address: res.Address,
	})
	if err != nil {
		t.logger.Warn("recording orphan result failed",
			zap.String("id", res.ID),
			zap.Error(err))
	}
	return false
}

// PollWallet polls the wallet's own status view every few seconds until the
// record turns terminal or the context ends. Wallet errors are swallowed;
// the background worker keeps watching the chain regardless.
func (t *Tracker) PollWallet(ctx context.Context, w wallet.Wallet, id string) {
	ticker := time.NewTicker(t.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rec, ok := t.active.Load(id)
		if !ok || rec.Status.Terminal() {
			return
		}
		if !rec.CreatedAt.IsZero() && time.Since(rec.CreatedAt) > StaleAfter {
			// Reads report this record Failed from here on; stop burning
			// wallet calls on it.
			return
		}

		metrics.PollAttempts.WithLabelValues("wallet").Inc()
		status, err := w.TransactionStatus(ctx, id)
		if err != nil {
			t.logger.Debug("wallet status poll failed",
				zap.String("id", id),
				zap.Error(err))
			continue
		}

		switch txid.Classify(status.Status, "") {
		case txid.OutcomeSuccess:
			t.Complete(ctx, id, store.TxSuccess)
			return
		case txid.OutcomeFailed:
			t.Complete(ctx, id, store.TxFailed)
			return
		}
	}
}

// EffectiveStatus applies the staleness window on read: a record still
// non-terminal after StaleAfter reports as Failed without being rewritten.
func EffectiveStatus(rec store.TxRecord, now time.Time) store.TxStatus {
	if rec.Status.Terminal() {
		return rec.Status
	}
	if !rec.CreatedAt.IsZero() && now.Sub(rec.CreatedAt) > StaleAfter {
		metrics.StaleFailures.Inc()
		return store.TxFailed
	}
	return rec.Status
}

// EffectiveHistory returns the persisted history with the staleness window
// applied to every entry.
func (t *Tracker) EffectiveHistory(address string, now time.Time) []store.TxRecord {
	records := t.store.History(address)
	for i := range records {
		records[i].Status = EffectiveStatus(records[i], now)
	}
	return records
}
