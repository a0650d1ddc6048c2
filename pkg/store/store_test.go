package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "tx_history_aleo1abc", HistoryKey("aleo1abc"))
	assert.Equal(t, "vote_aleo1abc_7", VoteKey("aleo1abc", "7"))
	assert.Equal(t, "unlock_aleo1abc_post9", UnlockKey("aleo1abc", "post9"))
}

func TestVoteOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveVote(ctx, "aleo1abc", VoteRecord{ProposalID: "7", Choice: "yes"}))
	require.NoError(t, s.SaveVote(ctx, "aleo1abc", VoteRecord{ProposalID: "7", Choice: "no"}))

	v, ok := s.Vote("aleo1abc", "7")
	require.True(t, ok)
	assert.Equal(t, "no", v.Choice)
}

func TestVoteScopedByAddress(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveVote(context.Background(), "aleo1abc", VoteRecord{ProposalID: "7", Choice: "yes"}))

	_, ok := s.Vote("aleo1other", "7")
	assert.False(t, ok)
}

func TestCorruptValueReadsAsAbsent(t *testing.T) {
	s := openTestStore(t)
	key := VoteKey("aleo1abc", "7")
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte("{not json"))
	}))

	_, ok := s.Vote("aleo1abc", "7")
	assert.False(t, ok)
}

func TestUnlock(t *testing.T) {
	s := openTestStore(t)
	assert.False(t, s.Unlocked("aleo1abc", "post9"))

	require.NoError(t, s.SaveUnlock(context.Background(), "aleo1abc", UnlockRecord{PostID: "post9"}))
	assert.True(t, s.Unlocked("aleo1abc", "post9"))
	assert.False(t, s.Unlocked("aleo1abc", "post10"))
}

func TestUpsertHistoryMergesByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertHistory(ctx, "aleo1abc", TxRecord{ID: "at1a", Status: TxPending, CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, s.UpsertHistory(ctx, "aleo1abc", TxRecord{ID: "at1b", Status: TxPending, CreatedAt: now}))
	require.NoError(t, s.UpsertHistory(ctx, "aleo1abc", TxRecord{ID: "at1a", Status: TxSuccess, CreatedAt: now.Add(-time.Minute)}))

	records := s.History("aleo1abc")
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "at1b", records[0].ID)
	assert.Equal(t, TxSuccess, records[1].Status)
}

func TestUpsertHistoryTerminalStatusSticks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertHistory(ctx, "aleo1abc", TxRecord{ID: "at1a", Status: TxFailed, CreatedAt: time.Now()}))
	require.NoError(t, s.UpsertHistory(ctx, "aleo1abc", TxRecord{ID: "at1a", Status: TxPending}))

	records := s.History("aleo1abc")
	require.Len(t, records, 1)
	assert.Equal(t, TxFailed, records[0].Status)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestCorruptHistoryStartsFresh(t *testing.T) {
	s := openTestStore(t)
	key := HistoryKey("aleo1abc")
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte("]["))
	}))

	assert.Nil(t, s.History("aleo1abc"))

	require.NoError(t, s.UpsertHistory(context.Background(), "aleo1abc", TxRecord{ID: "at1a", Status: TxPending, CreatedAt: time.Now()}))
	assert.Len(t, s.History("aleo1abc"), 1)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s := openTestStore(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.SaveVote(context.Background(), "aleo1abc", VoteRecord{ProposalID: "7", Choice: "yes"}))

	select {
	case ev := <-ch:
		assert.Equal(t, EventVote, ev.Kind)
		assert.Equal(t, "aleo1abc", ev.Address)
		assert.Equal(t, VoteKey("aleo1abc", "7"), ev.Key)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	s := openTestStore(t)
	ch, cancel := s.Subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Writes after cancel must not panic.
	require.NoError(t, s.SaveVote(context.Background(), "aleo1abc", VoteRecord{ProposalID: "7", Choice: "yes"}))
}

func TestEventJSONRoundTrip(t *testing.T) {
	ev := Event{Kind: EventHistory, Address: "aleo1abc", Key: HistoryKey("aleo1abc"), Origin: "node-1"}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, ev, got)
}
