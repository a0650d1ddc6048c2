package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/redis"
	"github.com/decision-zk/decisiond/pkg/utils"
)

// Key prefixes. The full key carries the owning address so every address
// reads only its own state.
const (
	historyPrefix = "tx_history_"
	votePrefix    = "vote_"
	unlockPrefix  = "unlock_"
)

// Store persists per-address votes, unlocks and transaction history in an
// embedded Badger database, and fans out change events to local subscribers
// and (via Redis Pub/Sub) to other running instances. Corrupt values read as
// absent; the chain remains the source of truth.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
	rdb    *redis.Client
	origin string

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// Open opens (or creates) the store at dir. Pass rdb as nil to run without
// cross-instance fan-out.
func Open(dir string, logger *zap.Logger, rdb *redis.Client) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening state store at %s: %w", dir, err)
	}
	return &Store{
		db:     db,
		logger: logger,
		rdb:    rdb,
		origin: uuid.NewString(),
		subs:   make(map[int]chan Event),
	}, nil
}

// OpenFromEnv opens the store at STATE_DIR (default "./data/state").
func OpenFromEnv(logger *zap.Logger, rdb *redis.Client) (*Store, error) {
	return Open(utils.Env("STATE_DIR", "./data/state"), logger, rdb)
}

func (s *Store) Close() error {
	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// HistoryKey returns the storage key for an address's transaction history.
func HistoryKey(address string) string { return historyPrefix + address }

// VoteKey returns the storage key for one address/proposal vote.
func VoteKey(address, proposalID string) string {
	return fmt.Sprintf("%s%s_%s", votePrefix, address, proposalID)
}

// UnlockKey returns the storage key for one address/post unlock.
func UnlockKey(address, postID string) string {
	return fmt.Sprintf("%s%s_%s", unlockPrefix, address, postID)
}

func (s *Store) setJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}

// getJSON loads and decodes key into out. Returns false when the key is
// absent or holds bytes that no longer decode.
func (s *Store) getJSON(key string, out any) bool {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			s.logger.Warn("state read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn("discarding corrupt state value", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// SaveVote records the vote, overwriting any previous vote on the same
// proposal, then notifies subscribers.
func (s *Store) SaveVote(ctx context.Context, address string, vote VoteRecord) error {
	key := VoteKey(address, vote.ProposalID)
	if err := s.setJSON(key, vote); err != nil {
		return err
	}
	s.notify(ctx, Event{Kind: EventVote, Address: address, Key: key})
	return nil
}

// Vote returns the stored vote for the proposal, if any.
func (s *Store) Vote(address, proposalID string) (VoteRecord, bool) {
	var v VoteRecord
	ok := s.getJSON(VoteKey(address, proposalID), &v)
	return v, ok
}

// SaveUnlock marks the post as unlocked for the address.
func (s *Store) SaveUnlock(ctx context.Context, address string, unlock UnlockRecord) error {
	key := UnlockKey(address, unlock.PostID)
	if err := s.setJSON(key, unlock); err != nil {
		return err
	}
	s.notify(ctx, Event{Kind: EventUnlock, Address: address, Key: key})
	return nil
}

// Unlocked reports whether the address has unlocked the post.
func (s *Store) Unlocked(address, postID string) bool {
	var u UnlockRecord
	return s.getJSON(UnlockKey(address, postID), &u)
}

// History returns the address's transaction history, newest first. A missing
// or corrupt entry reads as empty.
func (s *Store) History(address string) []TxRecord {
	var records []TxRecord
	if !s.getJSON(HistoryKey(address), &records) {
		return nil
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records
}

// UpsertHistory merges the record into the address's history by transaction
// id. A terminal status sticks: a late Pending observation never downgrades
// a record that already reached Success or Failed.
func (s *Store) UpsertHistory(ctx context.Context, address string, rec TxRecord) error {
	key := HistoryKey(address)
	err := s.db.Update(func(txn *badger.Txn) error {
		var records []TxRecord
		item, err := txn.Get([]byte(key))
		if err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &records); err != nil {
				s.logger.Warn("discarding corrupt history", zap.String("key", key), zap.Error(err))
				records = nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		found := false
		for i := range records {
			if records[i].ID != rec.ID {
				continue
			}
			found = true
			if records[i].Status.Terminal() && !rec.Status.Terminal() {
				rec.Status = records[i].Status
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = records[i].CreatedAt
			}
			if rec.Method == "" {
				rec.Method = records[i].Method
			}
			if rec.ProgramID == "" {
				rec.ProgramID = records[i].ProgramID
			}
			if rec.Type == "" {
				rec.Type = records[i].Type
			}
			if rec.Ref == "" {
				rec.Ref = records[i].Ref
			}
			records[i] = rec
			break
		}
		if !found {
			records = append(records, rec)
		}

		raw, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		return txn.Set([]byte(key), raw)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, Event{Kind: EventHistory, Address: address, Key: key})
	return nil
}

// Subscribe registers a change listener. The returned cancel func must be
// called to release it; the channel is closed on cancel or store Close.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan Event, 16)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// notify delivers the event locally and, when Redis is wired, publishes it
// for other instances. Slow subscribers drop events rather than block a
// write.
func (s *Store) notify(ctx context.Context, ev Event) {
	ev.Origin = s.origin
	s.deliver(ev)
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.rdb.Publish(ctx, redis.ChannelVoteUpdated, raw)
}

func (s *Store) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ListenRemote re-emits change events published by other instances until the
// context is cancelled. Events that originated here are skipped.
func (s *Store) ListenRemote(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	sub := s.rdb.Subscribe(ctx, redis.ChannelVoteUpdated)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warn("dropping malformed change event", zap.Error(err))
				continue
			}
			if ev.Origin == s.origin {
				continue
			}
			s.deliver(ev)
		}
	}
}
