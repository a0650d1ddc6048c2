package store

import "time"

// TxStatus is the persisted lifecycle state of a submitted transaction.
type TxStatus string

const (
	TxPending     TxStatus = "Pending"
	TxBroadcasted TxStatus = "Broadcasted"
	TxSuccess     TxStatus = "Success"
	TxFailed      TxStatus = "Failed"
)

// Terminal reports whether the status can never change again.
func (s TxStatus) Terminal() bool {
	return s == TxSuccess || s == TxFailed
}

// TxRecord is one entry in an address's transaction history. Ref carries
// the feed item the transaction acted on, so terminal transitions can be
// folded back into the matching vote or unlock record.
type TxRecord struct {
	ID        string    `json:"id"`
	Status    TxStatus  `json:"status"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"createdAt"`
	Address   string    `json:"address"`
	ProgramID string    `json:"programId,omitempty"`
	Type      string    `json:"type,omitempty"`
	Ref       string    `json:"ref,omitempty"`
}

// Transaction type tags.
const (
	TxTypeVote     = "vote"
	TxTypeUnlock   = "unlock"
	TxTypeProposal = "proposal"
)

// Vote confirmation states.
const (
	VotePending   = "Pending"
	VoteConfirmed = "Confirmed"
	VoteFailed    = "Failed"
)

// VoteRecord is the persisted vote for one proposal. Re-voting overwrites it.
type VoteRecord struct {
	ProposalID string    `json:"proposalId"`
	Choice     string    `json:"choice"`
	TxID       string    `json:"txId,omitempty"`
	Status     string    `json:"status,omitempty"`
	CastAt     time.Time `json:"castAt"`
}

// UnlockRecord marks a paid post as unlocked for an address.
type UnlockRecord struct {
	PostID     string    `json:"postId"`
	TxID       string    `json:"txId,omitempty"`
	UnlockedAt time.Time `json:"unlockedAt"`
}

// EventKind enumerates store change notifications.
type EventKind string

const (
	EventVote    EventKind = "vote"
	EventUnlock  EventKind = "unlock"
	EventHistory EventKind = "history"
)

// Event is fanned out to in-process subscribers and, when Redis is wired,
// to every other running instance.
type Event struct {
	Kind    EventKind `json:"kind"`
	Address string    `json:"address"`
	Key     string    `json:"key"`
	Origin  string    `json:"origin,omitempty"`
}
