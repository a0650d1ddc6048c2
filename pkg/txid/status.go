package txid

import "strings"

// Outcome classifies an explorer or wallet status report.
type Outcome int

const (
	// OutcomePending means the transaction is not yet settled; keep polling.
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

const (
	// ChainIDPrefix is the on-chain transaction id format.
	ChainIDPrefix = "at1"
	// TrackingIDPrefix marks a provisional wallet-assigned id that is later
	// promoted to the canonical on-chain id.
	TrackingIDPrefix = "shield"
)

// Classify maps a raw status string (and the response "type" field, which
// some explorers return instead of a status) onto an Outcome. Comparison is
// case-insensitive. Anything unrecognized, including an empty status while
// the transaction is not yet indexed, means keep polling.
func Classify(status, typ string) Outcome {
	switch strings.ToLower(status) {
	case "finalized", "accepted", "completed":
		return OutcomeSuccess
	case "failed", "rejected":
		return OutcomeFailed
	}
	if strings.ToLower(typ) == "execute" {
		return OutcomeSuccess
	}
	return OutcomePending
}

// IsChainID reports whether id is in the canonical on-chain format.
func IsChainID(id string) bool {
	return strings.HasPrefix(id, ChainIDPrefix)
}

// IsTrackingID reports whether id is a provisional tracking id.
func IsTrackingID(id string) bool {
	return strings.HasPrefix(id, TrackingIDPrefix)
}
