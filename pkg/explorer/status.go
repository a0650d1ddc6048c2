package explorer

import (
	"context"
	"errors"
	"fmt"

	"github.com/decision-zk/decisiond/pkg/txid"
)

// TxStatus is the explorer's view of a transaction. Depending on the host
// the settlement state lives either at the top level or nested under
// execution; the type field alone can also imply settlement.
type TxStatus struct {
	Status    string `json:"status"`
	Type      string `json:"type"`
	Execution struct {
		Status string `json:"status"`
	} `json:"execution"`
}

// Effective returns the settlement state, preferring the top-level status.
func (s TxStatus) Effective() string {
	if s.Status != "" {
		return s.Status
	}
	return s.Execution.Status
}

// Outcome classifies the response for the lifecycle tracker.
func (s TxStatus) Outcome() txid.Outcome {
	return txid.Classify(s.Effective(), s.Type)
}

// TransactionStatus fetches the status of an on-chain transaction. A nil
// TxStatus with found=false means no endpoint has indexed the transaction
// yet, which callers treat as "keep polling".
func (c *Client) TransactionStatus(ctx context.Context, id string) (*TxStatus, bool, error) {
	var status TxStatus
	err := c.getJSON(ctx, "/transaction/"+id, &status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch transaction %s: %w", id, err)
	}
	return &status, true, nil
}
