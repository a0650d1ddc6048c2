package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decision-zk/decisiond/pkg/txid"
)

const (
	promotionAttempts = 15
	promotionInterval = 2 * time.Second
)

// ShieldAdapter bridges the Shield wallet extension. Shield names networks
// differently than the application ("testnet" where the app says
// "testnetbeta"), constructs its own plain transaction object instead of
// taking the shared value object, and hands out a provisional "shield…"
// tracking id that has to be promoted to the canonical on-chain id by
// polling the wallet.
type ShieldAdapter struct {
	provider Provider

	// Overridable polling knobs, fixed in production.
	readinessEvery time.Duration
	promotionEvery time.Duration

	mu      sync.RWMutex
	account Account
	linked  bool

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewShieldAdapter wraps the given provider handle.
func NewShieldAdapter(p Provider) *ShieldAdapter {
	a := &ShieldAdapter{
		provider:       p,
		readinessEvery: readinessInterval,
		promotionEvery: promotionInterval,
		events:         make(chan Event, 16),
		done:           make(chan struct{}),
	}
	go forwardEvents(p, a.events, a.done, a.onEvent)
	return a
}

func (a *ShieldAdapter) Name() string { return "Shield Wallet" }

// translateNetwork maps the application's network name onto Shield's.
func translateNetwork(network Network) Network {
	if network == NetworkTestnetBeta {
		return NetworkTestnet
	}
	return network
}

func (a *ShieldAdapter) Connect(ctx context.Context, permission Permission, network Network) (Account, error) {
	// Shield injects lazily; wait for Installed before asking to connect.
	awaitInstalled(ctx, a.provider, a.readinessEvery)

	account, err := a.provider.Connect(ctx, translateNetwork(network), permission, nil)
	if err != nil {
		return Account{}, fmt.Errorf("shield connect: %w", err)
	}

	a.mu.Lock()
	a.account = account
	a.linked = true
	a.mu.Unlock()
	return account, nil
}

func (a *ShieldAdapter) Disconnect(ctx context.Context) error {
	err := a.provider.Disconnect(ctx)
	a.mu.Lock()
	a.account = Account{}
	a.linked = false
	a.mu.Unlock()
	return err
}

func (a *ShieldAdapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.linked
}

func (a *ShieldAdapter) Address() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.account.Address
}

func (a *ShieldAdapter) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if !a.Connected() {
		return nil, ErrNotConnected
	}
	return a.provider.SignMessage(ctx, msg)
}

// shieldTransaction is the plain object shape Shield expects.
type shieldTransaction struct {
	Program    string   `json:"program"`
	Function   string   `json:"function"`
	Inputs     []string `json:"inputs"`
	Fee        uint64   `json:"fee"`
	PrivateFee bool     `json:"privateFee"`
}

func (a *ShieldAdapter) RequestTransaction(ctx context.Context, tx Transaction) (any, error) {
	if !a.Connected() {
		return nil, ErrNotConnected
	}
	// Shield rejects private fees; force a public fee.
	shaped := shieldTransaction{
		Program:    tx.ProgramID,
		Function:   tx.Function,
		Inputs:     tx.Inputs,
		Fee:        tx.Fee,
		PrivateFee: false,
	}
	return submitTransaction(ctx, a.provider, shaped)
}

func (a *ShieldAdapter) RequestRecords(ctx context.Context, program string) ([]Record, error) {
	if !a.Connected() {
		return nil, ErrNotConnected
	}
	return readRecords(ctx, a.provider, program)
}

func (a *ShieldAdapter) TransactionStatus(ctx context.Context, id string) (StatusResult, error) {
	return queryStatus(ctx, a.provider, id)
}

func (a *ShieldAdapter) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	if d, ok := a.provider.(Decrypter); ok {
		return d.Decrypt(ctx, ciphertext)
	}
	return "", fmt.Errorf("shield decrypt: provider cannot decrypt")
}

func (a *ShieldAdapter) Events() <-chan Event { return a.events }

func (a *ShieldAdapter) Close() {
	a.once.Do(func() { close(a.done) })
}

func (a *ShieldAdapter) onEvent(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev.Kind {
	case EventConnect, EventAccountChange:
		if ev.Address != "" {
			a.account = Account{Address: ev.Address}
			a.linked = true
		}
	case EventDisconnect:
		a.account = Account{}
		a.linked = false
	}
}

// PromoteTrackingID polls the wallet for the canonical on-chain id behind a
// provisional tracking id. It returns the original id unchanged when the
// wallet cannot report status or the polling budget runs out; callers keep
// tracking under whichever id they end up with.
func (a *ShieldAdapter) PromoteTrackingID(ctx context.Context, trackingID string) string {
	if !txid.IsTrackingID(trackingID) {
		return trackingID
	}
	for attempt := 0; attempt < promotionAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return trackingID
		case <-time.After(a.promotionEvery):
		}

		status, err := queryStatus(ctx, a.provider, trackingID)
		if err != nil {
			// ErrNoStatusMethod will not heal on the next attempt.
			if err == ErrNoStatusMethod {
				return trackingID
			}
			continue
		}

		switch status.Status {
		case "Completed", "Finalized", "Settled":
			if status.TransactionID != "" && status.TransactionID != trackingID {
				return status.TransactionID
			}
		}
		if txid.IsChainID(status.TransactionID) {
			return status.TransactionID
		}
	}
	return trackingID
}
