package wallet

import (
	"context"
	"fmt"
	"sync"
)

// LeoAdapter bridges the Leo wallet extension. Leo takes the application's
// network name verbatim and expects the pre-built transaction value object
// on its submission verb.
type LeoAdapter struct {
	provider Provider

	mu      sync.RWMutex
	account Account
	linked  bool

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewLeoAdapter wraps the given provider handle.
func NewLeoAdapter(p Provider) *LeoAdapter {
	a := &LeoAdapter{
		provider: p,
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
	}
	go forwardEvents(p, a.events, a.done, a.onEvent)
	return a
}

func (a *LeoAdapter) Name() string { return "Leo Wallet" }

func (a *LeoAdapter) Connect(ctx context.Context, permission Permission, network Network) (Account, error) {
	awaitInstalled(ctx, a.provider, readinessInterval)

	account, err := a.provider.Connect(ctx, network, permission, nil)
	if err != nil {
		return Account{}, fmt.Errorf("leo connect: %w", err)
	}

	a.mu.Lock()
	a.account = account
	a.linked = true
	a.mu.Unlock()
	return account, nil
}

func (a *LeoAdapter) Disconnect(ctx context.Context) error {
	err := a.provider.Disconnect(ctx)
	a.mu.Lock()
	a.account = Account{}
	a.linked = false
	a.mu.Unlock()
	return err
}

func (a *LeoAdapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.linked
}

func (a *LeoAdapter) Address() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.account.Address
}

func (a *LeoAdapter) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if !a.Connected() {
		return nil, ErrNotConnected
	}
	return a.provider.SignMessage(ctx, msg)
}

func (a *LeoAdapter) RequestTransaction(ctx context.Context, tx Transaction) (any, error) {
	if !a.Connected() {
		return nil, ErrNotConnected
	}
	tx.Address = a.Address()
	return submitTransaction(ctx, a.provider, tx)
}

func (a *LeoAdapter) RequestRecords(ctx context.Context, program string) ([]Record, error) {
	if !a.Connected() {
		return nil, ErrNotConnected
	}
	return readRecords(ctx, a.provider, program)
}

func (a *LeoAdapter) TransactionStatus(ctx context.Context, id string) (StatusResult, error) {
	return queryStatus(ctx, a.provider, id)
}

func (a *LeoAdapter) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	if d, ok := a.provider.(Decrypter); ok {
		return d.Decrypt(ctx, ciphertext)
	}
	return "", fmt.Errorf("leo decrypt: provider cannot decrypt")
}

func (a *LeoAdapter) Events() <-chan Event { return a.events }

func (a *LeoAdapter) Close() {
	a.once.Do(func() { close(a.done) })
}

func (a *LeoAdapter) onEvent(ev Event) {
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

// forwardEvents re-emits provider events on the adapter's own channel,
// mirroring local connection state along the way. Events carry no new
// semantics; consumers see exactly what the provider reported.
func forwardEvents(p Provider, out chan<- Event, done <-chan struct{}, onEvent func(Event)) {
	defer close(out)
	src := p.Events()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			onEvent(ev)
			select {
			case out <- ev:
			case <-done:
				return
			}
		}
	}
}
