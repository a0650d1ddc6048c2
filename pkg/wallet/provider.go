package wallet

import (
	"context"
	"time"
)

// Provider is the handle to a concrete wallet extension. It is an external
// collaborator: the production implementation speaks to a wallet bridge
// service over HTTP, tests inject fakes. Beyond the base surface, providers
// advertise capabilities by implementing the optional interfaces below;
// adapters probe with type assertions the way the original extensions were
// probed for methods at runtime.
type Provider interface {
	ReadyState(ctx context.Context) ReadyState
	Connect(ctx context.Context, network Network, permission Permission, programs []string) (Account, error)
	Disconnect(ctx context.Context) error
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	// Events yields provider lifecycle events until the provider is closed.
	Events() <-chan Event
}

// TransactionRequester accepts a pre-built transaction value object.
type TransactionRequester interface {
	RequestTransaction(ctx context.Context, tx any) (any, error)
}

// TransactionExecutor is the alternate submission verb some providers
// expose instead of RequestTransaction.
type TransactionExecutor interface {
	ExecuteTransaction(ctx context.Context, tx any) (any, error)
}

// StatusQuerier reports the wallet's own view of a submitted transaction.
type StatusQuerier interface {
	TransactionStatus(ctx context.Context, id string) (StatusResult, error)
}

// LegacyStatusQuerier is the older status verb name still used by one of
// the bridged extensions.
type LegacyStatusQuerier interface {
	GetTransactionStatus(ctx context.Context, id string) (StatusResult, error)
}

// RecordReader returns the wallet's records for a program.
type RecordReader interface {
	RequestRecords(ctx context.Context, program string) ([]Record, error)
}

// PlaintextRecordReader returns records with decrypted plaintexts.
type PlaintextRecordReader interface {
	RequestRecordPlaintexts(ctx context.Context, program string) ([]Record, error)
}

// Decrypter decrypts a ciphertext with the wallet's view key.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

const (
	readinessAttempts = 15
	readinessInterval = 100 * time.Millisecond
)

// awaitInstalled polls the provider's readiness until it reports Installed,
// tolerating lazily-injected extensions. It gives up after the fixed
// attempt budget and lets the caller try to connect anyway: some providers
// never report Installed yet still accept connections.
func awaitInstalled(ctx context.Context, p Provider, interval time.Duration) {
	state := p.ReadyState(ctx)
	if state == ReadyStateInstalled {
		return
	}
	for attempt := 0; attempt < readinessAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if p.ReadyState(ctx) == ReadyStateInstalled {
			return
		}
	}
}

// submitTransaction dispatches to whichever submission verb the provider
// supports, preferring RequestTransaction.
func submitTransaction(ctx context.Context, p Provider, tx any) (any, error) {
	if requester, ok := p.(TransactionRequester); ok {
		return requester.RequestTransaction(ctx, tx)
	}
	if executor, ok := p.(TransactionExecutor); ok {
		return executor.ExecuteTransaction(ctx, tx)
	}
	return nil, ErrNoSubmitMethod
}

// queryStatus dispatches to whichever status verb the provider supports.
func queryStatus(ctx context.Context, p Provider, id string) (StatusResult, error) {
	if querier, ok := p.(StatusQuerier); ok {
		return querier.TransactionStatus(ctx, id)
	}
	if legacy, ok := p.(LegacyStatusQuerier); ok {
		return legacy.GetTransactionStatus(ctx, id)
	}
	return StatusResult{}, ErrNoStatusMethod
}

// readRecords prefers plaintext records when the provider can decrypt.
func readRecords(ctx context.Context, p Provider, program string) ([]Record, error) {
	if plain, ok := p.(PlaintextRecordReader); ok {
		return plain.RequestRecordPlaintexts(ctx, program)
	}
	if reader, ok := p.(RecordReader); ok {
		return reader.RequestRecords(ctx, program)
	}
	return nil, nil
}
