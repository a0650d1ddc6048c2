package wallet

import (
	"context"
	"errors"
)

// Network identifies the chain network as named by the application. Individual
// providers may use a different name for the same network; adapters own that
// translation.
type Network string

const (
	NetworkTestnetBeta Network = "testnetbeta"
	NetworkTestnet     Network = "testnet"
	NetworkMainnet     Network = "mainnet"
)

// Permission is the decrypt permission requested at connect time.
type Permission string

const (
	PermissionNoDecrypt   Permission = "NO_DECRYPT"
	PermissionUponRequest Permission = "UPON_REQUEST"
	PermissionAutoDecrypt Permission = "AUTO_DECRYPT"
)

// ReadyState mirrors the injection state of a browser wallet extension.
// Lazily-injected extensions report Loadable or NotDetected for a short
// window after page load before settling on Installed.
type ReadyState string

const (
	ReadyStateInstalled   ReadyState = "Installed"
	ReadyStateLoadable    ReadyState = "Loadable"
	ReadyStateNotDetected ReadyState = "NotDetected"
)

// Account is the connected wallet identity.
type Account struct {
	Address string `json:"address"`
}

// Transaction is the program execution request handed to a wallet for
// signing and broadcast.
type Transaction struct {
	Address    string   `json:"address,omitempty"`
	Network    Network  `json:"network"`
	ProgramID  string   `json:"program"`
	Function   string   `json:"function"`
	Inputs     []string `json:"inputs"`
	Fee        uint64   `json:"fee"`
	FeePrivate bool     `json:"privateFee"`
}

// Record is a wallet-held encrypted record, possibly decrypted to plaintext
// depending on the request verb and granted permission.
type Record struct {
	ID        string         `json:"id,omitempty"`
	Spent     bool           `json:"spent"`
	Plaintext string         `json:"plaintext,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// StatusResult is a wallet's own view of a submitted transaction. The
// TransactionID may differ from the id queried when the wallet has promoted
// a provisional tracking id to the canonical on-chain id.
type StatusResult struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
}

// EventKind enumerates provider events that adapters re-emit verbatim.
type EventKind string

const (
	EventConnect       EventKind = "connect"
	EventDisconnect    EventKind = "disconnect"
	EventAccountChange EventKind = "accountChange"
)

// Event is a wallet lifecycle notification.
type Event struct {
	Kind    EventKind
	Address string
}

var (
	// ErrNotConnected is returned by operations that require a session.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrNoSubmitMethod means the underlying provider exposes neither of the
	// known transaction submission verbs.
	ErrNoSubmitMethod = errors.New("wallet provider supports neither requestTransaction nor executeTransaction")
	// ErrNoStatusMethod means the provider cannot report transaction status.
	ErrNoStatusMethod = errors.New("wallet provider has no transaction status method")
	// ErrNotInstalled means the extension never reached the Installed state
	// within the readiness polling budget.
	ErrNotInstalled = errors.New("wallet extension not detected")
)

// Wallet is the single capability surface the application programs against,
// regardless of which concrete wallet the user picked.
type Wallet interface {
	Name() string
	Connect(ctx context.Context, permission Permission, network Network) (Account, error)
	Disconnect(ctx context.Context) error
	Connected() bool
	Address() string
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	// RequestTransaction submits the transaction and returns the provider's
	// raw response; callers normalize it with txid.Extract.
	RequestTransaction(ctx context.Context, tx Transaction) (any, error)
	RequestRecords(ctx context.Context, program string) ([]Record, error)
	TransactionStatus(ctx context.Context, id string) (StatusResult, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
	// Events re-emits provider connect/disconnect/account-change events with
	// no added semantics. The channel is closed on Close.
	Events() <-chan Event
	Close()
}
