package types

import (
	"context"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/explorer"
	"github.com/decision-zk/decisiond/pkg/feed"
	"github.com/decision-zk/decisiond/pkg/mirror"
	"github.com/decision-zk/decisiond/pkg/redis"
	"github.com/decision-zk/decisiond/pkg/store"
	"github.com/decision-zk/decisiond/pkg/tracker"
	"github.com/decision-zk/decisiond/pkg/wallet"
)

// Balances is the cached balance pair for one address.
type Balances struct {
	Public  float64   `json:"public"`
	Private float64   `json:"private"`
	AsOf    time.Time `json:"asOf"`
}

// App wires the terminal daemon together.
type App struct {
	Logger *zap.Logger
	Server *http.Server

	Store    *store.Store
	Feed     *feed.Service
	Tracker  *tracker.Tracker
	Mirror   *mirror.Mirror
	Explorer *explorer.Client
	Redis    *redis.Client

	// Wallet is the active bridge adapter, selected by the connect call.
	Wallet wallet.Wallet

	// Balances caches the last fetched pair per address.
	Balances *xsync.Map[string, Balances]
}

// RefreshBalances fetches both balances for the address and caches them.
// Failures read as zero; the balances are advisory.
func (a *App) RefreshBalances(ctx context.Context, address string) Balances {
	b := Balances{
		Public: a.Explorer.PublicBalance(ctx, address),
		AsOf:   time.Now().UTC(),
	}
	if a.Wallet != nil && a.Wallet.Connected() && a.Wallet.Address() == address {
		b.Private = wallet.PrivateBalance(ctx, a.Wallet)
	}
	a.Balances.Store(address, b)
	return b
}

// Start runs the HTTP server until the context is cancelled.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)

	if a.Wallet != nil {
		a.Wallet.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close state store", zap.Error(err))
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
