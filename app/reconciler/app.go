package reconciler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/explorer"
	"github.com/decision-zk/decisiond/pkg/logging"
	"github.com/decision-zk/decisiond/pkg/mirror"
	"github.com/decision-zk/decisiond/pkg/store"
	"github.com/decision-zk/decisiond/pkg/tracker"
	"github.com/decision-zk/decisiond/pkg/txid"
	"github.com/decision-zk/decisiond/pkg/utils"
)

// App sweeps the relational mirror for transactions stuck in a non-terminal
// status and reconciles them against the explorer, every Cron tick. It covers
// the gap left when an API daemon dies between broadcast and settlement.
type App struct {
	Mirror   *mirror.Mirror
	Explorer *explorer.Client

	// Cron triggers reconciliation according to CronSpec.
	Cron     *cron.Cron
	CronSpec string

	Logger *zap.Logger

	// Server serves the health probes.
	Server *http.Server
}

// Initialize initializes the App. The mirror is required here: without it
// there is nothing to sweep.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	mir, err := mirror.OpenFromEnv(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to open transaction mirror", zap.Error(err))
	}
	if mir == nil {
		logger.Fatal("MIRROR_DSN is required")
	}

	app := &App{
		Mirror:   mir,
		Explorer: explorer.NewWithOpts(explorer.OptsFromEnv()),
		CronSpec: utils.Env("RECONCILE_CRON", "*/15 * * * * *"),
		Logger:   logger,
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger, app.CronSpec); err != nil {
		return nil, err
	}

	return app, nil
}

// SetupScheduler sets up the cron scheduler.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(cronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		if err := a.Reconcile(rctx); err != nil {
			logger.Info("[reconciler] sweep error", "error", err)
		}
	})
	if err != nil {
		return err
	}

	return nil
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3002")

	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Ready() {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
}

// Reconcile fetches the pending rows and settles each against the explorer.
func (a *App) Reconcile(ctx context.Context) error {
	pending, err := a.Mirror.Pending(ctx)
	if err != nil {
		return fmt.Errorf("load pending: %w", err)
	}

	for _, tx := range pending {
		if !txid.IsChainID(tx.ID) {
			// A provisional id that never got promoted will never settle.
			a.Mirror.UpdateStatus(ctx, tx.ID, store.TxFailed)
			continue
		}

		status, found, err := a.Explorer.TransactionStatus(ctx, tx.ID)
		if err != nil {
			a.Logger.Debug("[reconciler] explorer lookup failed",
				zap.String("id", tx.ID),
				zap.Error(err))
			continue
		}
		if !found {
			if time.Since(tx.CreatedAt) > tracker.StaleAfter {
				a.Mirror.UpdateStatus(ctx, tx.ID, store.TxFailed)
			}
			continue
		}

		switch status.Outcome() {
		case txid.OutcomeSuccess:
			a.Mirror.UpdateStatus(ctx, tx.ID, store.TxSuccess)
		case txid.OutcomeFailed:
			a.Mirror.UpdateStatus(ctx, tx.ID, store.TxFailed)
		}
	}

	if len(pending) > 0 {
		a.Logger.Info("[reconciler] sweep complete", zap.Int("pending", len(pending)))
	}
	return nil
}

// ReconcileOnce is a convenience wrapper for Reconcile.
func (a *App) ReconcileOnce(ctx context.Context) {
	_ = a.Reconcile(ctx)
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[reconciler] Cron started", zap.String("cronSpec", a.CronSpec))
}

// StopCron stops the cron scheduler.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Ready indicates whether the application is ready to handle operations, returning true if ready.
func (a *App) Ready() bool { return true }

// Alive indicates whether the application is alive, returning true if alive.
func (a *App) Alive() bool { return true }

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()
	_ = a.Server.Close()
	a.StopCron()
	a.Logger.Info("さようなら!")
}
