package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/app/terminal/types"
	"github.com/decision-zk/decisiond/pkg/explorer"
	"github.com/decision-zk/decisiond/pkg/feed"
	"github.com/decision-zk/decisiond/pkg/logging"
	"github.com/decision-zk/decisiond/pkg/mirror"
	"github.com/decision-zk/decisiond/pkg/redis"
	"github.com/decision-zk/decisiond/pkg/store"
	"github.com/decision-zk/decisiond/pkg/tracker"
	"github.com/decision-zk/decisiond/pkg/utils"
)

// Initialize wires the terminal daemon.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	// Redis is optional: without it there is no background tracking and no
	// cross-instance fan-out, only the foreground wallet poller.
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - background tracking disabled",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - background tracking and cross-instance events unavailable")
	}

	st, err := store.OpenFromEnv(logger, redisClient)
	if err != nil {
		logger.Fatal("Unable to open state store", zap.Error(err))
	}

	mir, err := mirror.OpenFromEnv(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to open transaction mirror", zap.Error(err))
	}

	app := &types.App{
		Logger:   logger,
		Store:    st,
		Feed:     feed.NewService(st),
		Tracker:  tracker.New(logger, st, redisClient),
		Mirror:   mir,
		Explorer: explorer.NewWithOpts(explorer.OptsFromEnv()),
		Redis:    redisClient,
		Balances: xsync.NewMap[string, types.Balances](),
	}

	// Exactly-once side effects per terminal transition: mirror update,
	// balance refresh on success. The history write and the change event
	// already happened inside the tracker sink.
	app.Tracker.OnTerminal(func(ctx context.Context, rec store.TxRecord) {
		app.Mirror.UpdateStatus(ctx, rec.ID, rec.Status)
		applyOutcome(ctx, app, rec)
		if rec.Status == store.TxSuccess {
			app.RefreshBalances(ctx, rec.Address)
		}
	})

	if redisClient != nil {
		go st.ListenRemote(ctx)
		go consumeResults(ctx, app)
	}

	return app
}

// consumeResults applies TX_SUCCESS / TX_ERROR messages from the background
// worker to the tracker's terminal sink.
func consumeResults(ctx context.Context, app *types.App) {
	hostname, _ := os.Hostname()
	consumer, err := redis.NewStreamConsumer(app.Redis, redis.StreamConsumerConfig{
		Stream:   redis.StreamTrackResults,
		Group:    "terminal",
		Consumer: hostname,
		Logger:   app.Logger,
	})
	if err != nil {
		app.Logger.Error("Unable to build result consumer", zap.Error(err))
		return
	}

	err = consumer.Run(ctx, func(ctx context.Context, msg redis.Message) error {
		var res tracker.Result
		if err := unmarshalResult(msg, &res); err != nil {
			app.Logger.Warn("Dropping malformed result message",
				zap.String("id", msg.ID),
				zap.Error(err))
			return nil
		}
		switch msg.GetKind() {
		case tracker.KindTxSuccess:
			res.Status = string(store.TxSuccess)
		case tracker.KindTxError:
			res.Status = string(store.TxFailed)
		default:
			return nil
		}
		app.Tracker.ApplyResult(ctx, res)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		app.Logger.Error("Result consumer stopped", zap.Error(err))
	}
}

func unmarshalResult(msg redis.Message, res *tracker.Result) error {
	data := msg.GetData()
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(data, res)
}

// applyOutcome folds a terminal transaction back into the vote or unlock
// record it came from.
func applyOutcome(ctx context.Context, app *types.App, rec store.TxRecord) {
	switch rec.Type {
	case store.TxTypeVote:
		if rec.Ref == "" {
			return
		}
		v, ok := app.Store.Vote(rec.Address, rec.Ref)
		if !ok || v.TxID != rec.ID {
			return
		}
		if rec.Status == store.TxSuccess {
			v.Status = store.VoteConfirmed
		} else {
			v.Status = store.VoteFailed
		}
		if err := app.Store.SaveVote(ctx, rec.Address, v); err != nil {
			app.Logger.Warn("Updating vote outcome failed",
				zap.String("id", rec.ID),
				zap.Error(err))
		}
	case store.TxTypeUnlock:
		// Unlocks are written optimistically at submit time and kept on
		// failure; the transaction history shows the failure.
	}
}
