package tracker

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/explorer"
	"github.com/decision-zk/decisiond/pkg/logging"
	"github.com/decision-zk/decisiond/pkg/metrics"
	"github.com/decision-zk/decisiond/pkg/redis"
	txtracker "github.com/decision-zk/decisiond/pkg/tracker"
	"github.com/decision-zk/decisiond/pkg/txid"
	"github.com/decision-zk/decisiond/pkg/utils"
)

// App is the background tracker worker: it consumes TRACK_TRANSACTION
// requests from the API daemons, watches the explorer until each
// transaction settles, and publishes TX_SUCCESS / TX_ERROR results back.
type App struct {
	Logger   *zap.Logger
	Redis    *redis.Client
	Explorer *explorer.Client
	Pool     pond.Pool

	pollEvery   time.Duration
	maxAttempts int
}

// Initialize initializes the application. Redis is not optional here: the
// whole point of the worker is the stream pair.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to connect to Redis", zap.Error(err))
	}

	workers := utils.EnvInt("TRACKER_WORKERS", 8)
	pool := pond.NewPool(workers, pond.WithQueueSize(workers*16))

	return &App{
		Logger:      logger,
		Redis:       redisClient,
		Explorer:    explorer.NewWithOpts(explorer.OptsFromEnv()),
		Pool:        pool,
		pollEvery:   time.Duration(utils.EnvInt("TRACKER_POLL_SECONDS", 3)) * time.Second,
		maxAttempts: utils.EnvInt("TRACKER_MAX_ATTEMPTS", 60),
	}
}

// Start consumes the request stream and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	hostname, _ := os.Hostname()
	consumer, err := redis.NewStreamConsumer(a.Redis, redis.StreamConsumerConfig{
		Stream:   redis.StreamTrackRequests,
		Group:    "tracker",
		Consumer: hostname,
		Logger:   a.Logger,
	})
	if err != nil {
		a.Logger.Fatal("Unable to build request consumer", zap.Error(err))
	}

	a.Logger.Info("Tracker worker started",
		zap.String("consumer", hostname),
		zap.Duration("pollEvery", a.pollEvery),
		zap.Int("maxAttempts", a.maxAttempts))

	err = consumer.Run(ctx, a.handleMessage)
	if err != nil && ctx.Err() == nil {
		a.Logger.Error("Request consumer stopped", zap.Error(err))
	}

	a.Stop()
}

// Stop drains the pool so in-flight polls get to publish their result.
func (a *App) Stop() {
	a.Pool.StopAndWait()
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("Failed to close Redis client", zap.Error(err))
	}
	a.Logger.Info("さようなら!")
}

func (a *App) handleMessage(ctx context.Context, msg redis.Message) error {
	if msg.GetKind() != txtracker.KindTrackTransaction {
		return nil
	}

	var req txtracker.TrackRequest
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		a.Logger.Warn("Dropping malformed track request",
			zap.String("id", msg.ID),
			zap.Error(err))
		return nil
	}
	if !txid.IsChainID(req.ID) {
		// Provisional wallet ids never appear on chain; the API daemon
		// promotes them before tracking, so anything else is noise.
		a.Logger.Warn("Skipping non-chain transaction id", zap.String("id", req.ID))
		return nil
	}

	a.Pool.Submit(func() {
		a.pollTransaction(ctx, req)
	})
	return nil
}

// pollTransaction polls the explorer until the transaction settles or the
// attempt budget runs out.
func (a *App) pollTransaction(ctx context.Context, req txtracker.TrackRequest) {
	ticker := time.NewTicker(a.pollEvery)
	defer ticker.Stop()

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		metrics.PollAttempts.WithLabelValues("explorer").Inc()
		status, found, err := a.Explorer.TransactionStatus(ctx, req.ID)
		if err != nil {
			a.Logger.Debug("Explorer poll failed",
				zap.String("id", req.ID),
				zap.Error(err))
			continue
		}
		if !found {
			continue
		}

		switch status.Outcome() {
		case txid.OutcomeSuccess:
			a.publishResult(ctx, txtracker.KindTxSuccess, txtracker.Result{
				ID:      req.ID,
				Address: req.Address,
			})
			return
		case txid.OutcomeFailed:
			a.publishResult(ctx, txtracker.KindTxError, txtracker.Result{
				ID:      req.ID,
				Address: req.Address,
				Reason:  "rejected on chain",
			})
			return
		}
	}

	a.publishResult(ctx, txtracker.KindTxError, txtracker.Result{
		ID:      req.ID,
		Address: req.Address,
		Reason:  "confirmation timed out",
	})
}

func (a *App) publishResult(ctx context.Context, kind string, res txtracker.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	a.Redis.XAdd(ctx, redis.StreamTrackResults, map[string]interface{}{
		"kind": kind,
		"data": string(payload),
	})
	a.Logger.Info("Published tracking result",
		zap.String("id", res.ID),
		zap.String("kind", kind),
		zap.String("reason", res.Reason))
}
