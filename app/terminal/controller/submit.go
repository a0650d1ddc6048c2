package controller

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/feed"
	"github.com/decision-zk/decisiond/pkg/proofflow"
	"github.com/decision-zk/decisiond/pkg/store"
	"github.com/decision-zk/decisiond/pkg/txid"
	"github.com/decision-zk/decisiond/pkg/wallet"
)

var errNoTransactionID = errors.New("no transaction id in wallet response")

// submit runs the whole submission pipeline for one program call: stage
// machine, wallet submit, id extraction, tracking-id promotion, mirror
// insert, lifecycle tracking. Returns the canonical transaction id.
func (c *Controller) submit(ctx context.Context, address, method, txType, ref, function string, inputs []string) (string, error) {
	w := c.App.Wallet
	if w == nil || !w.Connected() {
		return "", wallet.ErrNotConnected
	}

	flow := proofflow.New(func(stage proofflow.Stage, detail string) {
		c.App.Logger.Info("submission stage",
			zap.String("stage", string(stage)),
			zap.String("method", method),
			zap.String("detail", detail))
	})

	if err := flow.Advance(ctx, proofflow.StageGenerating, method); err != nil {
		return "", err
	}

	tx := wallet.Transaction{
		Network:   wallet.NetworkTestnetBeta,
		ProgramID: feed.ProgramID,
		Function:  function,
		Inputs:    inputs,
		Fee:       feed.DefaultFee,
	}

	if err := flow.Advance(ctx, proofflow.StageSigning, ""); err != nil {
		return "", err
	}
	raw, err := w.RequestTransaction(ctx, tx)
	if err != nil {
		flow.Fail(err.Error())
		return "", fmt.Errorf("submitting %s: %w", function, err)
	}

	id := txid.Extract(raw)
	if id == "" {
		flow.Fail("no transaction id")
		return "", errNoTransactionID
	}

	if err := flow.Advance(ctx, proofflow.StageBroadcasting, id); err != nil {
		return "", err
	}

	// Shield hands out a provisional id; swap in the canonical one when the
	// wallet learns it in time.
	if shield, ok := w.(*wallet.ShieldAdapter); ok && txid.IsTrackingID(id) {
		id = shield.PromoteTrackingID(ctx, id)
	}

	c.App.Mirror.Insert(ctx, id, method)

	err = c.App.Tracker.Track(ctx, store.TxRecord{
		ID:        id,
		Status:    store.TxBroadcasted,
		Method:    method,
		Address:   address,
		ProgramID: feed.ProgramID,
		Type:      txType,
		Ref:       ref,
	})
	if err != nil {
		c.App.Logger.Warn("Tracking registration failed", zap.String("id", id), zap.Error(err))
	}
	go c.App.Tracker.PollWallet(context.WithoutCancel(ctx), w, id)

	if err := flow.Advance(ctx, proofflow.StageSuccess, id); err != nil {
		return id, nil
	}
	return id, nil
}
