package controller

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/decision-zk/decisiond/pkg/feed"
	"github.com/decision-zk/decisiond/pkg/store"
)

// HandleVote casts a private vote on an open dilemma. Re-voting overwrites
// the stored choice, but a vote still pending confirmation blocks another
// submission for the same dilemma.
func (c *Controller) HandleVote(w http.ResponseWriter, r *http.Request) {
	address := SessionAddress(r.Context())
	id, err := itemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req struct {
		Choice string `json:"choice" validate:"required,max=100"`
	}
	if !c.decodeAndValidate(w, r, &req) {
		return
	}

	if err := c.App.Feed.CheckVotable(id); err != nil {
		writeFeedError(w, err)
		return
	}

	ref := strconv.Itoa(id)
	prev, revote := c.App.Store.Vote(address, ref)
	if revote && prev.Status == store.VotePending {
		writeError(w, http.StatusConflict, "previous vote still pending")
		return
	}

	// The program takes a yes/no flag: "Support" for two-option dilemmas,
	// the first listed option otherwise.
	support := req.Choice == "Support"
	if d, err := c.App.Feed.Dilemma(id); err == nil && len(d.Options) > 0 {
		support = req.Choice == d.Options[0]
	}
	inputs := []string{fmt.Sprintf("%du64", id), strconv.FormatBool(support)}

	txID, err := c.submit(r.Context(), address, "Vote Private", store.TxTypeVote,
		ref, feed.FunctionVote, inputs)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	vote := store.VoteRecord{
		ProposalID: ref,
		Choice:     req.Choice,
		TxID:       txID,
		Status:     store.VotePending,
		CastAt:     time.Now().UTC(),
	}
	if err := c.App.Store.SaveVote(r.Context(), address, vote); err != nil {
		writeError(w, http.StatusInternalServerError, "recording vote failed")
		return
	}
	if err := c.App.Feed.ApplyVote(id, revote); err != nil {
		writeFeedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"txId": txID, "vote": vote})
}

// HandleUnlock pays to unlock a gated post. The unlock flag is written
// optimistically at submit time; a later failure shows up in the history.
func (c *Controller) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	address := SessionAddress(r.Context())
	id, err := itemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	post, err := c.App.Feed.Post(id)
	if err != nil {
		writeFeedError(w, err)
		return
	}

	ref := strconv.Itoa(id)
	if c.App.Store.Unlocked(address, ref) {
		writeError(w, http.StatusConflict, "post already unlocked")
		return
	}

	inputs := []string{fmt.Sprintf("%du64", id)}
	txID, err := c.submit(r.Context(), address, "Unlock Content", store.TxTypeUnlock,
		ref, feed.FunctionUnlock, inputs)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	unlock := store.UnlockRecord{
		PostID:     ref,
		TxID:       txID,
		UnlockedAt: time.Now().UTC(),
	}
	if err := c.App.Store.SaveUnlock(r.Context(), address, unlock); err != nil {
		writeError(w, http.StatusInternalServerError, "recording unlock failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"txId":  txID,
		"price": post.Price,
	})
}
