package controller

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/feed"
	"github.com/decision-zk/decisiond/pkg/store"
)

// HandleFeed returns the feed, personalized when a session is present.
func (c *Controller) HandleFeed(w http.ResponseWriter, r *http.Request) {
	address := c.sessionAddressFromRequest(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"items": c.App.Feed.Items(address),
	})
}

func itemID(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["id"])
}

// HandleCreateProposal submits a create_dilemma transaction and appends the
// new item to the feed. Paid posts unlock for their author immediately.
func (c *Controller) HandleCreateProposal(w http.ResponseWriter, r *http.Request) {
	address := SessionAddress(r.Context())
	var req struct {
		Type     string   `json:"type" validate:"required,oneof=dilemma paid_post"`
		Title    string   `json:"title" validate:"required,max=200"`
		Desc     string   `json:"desc"`
		Teaser   string   `json:"teaser"`
		Hidden   string   `json:"hiddenContent"`
		Price    int      `json:"price" validate:"min=0"`
		Category string   `json:"category"`
		Options  []string `json:"options"`
	}
	if !c.decodeAndValidate(w, r, &req) {
		return
	}

	isPaid := req.Type == feed.TypePaidPost
	nextID := len(c.App.Feed.Items("")) + 1
	inputs := []string{
		"12345field",
		strconv.FormatBool(isPaid),
		fmt.Sprintf("%du64", req.Price),
		fmt.Sprintf("%du64", nextID),
	}

	id, err := c.submit(r.Context(), address, "Create Proposal", store.TxTypeProposal,
		"", feed.FunctionCreate, inputs)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	var item any
	if isPaid {
		post := c.App.Feed.CreatePost(req.Title, req.Teaser, req.Hidden, req.Price, address)
		if err := c.App.Store.SaveUnlock(r.Context(), address, store.UnlockRecord{
			PostID:     strconv.Itoa(post.ID),
			TxID:       id,
			UnlockedAt: time.Now().UTC(),
		}); err != nil {
			c.App.Logger.Warn("Author auto-unlock failed", zap.Error(err))
		}
		item = post
	} else {
		item = c.App.Feed.CreateDilemma(req.Title, req.Desc, req.Category, req.Options)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"txId": id, "item": item})
}

// HandleComment appends a comment to an open item.
func (c *Controller) HandleComment(w http.ResponseWriter, r *http.Request) {
	address := SessionAddress(r.Context())
	id, err := itemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req struct {
		Text string `json:"text" validate:"required,max=2000"`
	}
	if !c.decodeAndValidate(w, r, &req) {
		return
	}

	comment, err := c.App.Feed.AddComment(id, address, req.Text, "just now")
	if err != nil {
		writeFeedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// writeFeedError maps feed errors onto HTTP statuses.
func writeFeedError(w http.ResponseWriter, err error) {
	switch err {
	case feed.ErrNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case feed.ErrClosed, feed.ErrNotDilemma, feed.ErrNotPaidPost:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
