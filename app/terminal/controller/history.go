package controller

import (
	"net/http"
	"time"

	"github.com/decision-zk/decisiond/pkg/feed"
)

// HandleHistory returns the address's transaction history, newest first,
// with the staleness window applied and records from other programs
// filtered out.
func (c *Controller) HandleHistory(w http.ResponseWriter, r *http.Request) {
	address := SessionAddress(r.Context())

	records := c.App.Tracker.EffectiveHistory(address, time.Now().UTC())
	filtered := records[:0]
	for _, rec := range records {
		if rec.ProgramID != "" && rec.ProgramID != feed.ProgramID {
			continue
		}
		filtered = append(filtered, rec)
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": filtered})
}
