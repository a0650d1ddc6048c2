package controller

import (
	"net/http"
)

// HandleBalances fetches both balances fresh and returns them. Failures
// read as zero rather than an error; the indexer is allowed to be flaky.
func (c *Controller) HandleBalances(w http.ResponseWriter, r *http.Request) {
	address := SessionAddress(r.Context())
	writeJSON(w, http.StatusOK, c.App.RefreshBalances(r.Context(), address))
}
