package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/decision-zk/decisiond/app/terminal/types"
	"github.com/decision-zk/decisiond/pkg/utils"
)

type Controller struct {
	App *types.App

	JWTSecret  []byte
	validate   *validator.Validate
	challenges *xsync.Map[string, challenge]
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App:        app,
		JWTSecret:  []byte(utils.Env("SESSION_SECRET", "change-me-please")),
		validate:   validator.New(),
		challenges: xsync.NewMap[string, challenge](),
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/auth/connect", c.HandleConnect).Methods(http.MethodPost)
	r.HandleFunc("/auth/challenge", c.HandleChallenge).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify", c.HandleVerify).Methods(http.MethodPost)
	r.Handle("/auth/disconnect", c.RequireSession(http.HandlerFunc(c.HandleDisconnect))).Methods(http.MethodPost)

	r.HandleFunc("/feed", c.HandleFeed).Methods(http.MethodGet)
	r.Handle("/feed/proposals", c.RequireSession(http.HandlerFunc(c.HandleCreateProposal))).Methods(http.MethodPost)
	r.Handle("/feed/{id}/vote", c.RequireSession(http.HandlerFunc(c.HandleVote))).Methods(http.MethodPost)
	r.Handle("/feed/{id}/unlock", c.RequireSession(http.HandlerFunc(c.HandleUnlock))).Methods(http.MethodPost)
	r.Handle("/feed/{id}/comments", c.RequireSession(http.HandlerFunc(c.HandleComment))).Methods(http.MethodPost)

	r.Handle("/transactions", c.RequireSession(http.HandlerFunc(c.HandleHistory))).Methods(http.MethodGet)
	r.Handle("/balances", c.RequireSession(http.HandlerFunc(c.HandleBalances))).Methods(http.MethodGet)

	r.HandleFunc("/events", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Development: Echo back the origin to allow credentials with any origin
		// TODO: Restrict this in production to specific domains
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeAndValidate decodes the JSON body into out and runs struct
// validation. Writes the error response itself and reports success.
func (c *Controller) decodeAndValidate(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := c.validate.Struct(out); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
