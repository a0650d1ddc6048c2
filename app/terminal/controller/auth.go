package controller

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/wallet"
)

const (
	sessionCookie = "dz_session"
	sessionTTL    = 8 * time.Hour
	challengeTTL  = 5 * time.Minute
)

type challenge struct {
	value   string
	expires time.Time
}

type ctxKey int

const addressKey ctxKey = iota

// HandleConnect selects and connects a wallet adapter. The session itself
// is only issued after the challenge round-trip proves signing capability.
func (c *Controller) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet  string `json:"wallet" validate:"required,oneof=leo shield"`
		Network string `json:"network"`
	}
	if !c.decodeAndValidate(w, r, &req) {
		return
	}

	network := wallet.NetworkTestnetBeta
	if req.Network != "" {
		network = wallet.Network(req.Network)
	}

	if c.App.Wallet != nil {
		c.App.Wallet.Close()
	}
	provider := wallet.NewHTTPProviderFromEnv(c.App.Logger)
	var adapter wallet.Wallet
	if req.Wallet == "shield" {
		adapter = wallet.NewShieldAdapter(provider)
	} else {
		adapter = wallet.NewLeoAdapter(provider)
	}

	account, err := adapter.Connect(r.Context(), wallet.PermissionUponRequest, network)
	if err != nil {
		adapter.Close()
		c.App.Logger.Warn("Wallet connect failed", zap.String("wallet", req.Wallet), zap.Error(err))
		writeError(w, http.StatusBadGateway, "wallet connection failed")
		return
	}
	c.App.Wallet = adapter

	c.App.RefreshBalances(r.Context(), account.Address)

	writeJSON(w, http.StatusOK, map[string]string{
		"address": account.Address,
		"wallet":  adapter.Name(),
	})
}

// HandleChallenge issues a one-time challenge for the address.
func (c *Controller) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address" validate:"required"`
	}
	if !c.decodeAndValidate(w, r, &req) {
		return
	}

	ch := challenge{
		value:   "decision.zk login " + uuid.NewString(),
		expires: time.Now().Add(challengeTTL),
	}
	c.challenges.Store(req.Address, ch)
	writeJSON(w, http.StatusOK, map[string]string{"challenge": ch.value})
}

// HandleVerify checks the signature over the issued challenge against the
// connected wallet's own signature and issues the session on match.
func (c *Controller) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address" validate:"required"`
		Signature string `json:"signature" validate:"required,base64"`
	}
	if !c.decodeAndValidate(w, r, &req) {
		return
	}

	ch, ok := c.challenges.Load(req.Address)
	if !ok || time.Now().After(ch.expires) {
		writeError(w, http.StatusUnauthorized, "no active challenge")
		return
	}

	if c.App.Wallet == nil || !c.App.Wallet.Connected() || c.App.Wallet.Address() != req.Address {
		writeError(w, http.StatusUnauthorized, "wallet not connected for address")
		return
	}

	want, err := c.App.Wallet.SignMessage(r.Context(), []byte(ch.value))
	if err != nil {
		writeError(w, http.StatusBadGateway, "wallet signing unavailable")
		return
	}
	got, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		writeError(w, http.StatusUnauthorized, "signature mismatch")
		return
	}

	c.challenges.Delete(req.Address)
	c.issueSession(w, req.Address)
	writeJSON(w, http.StatusOK, map[string]string{"address": req.Address})
}

// HandleDisconnect ends the wallet session. In-memory per-address state is
// dropped; the persisted keys stay for reconnect.
func (c *Controller) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	address := SessionAddress(r.Context())
	if c.App.Wallet != nil {
		if err := c.App.Wallet.Disconnect(r.Context()); err != nil {
			c.App.Logger.Warn("Wallet disconnect failed", zap.Error(err))
		}
	}
	c.App.Balances.Delete(address)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// issueSession issues a session cookie
func (c *Controller) issueSession(w http.ResponseWriter, address string) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": address,
		"exp": time.Now().Add(sessionTTL).Unix(),
		"iat": time.Now().Unix(),
	})
	ss, _ := token.SignedString(c.JWTSecret)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    ss,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("ENVIRONMENT") == "production",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})
}

// sessionAddressFromRequest extracts a valid session's address, or "".
func (c *Controller) sessionAddressFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	tok, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (any, error) { return c.JWTSecret, nil })
	if err != nil || !tok.Valid {
		return ""
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// RequireSession middleware
func (c *Controller) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := c.sessionAddressFromRequest(r)
		if address == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), addressKey, address)))
	})
}

// SessionAddress returns the authenticated address stored by RequireSession.
func SessionAddress(ctx context.Context) string {
	address, _ := ctx.Value(addressKey).(string)
	return address
}
