package controller

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/decision-zk/decisiond/app/terminal/types"
	"github.com/decision-zk/decisiond/pkg/explorer"
	"github.com/decision-zk/decisiond/pkg/feed"
	"github.com/decision-zk/decisiond/pkg/store"
	"github.com/decision-zk/decisiond/pkg/tracker"
	"github.com/decision-zk/decisiond/pkg/wallet"
)

const testAddress = "aleo1testaddress"

// fakeWallet is a scriptable in-process wallet.
type fakeWallet struct {
	mu        sync.Mutex
	connected bool
	address   string

	submitResp any
	submitErr  error
	submitted  []wallet.Transaction
	records    []wallet.Record

	events chan wallet.Event
}

func newFakeWallet(address string) *fakeWallet {
	return &fakeWallet{
		connected:  true,
		address:    address,
		submitResp: "at1faketransactionid",
		events:     make(chan wallet.Event),
	}
}

func (f *fakeWallet) Name() string { return "fake" }

func (f *fakeWallet) Connect(context.Context, wallet.Permission, wallet.Network) (wallet.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return wallet.Account{Address: f.address}, nil
}

func (f *fakeWallet) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeWallet) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeWallet) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

func (f *fakeWallet) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	return append([]byte("signed:"), msg...), nil
}

func (f *fakeWallet) RequestTransaction(_ context.Context, tx wallet.Transaction) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, tx)
	return f.submitResp, f.submitErr
}

func (f *fakeWallet) RequestRecords(context.Context, string) ([]wallet.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, nil
}

func (f *fakeWallet) TransactionStatus(context.Context, string) (wallet.StatusResult, error) {
	return wallet.StatusResult{Status: "Pending"}, nil
}

func (f *fakeWallet) Decrypt(_ context.Context, ciphertext string) (string, error) {
	return ciphertext, nil
}

func (f *fakeWallet) Events() <-chan wallet.Event { return f.events }

func (f *fakeWallet) Close() {}

func newTestController(t *testing.T, fw *fakeWallet) (*Controller, *mux.Router) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`"2500000u64"`))
	}))
	t.Cleanup(srv.Close)

	st, err := store.Open(t.TempDir(), logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	app := &types.App{
		Logger:   logger,
		Store:    st,
		Feed:     feed.NewService(st),
		Tracker:  tracker.New(logger, st, nil),
		Explorer: explorer.NewWithOpts(explorer.Opts{Endpoints: []string{srv.URL}, RPS: 1000, Burst: 1000}),
		Balances: xsync.NewMap[string, types.Balances](),
	}
	if fw != nil {
		app.Wallet = fw
	}

	c := NewController(app)
	router, err := c.NewRouter()
	require.NoError(t, err)
	return c, router
}

func sessionCookieFor(c *Controller, address string) *http.Cookie {
	rec := httptest.NewRecorder()
	c.issueSession(rec, address)
	return rec.Result().Cookies()[0]
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func TestRequireSessionRejectsMissingCookie(t *testing.T) {
	_, router := newTestController(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/transactions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSessionRejectsForgedCookie(t *testing.T) {
	c, router := newTestController(t, nil)

	forger, _ := newTestController(t, nil)
	forger.JWTSecret = []byte("some-other-secret")
	require.NotEqual(t, string(c.JWTSecret), string(forger.JWTSecret))

	rec := doJSON(t, router, http.MethodGet, "/transactions", nil, sessionCookieFor(forger, testAddress))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChallengeVerifyIssuesSession(t *testing.T) {
	fw := newFakeWallet(testAddress)
	_, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodPost, "/auth/challenge",
		map[string]string{"address": testAddress}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var challengeResp struct {
		Challenge string `json:"challenge"`
	}
	decodeBody(t, rec, &challengeResp)
	require.NotEmpty(t, challengeResp.Challenge)

	signature := base64.StdEncoding.EncodeToString(append([]byte("signed:"), challengeResp.Challenge...))
	rec = doJSON(t, router, http.MethodPost, "/auth/verify",
		map[string]string{"address": testAddress, "signature": signature}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "dz_session", cookies[0].Name)

	rec = doJSON(t, router, http.MethodGet, "/transactions", nil, cookies[0])
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	fw := newFakeWallet(testAddress)
	_, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodPost, "/auth/challenge",
		map[string]string{"address": testAddress}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	signature := base64.StdEncoding.EncodeToString([]byte("not the right signature"))
	rec = doJSON(t, router, http.MethodPost, "/auth/verify",
		map[string]string{"address": testAddress, "signature": signature}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	fw := newFakeWallet(testAddress)
	_, router := newTestController(t, fw)

	signature := base64.StdEncoding.EncodeToString([]byte("whatever"))
	rec := doJSON(t, router, http.MethodPost, "/auth/verify",
		map[string]string{"address": testAddress, "signature": signature}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFeedUnauthenticatedHidesGatedContent(t *testing.T) {
	_, router := newTestController(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/feed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []map[string]any `json:"items"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Items, 4)

	for _, item := range resp.Items {
		if item["type"] == feed.TypePaidPost {
			assert.Empty(t, item["hiddenContent"])
			assert.Equal(t, false, item["isUnlocked"])
		}
	}
}

func TestVoteFlow(t *testing.T) {
	fw := newFakeWallet(testAddress)
	c, router := newTestController(t, fw)
	cookie := sessionCookieFor(c, testAddress)

	rec := doJSON(t, router, http.MethodPost, "/feed/1/vote",
		map[string]string{"choice": "Support"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TxID string           `json:"txId"`
		Vote store.VoteRecord `json:"vote"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "at1faketransactionid", resp.TxID)
	assert.Equal(t, store.VotePending, resp.Vote.Status)

	v, ok := c.App.Store.Vote(testAddress, "1")
	require.True(t, ok)
	assert.Equal(t, "Support", v.Choice)

	d, err := c.App.Feed.Dilemma(1)
	require.NoError(t, err)
	assert.Equal(t, 1241, d.Votes)

	require.Len(t, fw.submitted, 1)
	assert.Equal(t, feed.FunctionVote, fw.submitted[0].Function)
	assert.Equal(t, []string{"1u64", "true"}, fw.submitted[0].Inputs)

	// A pending vote blocks another submission for the same dilemma.
	rec = doJSON(t, router, http.MethodPost, "/feed/1/vote",
		map[string]string{"choice": "Reject"}, cookie)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVoteOnClosedDilemma(t *testing.T) {
	fw := newFakeWallet(testAddress)
	c, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodPost, "/feed/4/vote",
		map[string]string{"choice": "Support"}, sessionCookieFor(c, testAddress))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, fw.submitted)
}

func TestVoteWalletFailure(t *testing.T) {
	fw := newFakeWallet(testAddress)
	fw.submitErr = assert.AnError
	c, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodPost, "/feed/1/vote",
		map[string]string{"choice": "Support"}, sessionCookieFor(c, testAddress))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	_, ok := c.App.Store.Vote(testAddress, "1")
	assert.False(t, ok)
}

func TestUnlockFlow(t *testing.T) {
	fw := newFakeWallet(testAddress)
	c, router := newTestController(t, fw)
	cookie := sessionCookieFor(c, testAddress)

	rec := doJSON(t, router, http.MethodPost, "/feed/3/unlock", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TxID  string `json:"txId"`
		Price int    `json:"price"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 50, resp.Price)
	assert.True(t, c.App.Store.Unlocked(testAddress, "3"))

	require.Len(t, fw.submitted, 1)
	assert.Equal(t, feed.FunctionUnlock, fw.submitted[0].Function)
	assert.Equal(t, []string{"3u64"}, fw.submitted[0].Inputs)

	rec = doJSON(t, router, http.MethodPost, "/feed/3/unlock", nil, cookie)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnlockDilemmaRejected(t *testing.T) {
	fw := newFakeWallet(testAddress)
	c, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodPost, "/feed/1/unlock", nil, sessionCookieFor(c, testAddress))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateProposal(t *testing.T) {
	fw := newFakeWallet(testAddress)
	c, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodPost, "/feed/proposals", map[string]any{
		"type":     "dilemma",
		"title":    "Fund a prover subsidy program?",
		"desc":     "Subsidize proving costs for small validators.",
		"category": "Treasury",
	}, sessionCookieFor(c, testAddress))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		TxID string `json:"txId"`
		Item struct {
			ID int `json:"id"`
		} `json:"item"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 5, resp.Item.ID)
	assert.Len(t, c.App.Feed.Items(""), 5)

	require.Len(t, fw.submitted, 1)
	assert.Equal(t, feed.FunctionCreate, fw.submitted[0].Function)
	assert.Equal(t, []string{"12345field", "false", "0u64", "5u64"}, fw.submitted[0].Inputs)
}

func TestCreatePaidPostUnlocksForAuthor(t *testing.T) {
	fw := newFakeWallet(testAddress)
	c, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodPost, "/feed/proposals", map[string]any{
		"type":          "paid_post",
		"title":         "Node operator playbook",
		"teaser":        "How to run a profitable node...",
		"hiddenContent": "The full playbook.",
		"price":         25,
	}, sessionCookieFor(c, testAddress))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Item struct {
			ID int `json:"id"`
		} `json:"item"`
	}
	decodeBody(t, rec, &resp)
	assert.True(t, c.App.Store.Unlocked(testAddress, "5"))
	assert.Equal(t, 5, resp.Item.ID)
}

func TestCommentFlow(t *testing.T) {
	fw := newFakeWallet(testAddress)
	c, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodPost, "/feed/1/comments",
		map[string]string{"text": "Strongly in favor."}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/feed/1/comments",
		map[string]string{"text": "Strongly in favor."}, sessionCookieFor(c, testAddress))
	require.Equal(t, http.StatusCreated, rec.Code)

	var comment feed.Comment
	decodeBody(t, rec, &comment)
	assert.Equal(t, testAddress, comment.Author)
	assert.Equal(t, "Strongly in favor.", comment.Text)
}

func TestHistoryReturnsTrackedTransactions(t *testing.T) {
	fw := newFakeWallet(testAddress)
	c, router := newTestController(t, fw)
	cookie := sessionCookieFor(c, testAddress)

	rec := doJSON(t, router, http.MethodPost, "/feed/1/vote",
		map[string]string{"choice": "Support"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/transactions", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Transactions []store.TxRecord `json:"transactions"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "at1faketransactionid", resp.Transactions[0].ID)
	assert.Equal(t, store.TxBroadcasted, resp.Transactions[0].Status)
	assert.Equal(t, "Vote Private", resp.Transactions[0].Method)
}

func TestBalances(t *testing.T) {
	fw := newFakeWallet(testAddress)
	fw.records = []wallet.Record{
		{Plaintext: "{ microcredits: 1500000u64 }", Spent: false},
		{Plaintext: "{ microcredits: 9000000u64 }", Spent: true},
	}
	c, router := newTestController(t, fw)

	rec := doJSON(t, router, http.MethodGet, "/balances", nil, sessionCookieFor(c, testAddress))
	require.Equal(t, http.StatusOK, rec.Code)

	var b types.Balances
	decodeBody(t, rec, &b)
	assert.InDelta(t, 2.5, b.Public, 1e-9)
	assert.InDelta(t, 1.5, b.Private, 1e-9)
}

func TestHealth(t *testing.T) {
	_, router := newTestController(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	_, router := newTestController(t, nil)
	handler := WithCORS(router)

	req := httptest.NewRequest(http.MethodOptions, "/feed", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
