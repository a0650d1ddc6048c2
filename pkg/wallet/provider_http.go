package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/decision-zk/decisiond/pkg/utils"
)

// HTTPProvider speaks to a wallet bridge daemon over HTTP. The daemon fronts
// the actual browser extension session; this provider only moves JSON back
// and forth. It advertises every capability and lets the daemon answer 404
// for verbs the underlying wallet lacks.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	events chan Event
	done   chan struct{}
}

// NewHTTPProvider builds a provider against the given bridge base URL.
func NewHTTPProvider(baseURL string, logger *zap.Logger) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
	go p.pollEvents()
	return p
}

// NewHTTPProviderFromEnv reads WALLET_BRIDGE_URL, defaulting to a local
// bridge daemon.
func NewHTTPProviderFromEnv(logger *zap.Logger) *HTTPProvider {
	return NewHTTPProvider(utils.Env("WALLET_BRIDGE_URL", "http://localhost:9460"), logger)
}

func (p *HTTPProvider) Close() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *HTTPProvider) postJSON(ctx context.Context, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer utils.DrainAndClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("wallet bridge %s: verb not supported", path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wallet bridge %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (p *HTTPProvider) ReadyState(ctx context.Context) ReadyState {
	var out struct {
		ReadyState ReadyState `json:"readyState"`
	}
	if err := p.postJSON(ctx, "/ready", nil, &out); err != nil {
		return ReadyStateNotDetected
	}
	if out.ReadyState == "" {
		return ReadyStateNotDetected
	}
	return out.ReadyState
}

func (p *HTTPProvider) Connect(ctx context.Context, network Network, permission Permission, programs []string) (Account, error) {
	in := map[string]any{
		"network":           network,
		"decryptPermission": permission,
		"programs":          programs,
	}
	var out Account
	if err := p.postJSON(ctx, "/connect", in, &out); err != nil {
		return Account{}, err
	}
	return out, nil
}

func (p *HTTPProvider) Disconnect(ctx context.Context) error {
	return p.postJSON(ctx, "/disconnect", nil, nil)
}

func (p *HTTPProvider) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	in := map[string]any{"message": msg}
	var out struct {
		Signature []byte `json:"signature"`
	}
	if err := p.postJSON(ctx, "/sign", in, &out); err != nil {
		return nil, err
	}
	return out.Signature, nil
}

func (p *HTTPProvider) RequestTransaction(ctx context.Context, tx any) (any, error) {
	var out any
	if err := p.postJSON(ctx, "/transactions/request", tx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *HTTPProvider) ExecuteTransaction(ctx context.Context, tx any) (any, error) {
	var out any
	if err := p.postJSON(ctx, "/transactions/execute", tx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *HTTPProvider) TransactionStatus(ctx context.Context, id string) (StatusResult, error) {
	var out StatusResult
	if err := p.postJSON(ctx, "/transactions/status", map[string]string{"id": id}, &out); err != nil {
		return StatusResult{}, err
	}
	return out, nil
}

func (p *HTTPProvider) RequestRecordPlaintexts(ctx context.Context, program string) ([]Record, error) {
	var out struct {
		Records []Record `json:"records"`
	}
	if err := p.postJSON(ctx, "/records/plaintexts", map[string]string{"program": program}, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (p *HTTPProvider) RequestRecords(ctx context.Context, program string) ([]Record, error) {
	var out struct {
		Records []Record `json:"records"`
	}
	if err := p.postJSON(ctx, "/records", map[string]string{"program": program}, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (p *HTTPProvider) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	var out struct {
		Plaintext string `json:"plaintext"`
	}
	if err := p.postJSON(ctx, "/decrypt", map[string]string{"ciphertext": ciphertext}, &out); err != nil {
		return "", err
	}
	return out.Plaintext, nil
}

func (p *HTTPProvider) Events() <-chan Event { return p.events }

// pollEvents long-polls the bridge for lifecycle events until Close.
func (p *HTTPProvider) pollEvents() {
	defer close(p.events)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		var out struct {
			Events []Event `json:"events"`
		}
		err := p.postJSON(ctx, "/events", nil, &out)
		cancel()
		if err != nil {
			p.logger.Debug("wallet bridge event poll failed", zap.Error(err))
			select {
			case <-p.done:
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		for _, ev := range out.Events {
			select {
			case p.events <- ev:
			case <-p.done:
				return
			}
		}
	}
}
