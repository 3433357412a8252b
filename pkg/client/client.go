// Package client is the Go SDK for the dispenser HTTP API. Every mutating
// call is signed with the caller's ed25519 key; the server authorizes the
// verified signer, so the client never sends a role claim of its own.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/moltlabs/dispenser/pkg/retry"
)

const (
	headerCaller    = "X-Dispenser-Caller"
	headerSignature = "X-Dispenser-Signature"
)

// APIError is a structured rejection from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dispenser api error (%d %s): %s", e.Status, e.Code, e.Message)
}

// StatusCode reports the HTTP status so retry.IsRetryable can classify it.
func (e *APIError) StatusCode() int { return e.Status }

type Config struct {
	BaseURL string
	// Signer signs every mutating request. Optional for read-only clients.
	Signer solana.PrivateKey
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// Retry defaults to retry.DefaultConfig. Only transport failures and
	// retryable HTTP statuses are resubmitted; rejections return immediately.
	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

type Client struct {
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

// Caller returns the public key mutating requests are signed with.
func (c *Client) Caller() solana.PublicKey {
	return c.cfg.Signer.PublicKey()
}

// State is the JSON view of the dispenser state.
type State struct {
	Mint             string   `json:"mint"`
	Vault            string   `json:"vault"`
	Authority        string   `json:"authority"`
	PendingAuthority *string  `json:"pending_authority"`
	Operators        []string `json:"operators"`
	TotalDistributed uint64   `json:"total_distributed"`
	TotalQueued      uint64   `json:"total_queued"`
	TotalCancelled   uint64   `json:"total_cancelled"`
}

// Distribution is the JSON view of one distribution record.
type Distribution struct {
	ContributionID string     `json:"contribution_id"`
	Recipient      string     `json:"recipient"`
	Amount         uint64     `json:"amount"`
	Status         string     `json:"status"`
	QueuedAt       time.Time  `json:"queued_at"`
	DistributedAt  *time.Time `json:"distributed_at,omitempty"`
}

func (c *Client) Initialize(ctx context.Context, mint, vault solana.PublicKey) (*State, error) {
	return postState(ctx, c, "/v1/initialize", map[string]any{
		"mint":  mint.String(),
		"vault": vault.String(),
	})
}

func (c *Client) AddOperator(ctx context.Context, operator solana.PublicKey) (*State, error) {
	return postState(ctx, c, "/v1/add-operator", map[string]any{"operator": operator.String()})
}

func (c *Client) RemoveOperator(ctx context.Context, operator solana.PublicKey) (*State, error) {
	return postState(ctx, c, "/v1/remove-operator", map[string]any{"operator": operator.String()})
}

func (c *Client) TransferAuthority(ctx context.Context, newAuthority solana.PublicKey) (*State, error) {
	return postState(ctx, c, "/v1/transfer-authority", map[string]any{"new_authority": newAuthority.String()})
}

func (c *Client) AcceptAuthority(ctx context.Context) (*State, error) {
	return postState(ctx, c, "/v1/accept-authority", map[string]any{})
}

func (c *Client) CancelTransfer(ctx context.Context) (*State, error) {
	return postState(ctx, c, "/v1/cancel-transfer", map[string]any{})
}

func (c *Client) AddRecipient(ctx context.Context, contributionID string, recipient solana.PublicKey, amount uint64) (*Distribution, error) {
	return postDistribution(ctx, c, "/v1/add-recipient", map[string]any{
		"contribution_id": contributionID,
		"recipient":       recipient.String(),
		"amount":          amount,
	})
}

func (c *Client) Distribute(ctx context.Context, contributionID string, vault, recipientTokenAccount, mint solana.PublicKey) (*Distribution, error) {
	return postDistribution(ctx, c, "/v1/distribute", map[string]any{
		"contribution_id":         contributionID,
		"vault":                   vault.String(),
		"recipient_token_account": recipientTokenAccount.String(),
		"mint":                    mint.String(),
	})
}

func (c *Client) Cancel(ctx context.Context, contributionID string) (*Distribution, error) {
	return postDistribution(ctx, c, "/v1/cancel", map[string]any{"contribution_id": contributionID})
}

func (c *Client) State(ctx context.Context) (*State, error) {
	var out State
	if err := c.get(ctx, "/v1/state", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Distribution(ctx context.Context, contributionID string) (*Distribution, error) {
	var out Distribution
	if err := c.get(ctx, "/v1/distributions/"+contributionID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Distributions(ctx context.Context, limit int) ([]Distribution, error) {
	path := "/v1/distributions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Distribution
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func postState(ctx context.Context, c *Client, path string, req map[string]any) (*State, error) {
	var out State
	if err := c.post(ctx, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func postDistribution(ctx context.Context, c *Client, path string, req map[string]any) (*Distribution, error) {
	var out Distribution
	if err := c.post(ctx, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, req map[string]any, out any) error {
	if len(c.cfg.Signer) != ed25519.PrivateKeySize {
		return errors.New("signer is required for mutating calls")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	signature := ed25519.Sign(ed25519.PrivateKey(c.cfg.Signer), body)

	return retry.Do(ctx, c.cfg.Retry, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set(headerCaller, c.cfg.Signer.PublicKey().String())
		httpReq.Header.Set(headerSignature, base64.StdEncoding.EncodeToString(signature))
		return c.do(httpReq, out)
	})
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, c.cfg.Retry, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		return c.do(httpReq, out)
	})
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "unknown"
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
