// Package wallet provides a client for the local payment-wallet HTTP API.
//
// The wallet service custodies ecash and exposes three operations: mint a
// bearer token for an amount (send), import a token back into the wallet
// (receive), and report the spendable balance.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIResponse is the generic wrapper for all wallet API responses.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// SendData is the payload of a successful send call.
type SendData struct {
	Token            string `json:"token"`
	Amount           int64  `json:"amount"`
	MintURL          string `json:"mintUrl,omitempty"`
	RemainingBalance int64  `json:"remainingBalance,omitempty"`
}

// ReceiveData is the payload of a successful receive call.
type ReceiveData struct {
	ImportedAmount int64 `json:"importedAmount"`
	BalanceBefore  int64 `json:"balanceBefore"`
	BalanceAfter   int64 `json:"balanceAfter"`
}

// BalanceData is the payload of a successful balance call.
type BalanceData struct {
	Balance    int64  `json:"balance"`
	ProofCount int    `json:"proofCount,omitempty"`
	Unit       string `json:"unit,omitempty"`
}

// Client is the wallet API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = timeout
	}
}

// NewClient creates a wallet client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send mints a bearer token worth amount sats and returns it.
func (c *Client) Send(ctx context.Context, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("amount must be a positive integer, got %d", amount)
	}

	payload := struct {
		Amount int64  `json:"amount"`
		Unit   string `json:"unit"`
	}{Amount: amount, Unit: "sat"}

	var resp APIResponse[SendData]
	if err := c.post(ctx, "/api/send", payload, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("wallet send failed: %s", resp.Message)
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("wallet send returned an empty token")
	}
	return resp.Data.Token, nil
}

// Receive imports a bearer token back into the wallet.
func (c *Client) Receive(ctx context.Context, token string) (*ReceiveData, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}

	payload := struct {
		Token string `json:"token"`
	}{Token: token}

	var resp APIResponse[ReceiveData]
	if err := c.post(ctx, "/api/receive", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("wallet receive failed: %s", resp.Message)
	}
	return &resp.Data, nil
}

// Balance returns the wallet's spendable balance in sats.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var resp APIResponse[BalanceData]
	if err := c.get(ctx, "/api/balance", &resp); err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, fmt.Errorf("wallet balance failed: %s", resp.Message)
	}
	return resp.Data.Balance, nil
}

// =============================================================================
// HTTP Helpers
// =============================================================================

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
