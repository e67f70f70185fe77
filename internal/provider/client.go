// Package provider implements the HTTP client for payment-gateway providers:
// catalog fetch, paid chat completions, wallet info, and refunds.
//
// DESIGN: Provider payloads are heterogeneous and frequently malformed, so
// responses are probed with gjson instead of strict struct decoding. A
// provider omitting half its fields should degrade into a rejected catalog
// entry or a down verdict, never into a decode error that aborts the cycle.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/routstr/gateway-monitor/internal/config"
	"github.com/routstr/gateway-monitor/internal/pricing"
)

// HeaderStyle selects how the payment credential rides on a request.
type HeaderStyle int

const (
	// HeaderBearer sends the credential as "Authorization: Bearer <token>".
	HeaderBearer HeaderStyle = iota
	// HeaderXCashu sends the credential in a dedicated "x-cashu" header.
	HeaderXCashu
)

// ParseHeaderStyle maps a config string to a HeaderStyle.
func ParseHeaderStyle(s string) (HeaderStyle, error) {
	switch s {
	case config.PaymentHeaderBearer:
		return HeaderBearer, nil
	case config.PaymentHeaderXCashu:
		return HeaderXCashu, nil
	default:
		return HeaderBearer, fmt.Errorf("unknown payment header style %q", s)
	}
}

// ChatResponse is the useful subset of a completed inference response.
type ChatResponse struct {
	Content          string
	PromptTokens     int64
	CompletionTokens int64

	// Change is the x-cashu response header carrying returned ecash, set only
	// when the provider settles per-request instead of against a balance.
	Change string
}

// Client talks to any number of providers; it holds no per-provider state.
type Client struct {
	httpClient  *http.Client
	headerStyle HeaderStyle
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithHeaderStyle sets how payment credentials are attached to requests.
func WithHeaderStyle(style HeaderStyle) ClientOption {
	return func(client *Client) {
		client.headerStyle = style
	}
}

// NewClient creates a provider client. Every call it makes is bounded by the
// given timeout; a silent provider is a failed provider, not a hung cycle.
func NewClient(timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headerStyle: HeaderBearer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCatalog retrieves a provider's advertised model catalog. Both bare
// `{"models": [...]}` bodies and enveloped `{"data": {"models": [...]}}`
// bodies are accepted.
func (c *Client) FetchCatalog(ctx context.Context, baseURL string) ([]pricing.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog from %s: %w", baseURL, err)
	}

	models := gjson.GetBytes(body, "models")
	if !models.Exists() {
		models = gjson.GetBytes(body, "data.models")
	}
	if !models.IsArray() {
		return nil, fmt.Errorf("catalog from %s has no models array", baseURL)
	}

	var entries []pricing.Entry
	models.ForEach(func(_, m gjson.Result) bool {
		entries = append(entries, pricing.Entry{
			ID:   m.Get("id").String(),
			Name: m.Get("name").String(),
			Raw:  []byte(m.Raw),
		})
		return true
	})
	return entries, nil
}

// ChatCompletion issues one paid inference request.
func (c *Client) ChatCompletion(ctx context.Context, baseURL, token, model, prompt string) (*ChatResponse, error) {
	payload := struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}{Model: model}
	payload.Messages = append(payload.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: prompt})

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setPaymentHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion against %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completion against %s: status %d: %s",
			baseURL, resp.StatusCode, truncate(respBody, 200))
	}

	content := gjson.GetBytes(respBody, "choices.0.message.content")
	if !content.Exists() {
		return nil, fmt.Errorf("chat response from %s has no content", baseURL)
	}

	return &ChatResponse{
		Content:          content.String(),
		PromptTokens:     gjson.GetBytes(respBody, "usage.prompt_tokens").Int(),
		CompletionTokens: gjson.GetBytes(respBody, "usage.completion_tokens").Int(),
		Change:           resp.Header.Get("x-cashu"),
	}, nil
}

// WalletInfo returns the provider-side balance, in minor units, backing the
// given credential.
func (c *Client) WalletInfo(ctx context.Context, baseURL, token string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(baseURL, "/")+"/v1/wallet/info", nil)
	if err != nil {
		return 0, fmt.Errorf("creating wallet info request: %w", err)
	}
	c.setPaymentHeaders(req, token)

	body, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("wallet info from %s: %w", baseURL, err)
	}

	balance := gjson.GetBytes(body, "balance")
	if !balance.Exists() {
		return 0, fmt.Errorf("wallet info from %s has no balance", baseURL)
	}
	return balance.Int(), nil
}

// Refund asks the provider to sweep the residual balance back. Best effort:
// callers log failures and move on.
func (c *Client) Refund(ctx context.Context, baseURL, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/v1/wallet/refund", nil)
	if err != nil {
		return fmt.Errorf("creating refund request: %w", err)
	}
	c.setPaymentHeaders(req, token)

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("refund from %s: %w", baseURL, err)
	}
	return nil
}

func (c *Client) setPaymentHeaders(req *http.Request, token string) {
	switch c.headerStyle {
	case HeaderXCashu:
		req.Header.Set("x-cashu", token)
	default:
		req.Header.Set("Authorization", "Bearer "+token)
	}
	// Some gateways mangle compressed bodies they rewrite in flight.
	req.Header.Set("Accept-Encoding", "identity")
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
