// Package remediation talks to the funding service that moves collateral
// into the trading wallet and sets exchange approvals.
package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when no remediation service is configured.
var ErrUnavailable = errors.New("remediation: service not configured")

// Client is the REST client for the remediation service.
type Client struct {
	baseURL    string
	apiKey     string
	wallet     string
	httpClient *http.Client
}

// NewClient creates a remediation client acting for wallet.
func NewClient(baseURL, apiKey, wallet string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		wallet:     wallet,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type depositRequest struct {
	Wallet string          `json:"wallet"`
	Amount decimal.Decimal `json:"amount"`
}

type approvalRequest struct {
	Wallet string `json:"wallet"`
}

type response struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Deposit moves amount dollars of collateral into the wallet and returns the
// transaction hash.
func (c *Client) Deposit(ctx context.Context, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("remediation: deposit: non-positive amount %s", amount)
	}
	out, err := c.post(ctx, "/deposit", depositRequest{Wallet: c.wallet, Amount: amount.Round(6)})
	if err != nil {
		return "", fmt.Errorf("remediation: deposit: %w", err)
	}
	return out.TxHash, nil
}

// Approve sets the exchange allowances for the wallet.
func (c *Client) Approve(ctx context.Context) error {
	if _, err := c.post(ctx, "/approvals", approvalRequest{Wallet: c.wallet}); err != nil {
		return fmt.Errorf("remediation: approve: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return response{}, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}

	var out response
	decodeErr := json.Unmarshal(respBody, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != "" {
			return out, fmt.Errorf("HTTP %d: %s", resp.StatusCode, out.Error)
		}
		return out, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if decodeErr != nil {
		return out, fmt.Errorf("decode response: %w", decodeErr)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "service reported failure"
		}
		return out, errors.New(msg)
	}
	return out, nil
}

// Unavailable is the remediation backend used when none is configured.
// Every call fails, so the executor moves straight to the next step.
type Unavailable struct{}

// Deposit always fails with ErrUnavailable.
func (Unavailable) Deposit(context.Context, decimal.Decimal) (string, error) {
	return "", ErrUnavailable
}

// Approve always fails with ErrUnavailable.
func (Unavailable) Approve(context.Context) error { return ErrUnavailable }
