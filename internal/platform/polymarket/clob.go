package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/crypto"
	"github.com/alanyoungcy/polyexec/internal/domain"
)

// collateralScale converts 6-decimal integer collateral amounts to dollars.
var collateralScale = decimal.New(1, 6)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles order placement, book reads, balance queries
// and API key derivation.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	signatureType int

	mu   sync.RWMutex
	auth *crypto.HMACAuth
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for L1 auth headers. L2 credentials are
// installed later with SetCredentials.
func NewClobClient(baseURL string, signer *crypto.Signer, signatureType int, timeout time.Duration) *ClobClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClobClient{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		signer:        signer,
		signatureType: signatureType,
	}
}

// SetCredentials installs L2 API credentials used for authenticated calls.
func (c *ClobClient) SetCredentials(creds domain.Credentials) {
	c.mu.Lock()
	c.auth = crypto.NewHMACAuth(creds)
	c.mu.Unlock()
}

// HasCredentials reports whether L2 credentials are installed.
func (c *ClobClient) HasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth != nil && c.auth.Key != ""
}

// APIKey returns the installed L2 API key, or "".
func (c *ClobClient) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.auth == nil {
		return ""
	}
	return c.auth.Key
}

// PostOrder submits a signed order. A non-2xx response whose body carries an
// error message is returned as a result with Error set so the caller can
// classify it; transport failures are returned as errors.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.SignedOrder, orderType domain.OrderType) (*domain.SubmitResult, error) {
	body := APIOrderRequest{
		Order: APISignedOrder{
			Salt:          json.Number(order.Salt),
			Maker:         order.Maker,
			Signer:        order.Signer,
			Taker:         order.Taker,
			TokenID:       order.TokenID,
			MakerAmount:   order.MakerAmount,
			TakerAmount:   order.TakerAmount,
			Expiration:    order.Expiration,
			Nonce:         order.Nonce,
			FeeRateBps:    order.FeeRateBps,
			Side:          string(order.Side),
			SignatureType: order.SignatureType,
			Signature:     order.Signature,
		},
		Owner:     order.Owner,
		OrderType: string(orderType),
	}

	status, respBody, err := c.send(ctx, http.MethodPost, "/order", nil, body, true)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	decodeErr := json.Unmarshal(respBody, &apiResult)
	if status < 200 || status >= 300 {
		if decodeErr == nil && (apiResult.Error != "" || apiResult.ErrorMsg != "") {
			return apiResult.ToSubmitResult(), nil
		}
		return nil, fmt.Errorf("polymarket/clob: post order: %w", checkHTTPStatus(status, respBody))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("polymarket/clob: decode order result: %w", decodeErr)
	}
	return apiResult.ToSubmitResult(), nil
}

// GetOrderBook fetches the book for a token with bids descending and asks
// ascending.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	q := url.Values{"token_id": {tokenID}}
	respBody, err := c.get(ctx, "/book", q, false)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	snap := book.ToSnapshot()
	if snap.AssetID == "" {
		snap.AssetID = tokenID
	}
	snap.Timestamp = time.Now().UTC()
	return snap, nil
}

// GetNegRisk reports whether the token trades on the neg-risk exchange.
func (c *ClobClient) GetNegRisk(ctx context.Context, tokenID string) (bool, error) {
	respBody, err := c.get(ctx, "/neg-risk", url.Values{"token_id": {tokenID}}, false)
	if err != nil {
		return false, fmt.Errorf("polymarket/clob: get neg-risk %s: %w", tokenID, err)
	}
	var out struct {
		NegRisk bool `json:"neg_risk"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return false, fmt.Errorf("polymarket/clob: decode neg-risk: %w", err)
	}
	return out.NegRisk, nil
}

// GetTickSize returns the minimum price increment for the token.
func (c *ClobClient) GetTickSize(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	respBody, err := c.get(ctx, "/tick-size", url.Values{"token_id": {tokenID}}, false)
	if err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: get tick size %s: %w", tokenID, err)
	}
	var out struct {
		MinimumTickSize json.Number `json:"minimum_tick_size"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: decode tick size: %w", err)
	}
	tick, err := decimal.NewFromString(out.MinimumTickSize.String())
	if err != nil || !tick.IsPositive() {
		return decimal.Zero, fmt.Errorf("polymarket/clob: invalid tick size %q", out.MinimumTickSize)
	}
	return tick, nil
}

// GetBalanceAllowance returns the collateral balance and the smallest
// exchange allowance in dollars.
func (c *ClobClient) GetBalanceAllowance(ctx context.Context) (balance, allowance decimal.Decimal, err error) {
	q := url.Values{
		"asset_type":     {"COLLATERAL"},
		"signature_type": {strconv.Itoa(c.signatureType)},
	}
	respBody, err := c.get(ctx, "/balance-allowance", q, true)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("polymarket/clob: balance allowance: %w", err)
	}

	var out APIBalanceAllowance
	if err := json.Unmarshal(respBody, &out); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("polymarket/clob: decode balance allowance: %w", err)
	}

	balance, err = decimal.NewFromString(orZero(out.Balance))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("polymarket/clob: parse balance %q: %w", out.Balance, err)
	}
	allowance, err = decimal.NewFromString(orZero(out.Allowance))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("polymarket/clob: parse allowance %q: %w", out.Allowance, err)
	}
	first := out.Allowance == ""
	for _, raw := range out.Allowances {
		v, perr := decimal.NewFromString(raw)
		if perr != nil {
			continue
		}
		if first || v.LessThan(allowance) {
			allowance = v
			first = false
		}
	}
	return balance.Div(collateralScale), allowance.Div(collateralScale), nil
}

// DeriveAPIKey performs the L1 auth flow to obtain L2 credentials. It tries
// the derive endpoint first and falls back to creating a new key. The
// returned credentials are also installed on the client.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (domain.Credentials, error) {
	if c.signer == nil {
		return domain.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrSigningFailed)
	}

	creds, deriveErr := c.l1Credentials(ctx, http.MethodGet, "/auth/derive-api-key")
	if deriveErr != nil {
		var createErr error
		creds, createErr = c.l1Credentials(ctx, http.MethodPost, "/auth/api-key")
		if createErr != nil {
			return domain.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: %w", errors.Join(deriveErr, createErr))
		}
	}
	if !creds.Complete() {
		return domain.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: incomplete credentials")
	}

	c.SetCredentials(creds)
	return creds, nil
}

func (c *ClobClient) l1Credentials(ctx context.Context, method, path string) (domain.Credentials, error) {
	headers, err := c.signer.L1Headers(time.Now().Unix(), 0)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("l1 headers: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("create auth request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return domain.Credentials{}, fmt.Errorf("%s %s: %w", method, path, err)
	}

	var authResp APICredentials
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return domain.Credentials{}, fmt.Errorf("decode auth response: %w", err)
	}
	return domain.Credentials{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *ClobClient) get(ctx context.Context, path string, query url.Values, authenticated bool) ([]byte, error) {
	status, body, err := c.send(ctx, http.MethodGet, path, query, nil, authenticated)
	if err != nil {
		return nil, err
	}
	if err := checkHTTPStatus(status, body); err != nil {
		return nil, err
	}
	return body, nil
}

// send builds, signs (HMAC), sends, and reads an HTTP request against the
// CLOB API. The L2 signature covers the path only, never the query string.
func (c *ClobClient) send(ctx context.Context, method, path string, query url.Values, body any, authenticated bool) (int, []byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		c.mu.RLock()
		auth := c.auth
		c.mu.RUnlock()
		if auth == nil || c.signer == nil {
			return 0, nil, fmt.Errorf("%w: no api credentials", domain.ErrUnauthorized)
		}
		for k, v := range auth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
