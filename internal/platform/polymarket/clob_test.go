package polymarket

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/crypto"
	"github.com/alanyoungcy/polyexec/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestClob(t *testing.T, h http.Handler) *ClobClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)
	return NewClobClient(srv.URL, signer, 2, 5*time.Second)
}

func testCreds() domain.Credentials {
	return domain.Credentials{Key: "key-1", Secret: "c2VjcmV0LXNlY3JldA==", Passphrase: "pass"}
}

func TestGetOrderBookSortsLevels(t *testing.T) {
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token_id"))
		_, _ = io.WriteString(w, `{"asset_id":"tok","tick_size":"0.01","neg_risk":true,
			"bids":[{"price":"0.40","size":"10"},{"price":"0.45","size":"5"},{"price":"bad","size":"1"}],
			"asks":[{"price":"0.60","size":"3"},{"price":"0.55","size":"8"},{"price":"0.58","size":"0"}]}`)
	}))

	snap, err := c.GetOrderBook(t.Context(), "tok")
	require.NoError(t, err)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 2)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("0.45")))
	assert.True(t, snap.Asks[0].Price.Equal(decimal.RequireFromString("0.55")))
	assert.True(t, snap.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, snap.NegRisk)
}

func TestPostOrderSignsPathAndDecodesResult(t *testing.T) {
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key-1", r.Header.Get("POLY_API_KEY"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))

		var req APIOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "FOK", req.OrderType)
		assert.Equal(t, "key-1", req.Owner)
		assert.Equal(t, "BUY", req.Order.Side)

		_, _ = io.WriteString(w, `{"success":true,"orderID":"0xabc","status":"matched","transactionsHashes":["0xtx"]}`)
	}))
	c.SetCredentials(testCreds())

	res, err := c.PostOrder(t.Context(), domain.SignedOrder{Salt: "1", Side: domain.SideBuy, Owner: "key-1"}, domain.OrderTypeFOK)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res.OrderID)
	assert.Equal(t, []string{"0xtx"}, res.TransactionHashes)
	assert.Equal(t, domain.FillMatched, res.FillState())
}

func TestPostOrderErrorBodyBecomesResult(t *testing.T) {
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"not enough balance / allowance"}`)
	}))
	c.SetCredentials(testCreds())

	res, err := c.PostOrder(t.Context(), domain.SignedOrder{Salt: "1"}, domain.OrderTypeGTC)
	require.NoError(t, err)
	assert.Equal(t, "not enough balance / allowance", res.Error)
}

func TestPostOrderWithoutCredentials(t *testing.T) {
	c := newTestClob(t, http.NotFoundHandler())
	_, err := c.PostOrder(t.Context(), domain.SignedOrder{Salt: "1"}, domain.OrderTypeGTC)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestBalanceAllowanceScalesAndSignsWithoutQuery(t *testing.T) {
	var creds = testCreds()
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "COLLATERAL", r.URL.Query().Get("asset_type"))
		assert.Equal(t, "2", r.URL.Query().Get("signature_type"))

		ts := r.Header.Get("POLY_TIMESTAMP")
		var unix int64
		require.NoError(t, json.Unmarshal([]byte(ts), &unix))
		want := crypto.NewHMACAuth(creds).L2HeadersAt(r.Header.Get("POLY_ADDRESS"), http.MethodGet, "/balance-allowance", "", unix)
		assert.Equal(t, want["POLY_SIGNATURE"], r.Header.Get("POLY_SIGNATURE"))

		_, _ = io.WriteString(w, `{"balance":"12500000","allowances":{"0xa":"9000000","0xb":"50000000"}}`)
	}))
	c.SetCredentials(creds)

	bal, allow, err := c.GetBalanceAllowance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "12.5", bal.String())
	assert.Equal(t, "9", allow.String())
}

func TestDeriveAPIKeyFallsBackToCreate(t *testing.T) {
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.Equal(t, "0", r.Header.Get("POLY_NONCE"))
		switch r.URL.Path {
		case "/auth/derive-api-key":
			w.WriteHeader(http.StatusNotFound)
		case "/auth/api-key":
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = io.WriteString(w, `{"apiKey":"k","secret":"s","passphrase":"p"}`)
		}
	}))

	assert.False(t, c.HasCredentials())
	creds, err := c.DeriveAPIKey(t.Context())
	require.NoError(t, err)
	assert.Equal(t, domain.Credentials{Key: "k", Secret: "s", Passphrase: "p"}, creds)
	assert.True(t, c.HasCredentials())
}

func TestDeriveAPIKeyBothFail(t *testing.T) {
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := c.DeriveAPIKey(t.Context())
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, c.HasCredentials())
}

func TestCheckHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, checkHTTPStatus(tt.code, nil), tt.want)
	}
	assert.NoError(t, checkHTTPStatus(http.StatusCreated, nil))
	assert.Error(t, checkHTTPStatus(http.StatusBadGateway, nil))
}

func TestGetTickSize(t *testing.T) {
	c := newTestClob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tick-size", r.URL.Path)
		if r.URL.Query().Get("token_id") == "bad" {
			_, _ = io.WriteString(w, `{"minimum_tick_size":0}`)
			return
		}
		_, _ = io.WriteString(w, `{"minimum_tick_size":0.001}`)
	}))

	tick, err := c.GetTickSize(t.Context(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "0.001", tick.String())

	_, err = c.GetTickSize(t.Context(), "bad")
	require.Error(t, err)
}

func TestAPIKeyReflectsInstalledCredentials(t *testing.T) {
	c := NewClobClient("http://unused", nil, 0, time.Second)
	assert.Empty(t, c.APIKey())
	assert.False(t, c.HasCredentials())

	c.SetCredentials(testCreds())
	assert.Equal(t, "key-1", c.APIKey())
	assert.True(t, c.HasCredentials())
}
