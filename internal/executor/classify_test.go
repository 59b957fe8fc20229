package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		res  *domain.SubmitResult
		err  error
		want domain.Classification
	}{
		{"matched", &domain.SubmitResult{OrderID: "0x1", Status: "matched"}, nil, domain.ClassSuccess},
		{"tx hashes only", &domain.SubmitResult{Status: "matched", TransactionHashes: []string{"0xt"}}, nil, domain.ClassSuccess},
		{"absent", nil, nil, domain.ClassTerminal},
		{"no status", &domain.SubmitResult{OrderID: "0x1"}, nil, domain.ClassTerminal},
		{"no id or hashes", &domain.SubmitResult{Status: "live"}, nil, domain.ClassTerminal},
		{"balance", &domain.SubmitResult{Error: "Not Enough Balance / Allowance"}, nil, domain.ClassRecoverable},
		{"approve", &domain.SubmitResult{Error: "please approve the exchange"}, nil, domain.ClassRecoverable},
		{"other error", &domain.SubmitResult{Error: "order crosses book", OrderID: "0x1", Status: "live"}, nil, domain.ClassTerminal},
		{"transport allowance", nil, errors.New("HTTP 400: insufficient allowance"), domain.ClassRecoverable},
		{"transport other", nil, errors.New("connection reset"), domain.ClassTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(tt.res, tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type staticBalance struct {
	v   decimal.Decimal
	err error
}

func (s staticBalance) TradingBalance(context.Context) (decimal.Decimal, error) { return s.v, s.err }

func TestDepositPolicies(t *testing.T) {
	order := domain.FinalizedOrder{Notional: decimal.NewFromInt(50)}
	buf := decimal.NewFromInt(1)
	ctx := context.Background()

	amt, err := NotionalPlusBuffer{Buffer: buf}.Amount(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, "51", amt.String())

	amt, err = ShortfallPlusBuffer{Buffer: buf, Balance: staticBalance{v: decimal.NewFromInt(30)}}.Amount(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, "21", amt.String())

	amt, err = ShortfallPlusBuffer{Buffer: buf, Balance: staticBalance{v: decimal.NewFromInt(80)}}.Amount(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, "1", amt.String())

	_, err = ShortfallPlusBuffer{Buffer: buf, Balance: staticBalance{err: errors.New("down")}}.Amount(ctx, order)
	require.Error(t, err)
}

func TestDedupClaim(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	id, dup := d.Claim("key-1", "req-a")
	assert.False(t, dup)
	assert.Equal(t, "req-a", id)

	id, dup = d.Claim("key-1", "req-b")
	assert.True(t, dup)
	assert.Equal(t, "req-a", id)

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())

	_, dup = d.Claim("key-1", "req-c")
	assert.False(t, dup)
	d.Release("key-1")
	assert.Zero(t, d.Len())
}
