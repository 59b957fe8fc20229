package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/config"
	"github.com/alanyoungcy/polyexec/internal/crypto"
	"github.com/alanyoungcy/polyexec/internal/domain"
	"github.com/alanyoungcy/polyexec/internal/executor"
	"github.com/alanyoungcy/polyexec/internal/service"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTradingWallet(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Wallet.SafeAddress = "0x2222222222222222222222222222222222222222"
	assert.Equal(t, cfg.Wallet.SafeAddress, tradingWallet(&cfg, signer))

	cfg.Polymarket.SignatureType = 0
	assert.Equal(t, signer.Address().Hex(), tradingWallet(&cfg, signer))
}

type fixedBalance decimal.Decimal

func (f fixedBalance) TradingBalance(context.Context) (decimal.Decimal, error) {
	return decimal.Decimal(f), nil
}

func TestDepositPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.Remediation.DepositBufferUSD = 2
	order := domain.FinalizedOrder{Notional: decimal.NewFromInt(50)}

	p := depositPolicy(&cfg, fixedBalance(decimal.NewFromInt(30)))
	require.IsType(t, executor.NotionalPlusBuffer{}, p)
	amt, err := p.Amount(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "52", amt.String())

	cfg.Remediation.DepositPolicy = config.DepositShortfallPlusBuffer
	amt, err = depositPolicy(&cfg, fixedBalance(decimal.NewFromInt(30))).Amount(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "22", amt.String())
}

func TestNeedsPostgres(t *testing.T) {
	cfg := config.Defaults()
	assert.True(t, needsPostgres(&cfg))

	cfg.Mode = "once"
	assert.False(t, needsPostgres(&cfg))

	cfg.Supabase.DSN = "postgres://u:p@db:5432/x"
	assert.True(t, needsPostgres(&cfg))
}

type missingResolver struct{}

func (missingResolver) Resolve(context.Context, domain.TradeRequest) (domain.OrderIntent, error) {
	return domain.OrderIntent{}, &domain.MissingFieldsError{Fields: []string{"price"}}
}

func TestOnceModeWritesReport(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "once"
	a := New(&cfg, testLogger())
	deps := &Dependencies{
		Trades: service.NewTradeService(service.TradeDeps{Resolver: missingResolver{}}, "0xwallet", testLogger()),
	}

	var out bytes.Buffer
	err := a.OnceMode(context.Background(), deps, OnceRequest{Text: "buy something", Out: &out})
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.KindMissingFields)

	var report domain.TradeReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "cli", report.UserID)
	assert.Equal(t, domain.TradeStatusFailed, report.Status)
	assert.NotEmpty(t, report.Progress)

	assert.Error(t, a.OnceMode(context.Background(), deps, OnceRequest{}))
}
