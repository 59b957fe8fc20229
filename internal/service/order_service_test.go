package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

const safeAddr = "0x2222222222222222222222222222222222222222"

func TestBuildBuyAmounts(t *testing.T) {
	ex := newFakeExchange()
	ex.SetCredentials(domain.Credentials{Key: "owner-key"})
	signer := &fakeSigner{}
	svc := NewOrderService(signer, ex, ex, safeAddr, 2, testLogger())

	signed, err := svc.Build(context.Background(), domain.FinalizedOrder{
		TokenID: "abc123", Side: domain.SideBuy, Price: dec("0.5"), Size: dec("100.129"), FeeRateBps: 7,
	})
	require.NoError(t, err)

	// 100.12 tokens for 50.06 USDC
	assert.Equal(t, "50060000", signed.MakerAmount)
	assert.Equal(t, "100120000", signed.TakerAmount)
	assert.Equal(t, "7", signed.FeeRateBps)
	assert.Equal(t, safeAddr, signed.Maker)
	assert.Equal(t, signer.Address().Hex(), signed.Signer)
	assert.Equal(t, zeroAddress, signed.Taker)
	assert.Equal(t, 2, signed.SignatureType)
	assert.Equal(t, "owner-key", signed.Owner)
	assert.Equal(t, "0xsig", signed.Signature)
	assert.NotEmpty(t, signed.Salt)
	assert.Equal(t, 0, signer.last.Side)
}

func TestBuildSellMovesOffGridPriceUpAndUsesBookParams(t *testing.T) {
	ex := newFakeExchange()
	signer := &fakeSigner{}
	svc := NewOrderService(signer, ex, ex, safeAddr, 0, testLogger())

	signed, err := svc.Build(context.Background(), domain.FinalizedOrder{
		TokenID: "abc123", Side: domain.SideSell, Price: dec("0.4567"), Size: dec("10"),
		FromBook: true, TickSize: dec("0.001"), NegRisk: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "10000000", signed.MakerAmount)
	assert.Equal(t, "4570000", signed.TakerAmount)
	assert.Equal(t, signer.Address().Hex(), signed.Maker, "EOA signs for itself")
	assert.Equal(t, 1, signer.last.Side)
	assert.True(t, signer.negRisk)
}

func TestBuildNeverSignsBuyAboveLimit(t *testing.T) {
	ex := newFakeExchange()
	signer := &fakeSigner{}
	svc := NewOrderService(signer, ex, ex, "", 0, testLogger())

	signed, err := svc.Build(context.Background(), domain.FinalizedOrder{
		TokenID: "abc123", Side: domain.SideBuy, Price: dec("0.505"), Size: dec("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, "50000000", signed.MakerAmount, "0.505 limit signed at 0.50, not 0.51")
	assert.Equal(t, "100000000", signed.TakerAmount)
}

func TestBuildUsesPricingTickWithoutBook(t *testing.T) {
	ex := newFakeExchange()
	ex.negRisk = true
	ex.tick = dec("0.001")
	signer := &fakeSigner{}
	svc := NewOrderService(signer, ex, ex, "", 0, testLogger())

	signed, err := svc.Build(context.Background(), domain.FinalizedOrder{
		TokenID: "abc123", Side: domain.SideBuy, Price: dec("0.45"), Size: dec("10"),
		TickSize: dec("0.01"), NegRisk: false,
	})
	require.NoError(t, err)
	assert.True(t, signer.negRisk, "neg-risk looked up when the book was not read")
	assert.Equal(t, "4500000", signed.MakerAmount)
}

func TestBuildLooksUpAndCachesTokenParams(t *testing.T) {
	ex := newFakeExchange()
	ex.negRisk = true
	ex.tick = dec("0.1")
	signer := &fakeSigner{}
	svc := NewOrderService(signer, ex, ex, "", 0, testLogger())

	signed, err := svc.Build(context.Background(), domain.FinalizedOrder{
		TokenID: "abc123", Side: domain.SideBuy, Price: dec("0.46"), Size: dec("10"),
	})
	require.NoError(t, err)
	assert.True(t, signer.negRisk)
	assert.Equal(t, "4000000", signed.MakerAmount, "0.46 buy moves down to the 0.1 tick")

	ex.negRisk = false
	_, err = svc.Build(context.Background(), domain.FinalizedOrder{
		TokenID: "abc123", Side: domain.SideBuy, Price: dec("0.46"), Size: dec("10"),
	})
	require.NoError(t, err)
	assert.True(t, signer.negRisk, "cached")
}

func TestBuildSigningFailure(t *testing.T) {
	ex := newFakeExchange()
	svc := NewOrderService(&fakeSigner{err: errors.New("bad key")}, ex, ex, "", 0, testLogger())

	_, err := svc.Build(context.Background(), domain.FinalizedOrder{
		TokenID: "abc123", Side: domain.SideBuy, Price: dec("0.5"), Size: dec("10"),
	})
	require.ErrorIs(t, err, domain.ErrSigningFailed)

	_, err = svc.Build(context.Background(), domain.FinalizedOrder{
		TokenID: "abc123", Side: domain.SideBuy, Price: dec("0.5"), Size: dec("0.001"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

type denyLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (d *denyLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	d.keys = append(d.keys, key)
	return d.allowed, d.err
}

func TestExchangeGatewayRateLimit(t *testing.T) {
	ex := newFakeExchange()
	lim := &denyLimiter{}
	gw := NewExchangeGateway(ex, lim, "0xwallet", GatewayConfig{}, testLogger())

	_, err := gw.Submit(context.Background(), domain.SignedOrder{}, domain.OrderTypeGTC)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, []string{"orders:0xwallet"}, lim.keys)
	assert.Zero(t, ex.posts)

	lim.err = errors.New("redis down")
	res, err := gw.Submit(context.Background(), domain.SignedOrder{}, domain.OrderTypeGTC)
	require.NoError(t, err)
	assert.Equal(t, "0xorder", res.OrderID)
}
