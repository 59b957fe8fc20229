package intent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

type stubExtractor struct {
	out   ExtractorOutput
	err   error
	delay time.Duration
	calls int
}

func (s *stubExtractor) Extract(ctx context.Context, _ string) (ExtractorOutput, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ExtractorOutput{}, ctx.Err()
		}
	}
	return s.out, s.err
}

func newResolver(ex Extractor) *Resolver {
	return NewResolver(ex, 50*time.Millisecond, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func req(text string) domain.TradeRequest {
	return domain.TradeRequest{RequestID: "r1", UserID: "u1", Text: text}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestResolveFallbackLimitBuy(t *testing.T) {
	in, err := newResolver(nil).Resolve(context.Background(), req("Buy 100 tokens of token abc123 at $0.50 on Polymarket"))
	require.NoError(t, err)

	assert.Equal(t, "abc123", in.TokenID)
	assert.Equal(t, domain.SideBuy, in.Side)
	assert.True(t, in.Price.Equal(dec("0.50")))
	assert.True(t, in.PriceInDollars)
	assert.False(t, in.PriceFromBook)
	assert.True(t, in.Size.Equal(dec("100")))
	assert.Equal(t, domain.OrderKindLimit, in.Kind)
	assert.Equal(t, "u1", in.UserID)
}

func TestResolveDollarPriceAboveOneRejected(t *testing.T) {
	_, err := newResolver(nil).Resolve(context.Background(), req("Buy 10 tokens of token abc123 at $2.00"))
	require.ErrorIs(t, err, domain.ErrPriceOutOfRange)
	assert.Equal(t, domain.KindPriceOutOfRange, domain.ErrorKind(err))
}

func TestResolvePercentPriceKeptForNormalization(t *testing.T) {
	in, err := newResolver(nil).Resolve(context.Background(), req("buy 20 shares of 7132104567925 at 65%"))
	require.NoError(t, err)
	assert.Equal(t, "7132104567925", in.TokenID)
	assert.True(t, in.Price.Equal(dec("65")))
	assert.False(t, in.PriceInDollars)
}

func TestResolveNoPriceMeansMarket(t *testing.T) {
	in, err := newResolver(nil).Resolve(context.Background(), req("long 50 shares token 98765432"))
	require.NoError(t, err)
	assert.True(t, in.PriceFromBook)
	assert.Equal(t, domain.OrderKindMarket, in.Kind)
	assert.Equal(t, domain.OrderTypeFOK, in.Kind.TimeInForce())
}

func TestResolveExplicitLimitWithoutPrice(t *testing.T) {
	in, err := newResolver(nil).Resolve(context.Background(), req("sell all of token 98765432 as a limit order"))
	require.NoError(t, err)
	assert.True(t, in.PriceFromBook)
	assert.Equal(t, domain.OrderKindLimit, in.Kind)
	assert.Equal(t, domain.SizeAll, in.SizeHint)
}

func TestResolveSellDefaultsToFullHolding(t *testing.T) {
	in, err := newResolver(nil).Resolve(context.Background(), req("short token 98765432"))
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, in.Side)
	assert.Equal(t, domain.SizeAll, in.SizeHint)
}

func TestResolveHalf(t *testing.T) {
	in, err := newResolver(nil).Resolve(context.Background(), req("sell half my token 98765432"))
	require.NoError(t, err)
	assert.Equal(t, domain.SizeHalf, in.SizeHint)
}

func TestResolveMissingFields(t *testing.T) {
	_, err := newResolver(nil).Resolve(context.Background(), req("buy something nice"))
	var mf *domain.MissingFieldsError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, []string{"token", "size"}, mf.Fields)
}

func TestResolveQuotedMarketName(t *testing.T) {
	in, err := newResolver(nil).Resolve(context.Background(), req(`buy 10 shares of YES on "Will it rain in Paris"`))
	require.NoError(t, err)
	assert.Empty(t, in.TokenID)
	assert.Equal(t, "Will it rain in Paris", in.MarketHint)
	assert.Equal(t, "YES", in.Outcome)
}

func TestResolveShortCandidateBecomesMarketHint(t *testing.T) {
	in, err := newResolver(&stubExtractor{out: ExtractorOutput{
		TokenID: "btc", Side: "buy", Size: &FlexValue{Raw: "10"},
	}}).Resolve(context.Background(), req("buy 10 btc"))
	require.NoError(t, err)
	assert.Empty(t, in.TokenID)
	assert.Equal(t, "btc", in.MarketHint)
}

func TestResolveExtractorFieldsWin(t *testing.T) {
	ex := &stubExtractor{out: ExtractorOutput{
		TokenID:   "55555555",
		Side:      "SELL",
		Price:     &FlexValue{Raw: "0.42"},
		Size:      &FlexValue{Raw: "12"},
		OrderType: "GTC",
	}}
	in, err := newResolver(ex).Resolve(context.Background(), req("buy 99 shares of token 11111111 at $0.10"))
	require.NoError(t, err)
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, "55555555", in.TokenID)
	assert.Equal(t, domain.SideSell, in.Side)
	assert.True(t, in.Price.Equal(dec("0.42")))
	assert.True(t, in.Size.Equal(dec("12")))
}

func TestResolveExtractorGapsFilledByMatchers(t *testing.T) {
	ex := &stubExtractor{out: ExtractorOutput{Side: "buy"}}
	in, err := newResolver(ex).Resolve(context.Background(), req("buy 10 shares of token 11111111 at $0.10"))
	require.NoError(t, err)
	assert.Equal(t, "11111111", in.TokenID)
	assert.True(t, in.Size.Equal(dec("10")))
}

func TestResolveExtractorTimeoutFallsBack(t *testing.T) {
	ex := &stubExtractor{delay: time.Second, out: ExtractorOutput{TokenID: "99999999"}}
	start := time.Now()
	in, err := newResolver(ex).Resolve(context.Background(), req("Buy 100 tokens of token abc123 at $0.50"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "abc123", in.TokenID)
}

func TestResolveExtractorErrorFieldFallsBack(t *testing.T) {
	ex := &stubExtractor{out: ExtractorOutput{Error: "ambiguous", TokenID: "99999999"}}
	in, err := newResolver(ex).Resolve(context.Background(), req("Buy 100 tokens of token abc123 at $0.50"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", in.TokenID)
}

func TestResolveUpstreamExtractedFields(t *testing.T) {
	ex := &stubExtractor{}
	r := req("whatever")
	r.Extracted = map[string]any{"token_id": "12121212", "side": "buy", "size": 7, "price": "$0.30"}
	in, err := newResolver(ex).Resolve(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 0, ex.calls)
	assert.True(t, in.PriceInDollars)
	assert.True(t, in.Size.Equal(dec("7")))
}

func TestFlexValueDecodesNumbersAndStrings(t *testing.T) {
	var out ExtractorOutput
	require.NoError(t, json.Unmarshal([]byte(`{"price":0.55,"size":"all"}`), &out))
	assert.Equal(t, "0.55", out.Price.Raw)
	assert.Equal(t, "all", out.Size.Raw)
}

func TestDecodeOutputRejectsUnknownFields(t *testing.T) {
	_, err := DecodeOutput(map[string]any{"token": "x"})
	require.Error(t, err)
}
