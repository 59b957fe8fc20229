package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

type fakeBooks struct {
	book  domain.OrderbookSnapshot
	err   error
	calls int
}

func (f *fakeBooks) GetOrderBook(_ context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	f.calls++
	f.book.AssetID = tokenID
	return f.book, f.err
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lvl(price, size string) domain.PriceLevel {
	return domain.PriceLevel{Price: d(price), Size: d(size)}
}

func newEngine(books BookFetcher) *Engine {
	return NewEngine(DefaultConfig(), books, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0.5", "0.5", false},
		{"1", "1", false},
		{"65", "0.65", false},
		{"99.5", "0.995", false},
		{"1.5", "0.015", false},
		{"150", "", true},
		{"0", "", true},
		{"-0.2", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePrice(d(tt.in))
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrPriceOutOfRange)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestClampPrice(t *testing.T) {
	assert.True(t, ClampPrice(d("0.001")).Equal(MinPrice))
	assert.True(t, ClampPrice(d("1")).Equal(MaxPrice))
	assert.True(t, ClampPrice(d("0.42")).Equal(d("0.42")))
}

func TestMinimumSize(t *testing.T) {
	one := d("1")
	five := d("5")
	assert.True(t, MinimumSize(d("0.5"), one, five).Equal(d("5")))
	assert.True(t, MinimumSize(d("0.03"), one, five).Equal(d("34")))
	assert.True(t, MinimumSize(d("0.1"), one, five).Equal(d("10")))
}

func TestFinalizeLimitOrder(t *testing.T) {
	books := &fakeBooks{}
	e := newEngine(books)

	got, err := e.Finalize(context.Background(), domain.OrderIntent{
		TokenID: "abc123",
		Side:    domain.SideBuy,
		Price:   d("0.50"),
		Size:    d("100"),
		Kind:    domain.OrderKindLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, books.calls, "limit buys never touch the book")
	assert.True(t, got.Price.Equal(d("0.5")))
	assert.True(t, got.Size.Equal(d("100")))
	assert.True(t, got.Notional.Equal(d("50")))
	assert.False(t, got.SizeAdjusted)
	assert.Equal(t, domain.OrderTypeGTC, got.Type())
}

func TestFinalizePercentagePriceIsNormalizedAndClamped(t *testing.T) {
	e := newEngine(&fakeBooks{})
	got, err := e.Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideBuy, Price: d("99.5"), Size: d("10"),
	})
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("0.99")), "got %s", got.Price)
}

func TestFinalizeRaisesSizeButNeverPrice(t *testing.T) {
	e := newEngine(&fakeBooks{})

	got, err := e.Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideBuy, Price: d("0.03"), Size: d("10"),
	})
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("0.03")))
	assert.True(t, got.Size.Equal(d("34")), "got %s", got.Size)
	assert.True(t, got.SizeAdjusted)
	assert.True(t, got.OriginalSize.Equal(d("10")))
	assert.True(t, got.Notional.GreaterThanOrEqual(d("1")))
}

func TestFinalizeHoldingCapsUpgrade(t *testing.T) {
	e := newEngine(&fakeBooks{})
	_, err := e.Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideSell, Price: d("0.1"), Size: d("6"),
		MaxSize: decimal.NewNullDecimal(d("6")),
	})
	require.ErrorIs(t, err, domain.ErrBelowMinimum)
}

func TestFinalizeMarketBuyUsesBufferedAsk(t *testing.T) {
	books := &fakeBooks{book: domain.OrderbookSnapshot{
		Asks:     []domain.PriceLevel{lvl("0.60", "500")},
		TickSize: d("0.001"),
	}}
	e := newEngine(books)

	got, err := e.Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideBuy, PriceFromBook: true, Size: d("10"),
	})
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("0.606")), "got %s", got.Price)
	assert.Equal(t, domain.OrderKindMarket, got.Kind)
	assert.Equal(t, domain.OrderTypeFOK, got.Type())
}

func TestFinalizeMarketBuyCappedAt99(t *testing.T) {
	books := &fakeBooks{book: domain.OrderbookSnapshot{Asks: []domain.PriceLevel{lvl("0.985", "50")}}}
	got, err := newEngine(books).Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideBuy, PriceFromBook: true, Size: d("10"),
	})
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("0.99")))
}

func TestFinalizeMarketSellUsesBufferedBid(t *testing.T) {
	books := &fakeBooks{book: domain.OrderbookSnapshot{
		Bids:     []domain.PriceLevel{lvl("0.40", "100")},
		TickSize: d("0.001"),
	}}
	got, err := newEngine(books).Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideSell, PriceFromBook: true, Size: d("50"),
	})
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("0.396")), "got %s", got.Price)
	assert.True(t, got.FromBook)
}

func TestFinalizeBookPricesStayBetweenBufferAndBestLevel(t *testing.T) {
	tests := []struct {
		name string
		side domain.Side
		book domain.OrderbookSnapshot
		want string
	}{
		// 0.606 and 0.396 are off the 0.01 grid; the nearest grid price on
		// the buffer's side of the book is the best level itself.
		{"buy", domain.SideBuy, domain.OrderbookSnapshot{Asks: []domain.PriceLevel{lvl("0.60", "500")}, TickSize: d("0.01")}, "0.60"},
		{"sell", domain.SideSell, domain.OrderbookSnapshot{Bids: []domain.PriceLevel{lvl("0.40", "500")}, TickSize: d("0.01")}, "0.40"},
		{"buy wide book", domain.SideBuy, domain.OrderbookSnapshot{Asks: []domain.PriceLevel{lvl("0.90", "500")}, TickSize: d("0.01")}, "0.90"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newEngine(&fakeBooks{book: tt.book}).Finalize(context.Background(), domain.OrderIntent{
				TokenID: "12345", Side: tt.side, PriceFromBook: true, Size: d("50"),
			})
			require.NoError(t, err)
			assert.True(t, got.Price.Equal(d(tt.want)), "got %s want %s", got.Price, tt.want)
			assert.True(t, got.Notional.Equal(got.Price.Mul(got.Size)))
			assert.True(t, got.TickSize.Equal(d("0.01")))
		})
	}
}

func TestToTick(t *testing.T) {
	tests := []struct {
		name  string
		price string
		tick  string
		side  domain.Side
		want  string
	}{
		{"buy never above limit", "0.505", "0.01", domain.SideBuy, "0.50"},
		{"sell never below limit", "0.505", "0.01", domain.SideSell, "0.51"},
		{"on grid", "0.42", "0.01", domain.SideBuy, "0.42"},
		{"fine tick", "0.4567", "0.001", domain.SideSell, "0.457"},
		{"buy floor", "0.004", "0.01", domain.SideBuy, "0.01"},
		{"sell ceiling", "0.995", "0.01", domain.SideSell, "0.99"},
		{"no tick", "0.1234", "0", domain.SideBuy, "0.1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToTick(d(tt.price), d(tt.tick), tt.side)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

type tickedBooks struct {
	fakeBooks
	tick      decimal.Decimal
	tickCalls int
}

func (f *tickedBooks) GetTickSize(context.Context, string) (decimal.Decimal, error) {
	f.tickCalls++
	return f.tick, nil
}

func TestFinalizeQuantizesLimitOrders(t *testing.T) {
	books := &tickedBooks{tick: d("0.01")}
	e := newEngine(books)

	buy, err := e.Finalize(context.Background(), domain.OrderIntent{
		TokenID: "abc123", Side: domain.SideBuy, Price: d("0.505"), Size: d("100.129"),
	})
	require.NoError(t, err)
	assert.True(t, buy.Price.Equal(d("0.50")), "got %s", buy.Price)
	assert.True(t, buy.Size.Equal(d("100.12")), "got %s", buy.Size)
	assert.True(t, buy.Notional.Equal(d("50.06")), "got %s", buy.Notional)
	assert.False(t, buy.FromBook)
	assert.Equal(t, 0, books.calls)

	sell, err := e.Finalize(context.Background(), domain.OrderIntent{
		TokenID: "abc123", Side: domain.SideSell, Price: d("0.505"), Size: d("100"), Kind: domain.OrderKindLimit,
	})
	require.NoError(t, err)
	assert.True(t, sell.Price.Equal(d("0.51")), "got %s", sell.Price)
	assert.Equal(t, 1, books.tickCalls, "tick size cached per token")

	_, err = e.Finalize(context.Background(), domain.OrderIntent{
		TokenID: "abc123", Side: domain.SideBuy, Price: d("0.5"), Size: d("0.004"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestFinalizeMarketSellFloorsAtOneCent(t *testing.T) {
	books := &fakeBooks{book: domain.OrderbookSnapshot{Bids: []domain.PriceLevel{lvl("0.01", "1000")}}}
	got, err := newEngine(books).Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideSell, PriceFromBook: true, Size: d("200"),
	})
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("0.01")))
}

func TestFinalizeFillOrKillSellRejectsThinBestLevel(t *testing.T) {
	books := &fakeBooks{book: domain.OrderbookSnapshot{
		Bids: []domain.PriceLevel{
			lvl("0.40", "20"), lvl("0.39", "30"), lvl("0.38", "40"),
			lvl("0.37", "10"), lvl("0.36", "10"), lvl("0.35", "99"),
		},
	}}
	_, err := newEngine(books).Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideSell, PriceFromBook: true, Size: d("50"),
	})

	var liq *domain.InsufficientLiquidityError
	require.True(t, errors.As(err, &liq))
	assert.True(t, liq.Requested.Equal(d("50")))
	assert.True(t, liq.Available.Equal(d("20")))
	assert.True(t, liq.Shortfall.Equal(d("30")))
	assert.Len(t, liq.Levels, 5)
	assert.True(t, liq.SuggestedSize.Equal(d("20")))
}

func TestFinalizeFillOrKillNeverSuggestsSubMinimumSize(t *testing.T) {
	books := &fakeBooks{book: domain.OrderbookSnapshot{
		Bids: []domain.PriceLevel{lvl("0.40", "3"), lvl("0.39", "300")},
	}}
	_, err := newEngine(books).Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideSell, PriceFromBook: true, Size: d("50"),
	})

	var liq *domain.InsufficientLiquidityError
	require.ErrorAs(t, err, &liq)
	assert.True(t, liq.Available.Equal(d("3")))
	assert.True(t, liq.SuggestedSize.IsZero(), "3 is below the 5-token minimum")
}

func TestFinalizeRestingSellUsesDiscountTiers(t *testing.T) {
	bids := []domain.PriceLevel{lvl("0.50", "10"), lvl("0.49", "20"), lvl("0.48", "20")}
	tests := []struct {
		name string
		size string
		want string
	}{
		{"best level covers", "10", "0.495"},
		{"top levels cover", "40", "0.493"},    // 0.492525 up to the tick
		{"beyond visible depth", "100", "0.486"}, // 0.4851 up to the tick
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books := &fakeBooks{book: domain.OrderbookSnapshot{Bids: bids, TickSize: d("0.001")}}
			got, err := newEngine(books).Finalize(context.Background(), domain.OrderIntent{
				TokenID: "12345", Side: domain.SideSell, Kind: domain.OrderKindLimit,
				PriceFromBook: true, Size: d(tt.size),
			})
			require.NoError(t, err)
			assert.True(t, got.Price.Equal(d(tt.want)), "got %s want %s", got.Price, tt.want)
			assert.Equal(t, domain.OrderTypeGTC, got.Type())
		})
	}
}

func TestFinalizePriceFetchErrors(t *testing.T) {
	t.Run("fetch failure", func(t *testing.T) {
		books := &fakeBooks{err: errors.New("boom")}
		_, err := newEngine(books).Finalize(context.Background(), domain.OrderIntent{
			TokenID: "12345", Side: domain.SideBuy, PriceFromBook: true, Size: d("10"),
		})
		var pf *domain.PriceFetchError
		require.True(t, errors.As(err, &pf))
		assert.Equal(t, domain.KindPriceFetch, domain.ErrorKind(err))
	})
	t.Run("empty side", func(t *testing.T) {
		books := &fakeBooks{book: domain.OrderbookSnapshot{Bids: []domain.PriceLevel{lvl("0.4", "10")}}}
		_, err := newEngine(books).Finalize(context.Background(), domain.OrderIntent{
			TokenID: "12345", Side: domain.SideBuy, PriceFromBook: true, Size: d("10"),
		})
		var pf *domain.PriceFetchError
		require.True(t, errors.As(err, &pf))
	})
}

func TestFinalizeRejectsSentinelSize(t *testing.T) {
	_, err := newEngine(&fakeBooks{}).Finalize(context.Background(), domain.OrderIntent{
		TokenID: "12345", Side: domain.SideSell, Price: d("0.5"), SizeHint: domain.SizeAll,
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}
