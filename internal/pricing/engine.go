// Package pricing turns an order intent into a finalized order: it normalizes
// and clamps prices, discovers market prices from the book, enforces the
// minimum notional and gates fill-or-kill sells on visible liquidity.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// BookFetcher reads a fresh orderbook snapshot.
type BookFetcher interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// TickSizer reads a token's minimum price increment. A BookFetcher that also
// implements TickSizer is asked for the tick when the book was not read.
type TickSizer interface {
	GetTickSize(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// Config holds the engine parameters.
type Config struct {
	MinNotional decimal.Decimal
	MinSize     decimal.Decimal
	Slippage    decimal.Decimal
	DepthLevels int
}

// DefaultConfig returns the exchange defaults: $1 notional, 5 units, 1%
// slippage, five reported levels.
func DefaultConfig() Config {
	return Config{
		MinNotional: decimal.NewFromInt(1),
		MinSize:     decimal.NewFromInt(5),
		Slippage:    decimal.RequireFromString("0.01"),
		DepthLevels: 5,
	}
}

// Engine finalizes order intents.
type Engine struct {
	cfg    Config
	books  BookFetcher
	ticks  TickSizer
	logger *slog.Logger

	mu        sync.Mutex
	tickCache map[string]decimal.Decimal
}

// NewEngine creates a pricing Engine.
func NewEngine(cfg Config, books BookFetcher, logger *slog.Logger) *Engine {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 5
	}
	ticks, _ := books.(TickSizer)
	return &Engine{
		cfg:       cfg,
		books:     books,
		ticks:     ticks,
		logger:    logger.With(slog.String("component", "pricing")),
		tickCache: make(map[string]decimal.Decimal),
	}
}

// Finalize resolves price and size for in. Size must already be absolute.
// The returned price is on the token's tick grid and size has SizeDecimals
// places, so Notional is exactly what the signed order commits to.
func (e *Engine) Finalize(ctx context.Context, in domain.OrderIntent) (domain.FinalizedOrder, error) {
	if in.TokenID == "" {
		return domain.FinalizedOrder{}, fmt.Errorf("pricing: finalize: empty token id: %w", domain.ErrInvalidOrder)
	}
	if in.Side != domain.SideBuy && in.Side != domain.SideSell {
		return domain.FinalizedOrder{}, fmt.Errorf("pricing: finalize: side %q: %w", in.Side, domain.ErrInvalidOrder)
	}
	if in.SizeHint != domain.SizeAbsolute || !in.Size.IsPositive() {
		return domain.FinalizedOrder{}, fmt.Errorf("pricing: finalize: size %s%s: %w", in.Size, in.SizeHint, domain.ErrInvalidOrder)
	}

	kind := in.Kind
	if kind == "" {
		kind = domain.OrderKindLimit
		if in.PriceFromBook {
			kind = domain.OrderKindMarket
		}
	}
	fok := in.Side == domain.SideSell && kind == domain.OrderKindMarket

	var book domain.OrderbookSnapshot
	fromBook := in.PriceFromBook || fok
	if fromBook {
		var err error
		book, err = e.books.GetOrderBook(ctx, in.TokenID)
		if err != nil {
			return domain.FinalizedOrder{}, &domain.PriceFetchError{TokenID: in.TokenID, Side: in.Side, Err: err}
		}
	}

	price, err := e.price(in, kind, book)
	if err != nil {
		return domain.FinalizedOrder{}, err
	}
	tick := e.tickSize(ctx, in.TokenID, book)
	price = ToTick(price, tick, in.Side)

	size := in.Size.RoundDown(SizeDecimals)
	if !size.IsPositive() {
		return domain.FinalizedOrder{}, fmt.Errorf("pricing: finalize: size %s below %d decimals: %w", in.Size, SizeDecimals, domain.ErrInvalidOrder)
	}
	adjusted := false
	if Notional(price, size).LessThan(e.cfg.MinNotional) {
		upgraded := MinimumSize(price, e.cfg.MinNotional, e.cfg.MinSize)
		if in.MaxSize.Valid && upgraded.GreaterThan(in.MaxSize.Decimal) {
			return domain.FinalizedOrder{}, fmt.Errorf("pricing: need %s units at %s, hold %s: %w",
				upgraded, price, in.MaxSize.Decimal, domain.ErrBelowMinimum)
		}
		e.logger.InfoContext(ctx, "pricing: size raised to meet minimum notional",
			slog.String("token_id", in.TokenID),
			slog.String("price", price.String()),
			slog.String("from", size.String()),
			slog.String("to", upgraded.String()),
		)
		size = upgraded
		adjusted = true
	}

	if fok {
		minSize := MinimumSize(price, e.cfg.MinNotional, e.cfg.MinSize)
		if err := CheckFillOrKill(in.TokenID, book.Bids, size, minSize, e.cfg.DepthLevels); err != nil {
			var liq *domain.InsufficientLiquidityError
			if errors.As(err, &liq) {
				e.logger.WarnContext(ctx, "pricing: fill-or-kill sell exceeds best bid depth",
					slog.String("token_id", in.TokenID),
					slog.String("requested", liq.Requested.String()),
					slog.String("available", liq.Available.String()),
				)
			}
			return domain.FinalizedOrder{}, err
		}
	}

	return domain.FinalizedOrder{
		TokenID:      in.TokenID,
		Side:         in.Side,
		Kind:         kind,
		Price:        price,
		Size:         size,
		Notional:     Notional(price, size),
		OriginalSize: in.Size,
		SizeAdjusted: adjusted,
		FeeRateBps:   in.FeeRateBps,
		FromBook:     fromBook,
		NegRisk:      book.NegRisk,
		TickSize:     tick,
	}, nil
}

// tickSize prefers the book's tick, then a cached or fresh lookup, then
// DefaultTick.
func (e *Engine) tickSize(ctx context.Context, tokenID string, book domain.OrderbookSnapshot) decimal.Decimal {
	if book.TickSize.IsPositive() {
		return book.TickSize
	}
	e.mu.Lock()
	tick, ok := e.tickCache[tokenID]
	e.mu.Unlock()
	if ok {
		return tick
	}
	if e.ticks == nil {
		return DefaultTick
	}
	tick, err := e.ticks.GetTickSize(ctx, tokenID)
	if err != nil || !tick.IsPositive() {
		e.logger.WarnContext(ctx, "pricing: tick size unavailable, using default",
			slog.String("token_id", tokenID),
			slog.Any("error", err),
		)
		return DefaultTick
	}
	e.mu.Lock()
	e.tickCache[tokenID] = tick
	e.mu.Unlock()
	return tick
}

func (e *Engine) price(in domain.OrderIntent, kind domain.OrderKind, book domain.OrderbookSnapshot) (decimal.Decimal, error) {
	if !in.PriceFromBook {
		p, err := NormalizePrice(in.Price)
		if err != nil {
			return decimal.Zero, err
		}
		return ClampPrice(p), nil
	}

	if in.Side == domain.SideBuy {
		ask, ok := book.BestAsk()
		if !ok {
			return decimal.Zero, &domain.PriceFetchError{TokenID: in.TokenID, Side: in.Side}
		}
		return ClampPrice(MarketBuyPrice(ask.Price, e.cfg.Slippage)), nil
	}

	bid, ok := book.BestBid()
	if !ok {
		return decimal.Zero, &domain.PriceFetchError{TokenID: in.TokenID, Side: in.Side}
	}
	p := MarketSellPrice(bid.Price, e.cfg.Slippage)
	if kind == domain.OrderKindLimit {
		tier := SellTier(book.Bids, in.Size, e.cfg.DepthLevels)
		p = decimal.Max(MinPrice, p.Mul(tier).Round(Scale))
	}
	return ClampPrice(p), nil
}
