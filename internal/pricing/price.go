package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

const (
	// Scale is the number of decimal places kept for prices and notionals.
	Scale = 6
	// SizeDecimals is the precision the exchange accepts for share sizes.
	SizeDecimals = 2
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	// MinPrice and MaxPrice bound every submitted price.
	MinPrice = decimal.RequireFromString("0.01")
	MaxPrice = decimal.RequireFromString("0.99")

	// DefaultTick is used when the token's tick size cannot be read.
	DefaultTick = decimal.RequireFromString("0.01")
)

// NormalizePrice interprets values above 1 as percentages. A price that is
// not positive, or still above 1 after dividing by 100, is rejected.
func NormalizePrice(p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing: normalize %s: %w", p, domain.ErrPriceOutOfRange)
	}
	if p.GreaterThan(one) {
		p = p.Div(hundred)
	}
	if p.GreaterThan(one) {
		return decimal.Zero, fmt.Errorf("pricing: normalize %s: %w", p.Mul(hundred), domain.ErrPriceOutOfRange)
	}
	return p.Round(Scale), nil
}

// ClampPrice bounds p to [MinPrice, MaxPrice].
func ClampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	if p.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return p
}

// Notional returns price*size at fixed scale.
func Notional(price, size decimal.Decimal) decimal.Decimal {
	return price.Mul(size).Round(Scale)
}

// MinimumSize returns the size needed to reach minNotional at price, never
// less than minSize: max(minSize, ceil(minNotional/price)).
func MinimumSize(price, minNotional, minSize decimal.Decimal) decimal.Decimal {
	need := minNotional.DivRound(price, 16).Ceil()
	return decimal.Max(minSize, need)
}

// MarketBuyPrice crosses the best ask by slippage, capped at MaxPrice.
func MarketBuyPrice(bestAsk, slippage decimal.Decimal) decimal.Decimal {
	return decimal.Min(MaxPrice, bestAsk.Mul(one.Add(slippage)).Round(Scale))
}

// MarketSellPrice undercuts the best bid by slippage, floored at MinPrice.
func MarketSellPrice(bestBid, slippage decimal.Decimal) decimal.Decimal {
	return decimal.Max(MinPrice, bestBid.Mul(one.Sub(slippage)).Round(Scale))
}

// ToTick moves p onto the tick grid without crossing the order's own limit:
// buys round down and sells round up. For book-priced orders this keeps the
// slippage buffer intact, since the best level is itself on the grid. The
// result stays within [tick, 1-tick].
func ToTick(p, tick decimal.Decimal, side domain.Side) decimal.Decimal {
	if !tick.IsPositive() {
		return p
	}
	steps := p.DivRound(tick, 16)
	if side == domain.SideBuy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	q := steps.Mul(tick)
	if lo := tick; q.LessThan(lo) {
		return lo
	}
	if hi := one.Sub(tick); q.GreaterThan(hi) {
		return hi
	}
	return q
}
