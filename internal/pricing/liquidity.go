package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// Sell discount tiers applied to book-priced resting sells.
var (
	TierSufficient = decimal.NewFromInt(1)
	TierLimited    = decimal.RequireFromString("0.995")
	TierThin       = decimal.RequireFromString("0.98")
)

// Depth sums the size of the first n levels.
func Depth(levels []domain.PriceLevel, n int) decimal.Decimal {
	total := decimal.Zero
	for i, l := range levels {
		if i >= n {
			break
		}
		total = total.Add(l.Size)
	}
	return total
}

// topLevels returns up to n levels, copied.
func topLevels(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if len(levels) < n {
		n = len(levels)
	}
	out := make([]domain.PriceLevel, n)
	copy(out, levels[:n])
	return out
}

// SellTier picks the discount factor for a sell of size against bids: the
// best level covers it, the top n levels cover it, or neither.
func SellTier(bids []domain.PriceLevel, size decimal.Decimal, n int) decimal.Decimal {
	switch {
	case len(bids) > 0 && bids[0].Size.GreaterThanOrEqual(size):
		return TierSufficient
	case Depth(bids, n).GreaterThanOrEqual(size):
		return TierLimited
	default:
		return TierThin
	}
}

// CheckFillOrKill rejects a sell whose size exceeds the depth at the best bid.
// The suggested smaller size is left zero when the best bid cannot take even
// minSize, since such an order would be rejected too.
func CheckFillOrKill(tokenID string, bids []domain.PriceLevel, size, minSize decimal.Decimal, n int) error {
	available := decimal.Zero
	if len(bids) > 0 {
		available = bids[0].Size
	}
	if size.LessThanOrEqual(available) {
		return nil
	}
	suggested := available.RoundFloor(SizeDecimals)
	if suggested.LessThan(minSize) {
		suggested = decimal.Zero
	}
	return &domain.InsufficientLiquidityError{
		TokenID:       tokenID,
		Requested:     size,
		Available:     available,
		Shortfall:     size.Sub(available),
		Levels:        topLevels(bids, n),
		SuggestedSize: suggested,
	}
}
