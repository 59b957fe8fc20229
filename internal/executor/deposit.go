package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// DepositPolicy decides how much collateral to request before resubmitting.
type DepositPolicy interface {
	Amount(ctx context.Context, order domain.FinalizedOrder) (decimal.Decimal, error)
}

// NotionalPlusBuffer deposits the full order notional plus a fixed buffer.
type NotionalPlusBuffer struct {
	Buffer decimal.Decimal
}

// Amount implements DepositPolicy.
func (p NotionalPlusBuffer) Amount(_ context.Context, order domain.FinalizedOrder) (decimal.Decimal, error) {
	return order.Notional.Add(p.Buffer), nil
}

// BalanceReader reports the spendable trading balance in dollars.
type BalanceReader interface {
	TradingBalance(ctx context.Context) (decimal.Decimal, error)
}

// ShortfallPlusBuffer deposits only what the wallet is missing plus a fixed
// buffer.
type ShortfallPlusBuffer struct {
	Buffer  decimal.Decimal
	Balance BalanceReader
}

// Amount implements DepositPolicy.
func (p ShortfallPlusBuffer) Amount(ctx context.Context, order domain.FinalizedOrder) (decimal.Decimal, error) {
	available, err := p.Balance.TradingBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("executor: deposit amount: %w", err)
	}
	shortfall := decimal.Max(decimal.Zero, order.Notional.Sub(available))
	return shortfall.Add(p.Buffer), nil
}
