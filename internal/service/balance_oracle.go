package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// BalanceCheck is the result of comparing the trading balance with an order
// notional. OnChain is the wallet's raw token balance when a chain reader is
// configured.
type BalanceCheck struct {
	Sufficient bool
	Available  decimal.Decimal
	Required   decimal.Decimal
	OnChain    decimal.NullDecimal
}

// Shortfall returns how much Available falls short of Required.
func (b BalanceCheck) Shortfall() decimal.Decimal {
	return decimal.Max(decimal.Zero, b.Required.Sub(b.Available))
}

// BalanceOracle answers funding questions for the guard.
type BalanceOracle interface {
	CheckTradingBalance(ctx context.Context, notional decimal.Decimal) (BalanceCheck, error)
	MaxPositionSize() decimal.Decimal
}

// CollateralReader reads the exchange-visible collateral balance and
// allowance in dollars.
type CollateralReader interface {
	GetBalanceAllowance(ctx context.Context) (balance, allowance decimal.Decimal, err error)
}

// TokenBalanceReader reads an ERC-20 balance in dollars.
type TokenBalanceReader interface {
	BalanceOf(ctx context.Context, wallet string) (decimal.Decimal, error)
}

// ClobBalanceOracle reports the trading balance as the CLOB collateral
// balance. Allowance is not part of the check: an allowance shortfall shows
// up as a recoverable rejection at submission and is fixed by the approval
// remediation. The on-chain USDC balance is added for context.
type ClobBalanceOracle struct {
	clob        CollateralReader
	chain       TokenBalanceReader
	wallet      string
	maxPosition decimal.Decimal
	logger      *slog.Logger
}

// NewClobBalanceOracle creates a ClobBalanceOracle. chain may be nil.
func NewClobBalanceOracle(
	clob CollateralReader,
	chain TokenBalanceReader,
	wallet string,
	maxPosition decimal.Decimal,
	logger *slog.Logger,
) *ClobBalanceOracle {
	return &ClobBalanceOracle{
		clob:        clob,
		chain:       chain,
		wallet:      wallet,
		maxPosition: maxPosition,
		logger:      logger.With(slog.String("component", "balance_oracle")),
	}
}

// MaxPositionSize implements BalanceOracle.
func (o *ClobBalanceOracle) MaxPositionSize() decimal.Decimal { return o.maxPosition }

// TradingBalance returns the collateral held on the exchange in dollars.
func (o *ClobBalanceOracle) TradingBalance(ctx context.Context) (decimal.Decimal, error) {
	balance, _, err := o.collateral(ctx)
	return balance, err
}

func (o *ClobBalanceOracle) collateral(ctx context.Context) (balance, allowance decimal.Decimal, err error) {
	balance, allowance, err = o.clob.GetBalanceAllowance(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("balance_oracle: %w", err)
	}
	return balance, allowance, nil
}

// CheckTradingBalance implements BalanceOracle.
func (o *ClobBalanceOracle) CheckTradingBalance(ctx context.Context, notional decimal.Decimal) (BalanceCheck, error) {
	available, allowance, err := o.collateral(ctx)
	if err != nil {
		return BalanceCheck{}, err
	}
	if allowance.LessThan(notional) {
		o.logger.InfoContext(ctx, "balance_oracle: allowance below notional, approval may be needed",
			slog.String("allowance", allowance.String()),
			slog.String("notional", notional.String()),
		)
	}

	check := BalanceCheck{
		Sufficient: available.GreaterThanOrEqual(notional),
		Available:  available,
		Required:   notional,
	}
	if o.chain != nil && o.wallet != "" {
		onChain, err := o.chain.BalanceOf(ctx, o.wallet)
		if err != nil {
			o.logger.WarnContext(ctx, "balance_oracle: on-chain balance unavailable",
				slog.String("wallet", o.wallet),
				slog.String("error", err.Error()),
			)
		} else {
			check.OnChain = decimal.NewNullDecimal(onChain)
		}
	}
	return check, nil
}

// Compile-time interface check.
var _ BalanceOracle = (*ClobBalanceOracle)(nil)

// insufficientBalance converts a failed check into the user-facing error.
func insufficientBalance(c BalanceCheck) error {
	return &domain.InsufficientBalanceError{
		Available: c.Available,
		Required:  c.Required,
		Shortfall: c.Shortfall(),
		OnChain:   c.OnChain,
	}
}
