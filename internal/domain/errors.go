package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")
	ErrDuplicate     = errors.New("duplicate request")

	// ErrPriceOutOfRange is returned for prices that cannot be interpreted
	// as a probability, either before or after percentage normalization.
	ErrPriceOutOfRange = errors.New("price must be between 0 and 1")
	// ErrBelowMinimum is returned when a holding-derived size cannot be
	// raised to the minimum notional without exceeding the holding.
	ErrBelowMinimum = errors.New("order below exchange minimum")
)

// Error kinds surfaced on TradeReport.ErrorKind.
const (
	KindMissingFields         = "missing_fields"
	KindPriceOutOfRange       = "price_out_of_range"
	KindMarketNotFound        = "market_not_found"
	KindOutcomeNotFound       = "outcome_not_found"
	KindInsufficientLiquidity = "insufficient_liquidity"
	KindPriceFetch            = "price_fetch"
	KindInsufficientBalance   = "insufficient_balance"
	KindPositionLimit         = "position_limit"
	KindNoPosition            = "no_position"
	KindBelowMinimum          = "below_minimum"
	KindCredentials           = "credentials"
	KindExchange              = "exchange"
	KindDuplicate             = "duplicate"
	KindInternal              = "internal"
)

// MissingFieldsError lists the order fields neither the extractor nor the
// fallback matchers could produce.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing order fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Kind() string { return KindMissingFields }

// MarketNotFoundError is returned when no market matches a name or condition id.
type MarketNotFoundError struct {
	Query string
}

func (e *MarketNotFoundError) Error() string {
	return fmt.Sprintf("market not found: %q", e.Query)
}

func (e *MarketNotFoundError) Kind() string { return KindMarketNotFound }

func (e *MarketNotFoundError) Unwrap() error { return ErrNotFound }

// OutcomeNotFoundError is returned when the requested outcome label does not
// exist on the resolved market.
type OutcomeNotFoundError struct {
	Market    string
	Requested string
	Valid     []string
}

func (e *OutcomeNotFoundError) Error() string {
	return fmt.Sprintf("outcome %q not found on %q (valid: %s)",
		e.Requested, e.Market, strings.Join(e.Valid, ", "))
}

func (e *OutcomeNotFoundError) Kind() string { return KindOutcomeNotFound }

func (e *OutcomeNotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientLiquidityError is returned by the sell-side fill-or-kill gate.
type InsufficientLiquidityError struct {
	TokenID       string
	Requested     decimal.Decimal
	Available     decimal.Decimal // depth at the best level
	Shortfall     decimal.Decimal
	Levels        []PriceLevel // up to five levels, best first
	SuggestedSize decimal.Decimal // zero when the best level is below the order minimum
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("insufficient liquidity for %s: requested %s, best level has %s",
		e.TokenID, e.Requested, e.Available)
}

func (e *InsufficientLiquidityError) Kind() string { return KindInsufficientLiquidity }

// PriceFetchError wraps a failed or empty orderbook read.
type PriceFetchError struct {
	TokenID string
	Side    Side
	Err     error
}

func (e *PriceFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s price for %s: %v", e.Side, e.TokenID, e.Err)
	}
	return fmt.Sprintf("fetch %s price for %s: no liquidity", e.Side, e.TokenID)
}

func (e *PriceFetchError) Kind() string { return KindPriceFetch }

func (e *PriceFetchError) Unwrap() error { return e.Err }

// InsufficientBalanceError reports a trading balance below the order notional.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
	OnChain   decimal.NullDecimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, required %s", e.Available, e.Required)
}

func (e *InsufficientBalanceError) Kind() string { return KindInsufficientBalance }

// PositionLimitError reports an order notional above the configured cap.
type PositionLimitError struct {
	Notional decimal.Decimal
	Max      decimal.Decimal
	Excess   decimal.Decimal
}

func (e *PositionLimitError) Error() string {
	return fmt.Sprintf("position limit exceeded: notional %s, max %s", e.Notional, e.Max)
}

func (e *PositionLimitError) Kind() string { return KindPositionLimit }

// NoPositionError is returned when a sell resolves to fewer units than the
// exchange minimum.
type NoPositionError struct {
	TokenID string
	Held    decimal.Decimal
	Minimum decimal.Decimal
}

func (e *NoPositionError) Error() string {
	return fmt.Sprintf("no sellable position in %s: held %s, minimum %s", e.TokenID, e.Held, e.Minimum)
}

func (e *NoPositionError) Kind() string { return KindNoPosition }

// CredentialError wraps a failed API-credential derivation. It is never retried.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("derive api credentials: %v", e.Err)
}

func (e *CredentialError) Kind() string { return KindCredentials }

func (e *CredentialError) Unwrap() error { return e.Err }

// ExchangeError is the terminal outcome of the execution state machine.
type ExchangeError struct {
	Message     string
	Recoverable bool // last classification before giving up
	Attempts    int
	Remediation []string
	Order       FinalizedOrder // the order that was submitted
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange rejected order after %d attempt(s): %s", e.Attempts, e.Message)
}

func (e *ExchangeError) Kind() string { return KindExchange }

// ErrorKind maps an error onto one of the Kind* constants.
func ErrorKind(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, ErrPriceOutOfRange):
		return KindPriceOutOfRange
	case errors.Is(err, ErrBelowMinimum):
		return KindBelowMinimum
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	}
	return KindInternal
}
