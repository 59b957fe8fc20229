package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

const exampleOrder = `"Buy 10 tokens of token 12345 at $0.50"`

// SuccessMessage renders the terminal message for an accepted order.
func SuccessMessage(order domain.FinalizedOrder, res *domain.SubmitResult, fillState string) string {
	var b strings.Builder
	summary := orderSummary(order)

	switch fillState {
	case domain.FillMatched:
		fmt.Fprintf(&b, "Order filled: %s.", summary)
	case domain.FillDelayed:
		fmt.Fprintf(&b, "Order accepted and waiting out the matching delay: %s.", summary)
	default:
		fmt.Fprintf(&b, "Order placed and resting on the book: %s.", summary)
	}

	if res != nil {
		if res.OrderID != "" {
			fmt.Fprintf(&b, " Order ID: %s.", res.OrderID)
		}
		if len(res.TransactionHashes) > 0 {
			fmt.Fprintf(&b, " Tx: %s.", strings.Join(res.TransactionHashes, ", "))
		}
	}
	if order.SizeAdjusted {
		fmt.Fprintf(&b, " Size was raised from %s to %s to meet the exchange minimum.",
			order.OriginalSize.String(), order.Size.String())
	}
	return b.String()
}

func orderSummary(order domain.FinalizedOrder) string {
	return fmt.Sprintf("%s %s tokens of %s at $%s (total $%s)",
		order.Side, order.Size.String(), order.TokenID, order.Price.StringFixed(2), order.Notional.StringFixed(2))
}

// ErrorMessage converts a pipeline error into the message shown to the user.
func ErrorMessage(err error) string {
	var (
		missing   *domain.MissingFieldsError
		notFound  *domain.MarketNotFoundError
		outcome   *domain.OutcomeNotFoundError
		liquidity *domain.InsufficientLiquidityError
		fetch     *domain.PriceFetchError
		balance   *domain.InsufficientBalanceError
		limit     *domain.PositionLimitError
		position  *domain.NoPositionError
		creds     *domain.CredentialError
		exchange  *domain.ExchangeError
	)

	switch {
	case errors.As(err, &missing):
		return fmt.Sprintf("I couldn't work out the %s of your order. Try something like %s.",
			strings.Join(missing.Fields, " and "), exampleOrder)

	case errors.Is(err, domain.ErrPriceOutOfRange):
		return "Price must be between 0 and 1. Quote prices like $0.65, 65c or 65%."

	case errors.As(err, &notFound):
		return fmt.Sprintf("I couldn't find a market matching %q. Try the exact market name or its condition id.", notFound.Query)

	case errors.As(err, &outcome):
		return fmt.Sprintf("%q has no outcome %q. Valid outcomes: %s.",
			outcome.Market, outcome.Requested, strings.Join(outcome.Valid, ", "))

	case errors.As(err, &liquidity):
		var b strings.Builder
		fmt.Fprintf(&b, "Not enough liquidity to sell %s tokens at once: the best bid only takes %s.",
			liquidity.Requested.String(), liquidity.Available.String())
		if liquidity.SuggestedSize.IsPositive() {
			fmt.Fprintf(&b, " Try selling %s tokens, or use a limit order.", liquidity.SuggestedSize.String())
		} else {
			b.WriteString(" The best bid is below the exchange minimum; use a limit order to rest on the book.")
		}
		if len(liquidity.Levels) > 0 {
			b.WriteString(" Top of book:")
			for _, l := range liquidity.Levels {
				fmt.Fprintf(&b, " %s@$%s", l.Size.String(), l.Price.StringFixed(2))
			}
		}
		return b.String()

	case errors.As(err, &fetch):
		return fmt.Sprintf("I couldn't get a %s price for %s right now. Try again shortly or give a limit price.",
			strings.ToLower(string(fetch.Side)), fetch.TokenID)

	case errors.As(err, &balance):
		msg := fmt.Sprintf("Insufficient balance: you have $%s available but this order needs $%s (short $%s).",
			balance.Available.StringFixed(2), balance.Required.StringFixed(2), balance.Shortfall.StringFixed(2))
		if balance.OnChain.Valid && balance.OnChain.Decimal.GreaterThan(decimal.Zero) {
			msg += fmt.Sprintf(" Your wallet holds $%s USDC that could be deposited.", balance.OnChain.Decimal.StringFixed(2))
		}
		return msg

	case errors.As(err, &limit):
		return fmt.Sprintf("This order's notional $%s exceeds the $%s position limit by $%s.",
			limit.Notional.StringFixed(2), limit.Max.StringFixed(2), limit.Excess.StringFixed(2))

	case errors.As(err, &position):
		if position.Held.IsZero() {
			return fmt.Sprintf("You don't hold any %s to sell.", position.TokenID)
		}
		return fmt.Sprintf("You hold %s tokens of %s, below the %s-token minimum order.",
			position.Held.String(), position.TokenID, position.Minimum.String())

	case errors.Is(err, domain.ErrBelowMinimum):
		return "This order is below the exchange minimum and your holding is too small to raise it."

	case errors.As(err, &creds):
		return "I couldn't set up API access for your wallet. Check the wallet configuration and try again."

	case errors.As(err, &exchange):
		msg := fmt.Sprintf("The exchange rejected the order after %d attempt(s): %s.", exchange.Attempts, exchange.Message)
		if len(exchange.Remediation) > 0 {
			msg += fmt.Sprintf(" Tried: %s.", strings.Join(exchange.Remediation, ", "))
		}
		if exchange.Order.TokenID != "" {
			msg += fmt.Sprintf(" Attempted order: %s %s.", orderSummary(exchange.Order), exchange.Order.Type())
		}
		return msg

	case errors.Is(err, domain.ErrDuplicate):
		return "This request was already submitted."

	case errors.Is(err, domain.ErrRateLimited):
		return "Too many orders in a short time. Please wait a moment and retry."
	}
	return "Something went wrong while handling your order. Check your open orders before retrying."
}
