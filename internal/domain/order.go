package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates whether this is a buy or sell.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind is the user-facing order flavour.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindMarket OrderKind = "MARKET"
)

// OrderType indicates the time-in-force policy sent to the exchange.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// TimeInForce maps the order kind onto the exchange order type.
func (k OrderKind) TimeInForce() OrderType {
	if k == OrderKindMarket {
		return OrderTypeFOK
	}
	return OrderTypeGTC
}

// SizeHint tells the pipeline how Size should be interpreted.
type SizeHint string

const (
	SizeAbsolute SizeHint = ""
	SizeAll      SizeHint = "ALL"
	SizeHalf     SizeHint = "HALF"
)

// OrderIntent is a partially specified order produced by the parameter resolver.
type OrderIntent struct {
	UserID     string
	TokenID    string
	MarketHint string
	Outcome    string
	Side       Side
	Kind       OrderKind

	// Price is zero when PriceFromBook is set.
	Price          decimal.Decimal
	PriceFromBook  bool
	PriceInDollars bool

	Size     decimal.Decimal
	SizeHint SizeHint
	// MaxSize caps size upgrades when Size came from a holding.
	MaxSize decimal.NullDecimal

	FeeRateBps int
}

// FinalizedOrder has every field resolved and validated for submission.
type FinalizedOrder struct {
	TokenID      string
	Side         Side
	Kind         OrderKind
	Price        decimal.Decimal
	Size         decimal.Decimal
	Notional     decimal.Decimal
	OriginalSize decimal.Decimal
	SizeAdjusted bool
	FeeRateBps   int

	// TickSize is the grid Price was placed on. NegRisk is only known when
	// FromBook is set.
	FromBook bool
	NegRisk  bool
	TickSize decimal.Decimal
}

// Type returns the exchange time-in-force for the order.
func (o FinalizedOrder) Type() OrderType { return o.Kind.TimeInForce() }

// SignedOrder is the EIP-712 signed CLOB payload.
type SignedOrder struct {
	Salt          string
	Maker         string
	Signer        string
	Taker         string
	TokenID       string
	MakerAmount   string
	TakerAmount   string
	Expiration    string
	Nonce         string
	FeeRateBps    string
	Side          Side
	SignatureType int
	Signature     string
	Owner         string // API key of the submitting account
}

// SubmitResult is the exchange response to an order submission. Every field
// is optional.
type SubmitResult struct {
	OrderID           string
	Status            string
	TransactionHashes []string
	Error             string
}

// Fill sub-states of a successful submission.
const (
	FillMatched = "matched"
	FillDelayed = "delayed"
	FillPending = "pending"
)

// FillState maps an exchange status onto a fill sub-state.
func (r SubmitResult) FillState() string {
	switch r.Status {
	case "matched", "MATCHED", "mined", "MINED", "confirmed", "CONFIRMED":
		return FillMatched
	case "delayed", "DELAYED":
		return FillDelayed
	default:
		return FillPending
	}
}

// Classification of a submission attempt.
type Classification string

const (
	ClassSuccess     Classification = "success"
	ClassRecoverable Classification = "retryable"
	ClassTerminal    Classification = "terminal"
)

// ExecutionAttempt records one submission and its classification.
type ExecutionAttempt struct {
	Number         int            `json:"number"`
	Order          FinalizedOrder `json:"order"`
	Result         *SubmitResult  `json:"result,omitempty"`
	Err            string         `json:"error,omitempty"`
	Classification Classification `json:"classification"`
	Reason         string         `json:"reason,omitempty"`
	At             time.Time      `json:"at"`
}

// Credentials are the derived CLOB API credentials.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// Complete reports whether all three parts are present.
func (c Credentials) Complete() bool {
	return c.Key != "" && c.Secret != "" && c.Passphrase != ""
}
