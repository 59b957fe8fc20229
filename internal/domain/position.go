package domain

import "github.com/shopspring/decimal"

// Holding is a wallet's balance of one outcome token.
type Holding struct {
	TokenID     string
	ConditionID string
	Outcome     string
	Size        decimal.Decimal
	AvgPrice    decimal.Decimal
}
