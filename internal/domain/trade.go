package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the terminal status of a request.
type TradeStatus string

const (
	TradeStatusSuccess TradeStatus = "success"
	TradeStatusFailed  TradeStatus = "failed"
)

// TradeRequest is one natural-language order from a user.
type TradeRequest struct {
	RequestID string
	UserID    string
	Text      string
	// Extracted optionally carries a structured intent produced upstream.
	Extracted map[string]any
}

// TradeReport is the observable result of a request. Every request ends in
// exactly one report.
type TradeReport struct {
	RequestID  string             `json:"request_id"`
	UserID     string             `json:"user_id"`
	Text       string             `json:"text"`
	Status     TradeStatus        `json:"status"`
	FillState  string             `json:"fill_state,omitempty"`
	Side       Side               `json:"side,omitempty"`
	OrderType  OrderType          `json:"order_type,omitempty"`
	TokenID    string             `json:"token_id,omitempty"`
	Price      decimal.Decimal    `json:"price"`
	Size       decimal.Decimal    `json:"size"`
	Notional   decimal.Decimal    `json:"notional"`
	OrderID    string             `json:"order_id,omitempty"`
	TxHashes   []string           `json:"tx_hashes,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
	Message    string             `json:"message"`
	Attempts   []ExecutionAttempt `json:"attempts,omitempty"`
	Progress   []ProgressEvent    `json:"progress,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}
