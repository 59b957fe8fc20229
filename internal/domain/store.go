package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SettingsStore is a small key-value store for account settings such as
// derived API credentials.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetAll writes every pair atomically.
	SetAll(ctx context.Context, values map[string]string) error
}

// ExecutionStore persists terminal trade reports.
type ExecutionStore interface {
	Save(ctx context.Context, report TradeReport) error
	GetByID(ctx context.Context, requestID string) (TradeReport, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]TradeReport, error)
}

// AuditStore provides an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
