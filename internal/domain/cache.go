package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, conditionID string) (Market, error)
	GetByName(ctx context.Context, name string) (Market, error)
	SetName(ctx context.Context, name string, conditionID string) error
}

// OutcomeMemory remembers the last outcome label resolved for a user.
type OutcomeMemory interface {
	LastOutcome(ctx context.Context, userID string) (string, error)
	RememberOutcome(ctx context.Context, userID, outcome string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ProgressBus carries progress events between the pipeline and stream
// subscribers.
type ProgressBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
