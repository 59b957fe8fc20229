package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

const (
	marketTTL  = 5 * time.Minute
	outcomeTTL = 7 * 24 * time.Hour
)

// MarketCache implements domain.MarketCache and domain.OutcomeMemory.
//
// Key schema (under the client prefix):
//
//	market:cond:{conditionID} - JSON-encoded Market
//	market:name:{name}        - condition id a normalized name resolved to
//	outcome:last:{userID}     - last outcome label resolved for the user
type MarketCache struct {
	c *Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{c: c}
}

func (mc *MarketCache) condKey(id string) string {
	return mc.c.key("market:cond:" + strings.ToLower(id))
}
func (mc *MarketCache) nameKey(n string) string { return mc.c.key("market:name:" + normalizeName(n)) }

// normalizeName lower-cases and collapses whitespace so equivalent spellings
// of a market name share one cache entry.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Set stores a Market keyed by its condition id with a 5-minute TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	if market.ConditionID == "" {
		return fmt.Errorf("redis: set market %s: empty condition id", market.ID)
	}
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ConditionID, err)
	}
	if err := mc.c.rdb.Set(ctx, mc.condKey(market.ConditionID), data, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ConditionID, err)
	}
	return nil
}

// Get retrieves a Market by condition id.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, conditionID string) (domain.Market, error) {
	data, err := mc.c.rdb.Get(ctx, mc.condKey(conditionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", conditionID, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", conditionID, err)
	}
	return market, nil
}

// SetName records that name resolved to conditionID.
func (mc *MarketCache) SetName(ctx context.Context, name, conditionID string) error {
	if err := mc.c.rdb.Set(ctx, mc.nameKey(name), conditionID, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market name %q: %w", name, err)
	}
	return nil
}

// GetByName returns the market a name previously resolved to.
// It returns domain.ErrNotFound if either the name index or the market has
// expired.
func (mc *MarketCache) GetByName(ctx context.Context, name string) (domain.Market, error) {
	id, err := mc.c.rdb.Get(ctx, mc.nameKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market by name %q: %w", name, err)
	}
	return mc.Get(ctx, id)
}

// RememberOutcome stores the outcome label last resolved for userID.
func (mc *MarketCache) RememberOutcome(ctx context.Context, userID, outcome string) error {
	if userID == "" {
		return nil
	}
	if err := mc.c.rdb.Set(ctx, mc.c.key("outcome:last:"+userID), outcome, outcomeTTL).Err(); err != nil {
		return fmt.Errorf("redis: remember outcome %s: %w", userID, err)
	}
	return nil
}

// LastOutcome returns the remembered outcome label, or domain.ErrNotFound.
func (mc *MarketCache) LastOutcome(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", domain.ErrNotFound
	}
	v, err := mc.c.rdb.Get(ctx, mc.c.key("outcome:last:"+userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: last outcome %s: %w", userID, err)
	}
	return v, nil
}

// Compile-time interface checks.
var (
	_ domain.MarketCache   = (*MarketCache)(nil)
	_ domain.OutcomeMemory = (*MarketCache)(nil)
)
