package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"habitledger/internal/habit"
	"habitledger/pkg/metrics"
)

// ArrearsCache keeps one reconciled arrears list per (user, today) in Redis.
// It is advisory: any write to the user's ledger drops every cached day.
type ArrearsCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewArrearsCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *ArrearsCache {
	return &ArrearsCache{rdb: rdb, ttl: ttl, logger: logger}
}

func arrearsKey(userID int) string {
	return fmt.Sprintf("arrears:%d", userID)
}

// Get returns ok=false on miss or on any Redis failure.
func (c *ArrearsCache) Get(ctx context.Context, userID int, today habit.DateKey) ([]habit.ArrearEntry, bool) {
	raw, err := c.rdb.HGet(ctx, arrearsKey(userID), today.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordArrearsCache("miss")
		return nil, false
	}
	if err != nil {
		metrics.RecordArrearsCache("error")
		c.logger.Warn("Arrears cache read failed", zap.Int("user_id", userID), zap.Error(err))
		return nil, false
	}

	var entries []habit.ArrearEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		metrics.RecordArrearsCache("error")
		c.logger.Warn("Arrears cache entry corrupt, ignoring", zap.Int("user_id", userID), zap.Error(err))
		return nil, false
	}
	metrics.RecordArrearsCache("hit")
	return entries, true
}

func (c *ArrearsCache) Set(ctx context.Context, userID int, today habit.DateKey, entries []habit.ArrearEntry) error {
	body, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	key := arrearsKey(userID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, today.String(), body)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Arrears cache write failed", zap.Int("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// Invalidate drops every cached day for the user.
func (c *ArrearsCache) Invalidate(ctx context.Context, userID int) error {
	if err := c.rdb.Del(ctx, arrearsKey(userID)).Err(); err != nil {
		c.logger.Warn("Arrears cache invalidate failed", zap.Int("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// ArrearsLister is the engine side of the read-through.
type ArrearsLister interface {
	ListArrears(ctx context.Context, userID int, today habit.DateKey) ([]habit.ArrearEntry, error)
}

// CachedArrears reads through the cache to the engine. A nil cache disables
// caching.
type CachedArrears struct {
	engine ArrearsLister
	cache  *ArrearsCache
}

func NewCachedArrears(engine ArrearsLister, cache *ArrearsCache) *CachedArrears {
	return &CachedArrears{engine: engine, cache: cache}
}

func (c *CachedArrears) ListArrears(ctx context.Context, userID int, today habit.DateKey) ([]habit.ArrearEntry, error) {
	if c.cache != nil {
		if entries, ok := c.cache.Get(ctx, userID, today); ok {
			return entries, nil
		}
	}
	entries, err := c.engine.ListArrears(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		_ = c.cache.Set(ctx, userID, today, entries)
	}
	return entries, nil
}

// Refresh recomputes and stores the user's arrears, bypassing any cached copy.
func (c *CachedArrears) Refresh(ctx context.Context, userID int, today habit.DateKey) error {
	entries, err := c.engine.ListArrears(ctx, userID, today)
	if err != nil {
		return err
	}
	if c.cache == nil {
		return nil
	}
	return c.cache.Set(ctx, userID, today, entries)
}

// Invalidate is a no-op without a cache.
func (c *CachedArrears) Invalidate(ctx context.Context, userID int) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Invalidate(ctx, userID)
}
