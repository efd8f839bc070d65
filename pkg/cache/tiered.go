package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Pattern-deletion tuning. Tuning constants, not contracts: per-step latency
// is capped by the chunk size, total iteration by the step limit.
const (
	// ScanChunkSize is the number of keys requested per SCAN step.
	ScanChunkSize = 100

	// MaxScanSteps is the safety valve against a cursor that never
	// reports done. Overflow is reportable, not fatal.
	MaxScanSteps = 10000
)

// ErrScanOverflow is returned by DeletePattern when keyspace iteration hit
// MaxScanSteps before the cursor completed. Keys matched so far were deleted.
var ErrScanOverflow = errors.New("pattern scan exceeded max iteration steps")

// SetItem is one key/value pair for SetMany.
type SetItem struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// TieredCache is the two-tier cache: a bounded in-process LRU in front of an
// optional shared Redis tier. All shared-tier failures are absorbed: reads
// degrade to misses, writes are dropped, and only the error counter records
// that anything went wrong. The caller never sees a backend error.
type TieredCache struct {
	memory *memoryTier
	redis  *redis.Client // nil in L1-only mode
	stats  *statCounters
	logger zerolog.Logger
}

// TieredConfig configures a TieredCache.
type TieredConfig struct {
	// L1MaxEntries bounds the in-process tier (default DefaultL1MaxEntries).
	L1MaxEntries int

	// Redis is the shared tier. Nil is valid and degrades to L1-only.
	Redis *redis.Client

	// Logger for cache diagnostics.
	Logger zerolog.Logger
}

// NewTiered creates a TieredCache.
func NewTiered(cfg TieredConfig) *TieredCache {
	return &TieredCache{
		memory: newMemoryTier(cfg.L1MaxEntries),
		redis:  cfg.Redis,
		stats:  &statCounters{},
		logger: cfg.Logger,
	}
}

// Get returns the cached value for key, checking L1 first and backfilling it
// from Redis on an L2 hit. Returns (nil, false) on miss. Never fails: Redis
// errors count as misses and increment the error counter.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if entry, ok := c.memory.Get(key); ok {
		c.stats.hits.Add(1)
		CacheHits.WithLabelValues("memory").Inc()
		return entry.Value, true
	}

	if c.redis == nil {
		c.miss()
		return nil, false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.backendError("get", key, err)
		}
		c.miss()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.backendError("get", key, err)
		c.miss()
		return nil, false
	}
	if entry.IsExpired() {
		// Redis TTL should have collected this; treat as miss either way.
		c.miss()
		return nil, false
	}

	// Backfill L1 with the remaining lifetime.
	c.memory.Set(key, entry.Value, entry.TTL())

	c.stats.hits.Add(1)
	CacheHits.WithLabelValues("redis").Inc()
	return entry.Value, true
}

// Set writes the value to both tiers with the caller-supplied TTL. Redis
// failures are swallowed: the cache is not a system of record.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.memory.Set(key, value, ttl)
	c.stats.sets.Add(1)

	if c.redis == nil {
		return
	}

	data, err := json.Marshal(NewEntry(value, ttl))
	if err != nil {
		c.backendError("set", key, err)
		return
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		c.backendError("set", key, err)
	}
}

// Delete removes key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.memory.Delete(key)
	c.stats.deletes.Add(1)
	CacheDeletes.Inc()

	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.backendError("delete", key, err)
	}
}

// DeletePattern removes every key matching the glob pattern from both tiers
// and returns the number of shared-tier keys deleted (L1-only keys in
// L1-only mode).
//
// The Redis keyspace is iterated with SCAN in ScanChunkSize steps, never one
// blocking full scan. Matched keys are deleted in a single pipelined batch
// per chunk. If the cursor has not completed after MaxScanSteps, iteration
// stops and ErrScanOverflow is returned along with the count so far.
func (c *TieredCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	l1Deleted := c.memory.DeletePattern(pattern)

	if c.redis == nil {
		c.stats.deletes.Add(uint64(l1Deleted))
		CacheDeletes.Add(float64(l1Deleted))
		return l1Deleted, nil
	}

	deleted := 0
	var cursor uint64
	for step := 0; ; step++ {
		if step >= MaxScanSteps {
			c.logger.Warn().
				Str("pattern", pattern).
				Int("deleted", deleted).
				Int("max_steps", MaxScanSteps).
				Msg("Pattern deletion stopped at iteration safety limit")
			return deleted, ErrScanOverflow
		}

		keys, next, err := c.redis.Scan(ctx, cursor, pattern, ScanChunkSize).Result()
		if err != nil {
			c.backendError("scan", pattern, err)
			return deleted, nil
		}

		if len(keys) > 0 {
			pipe := c.redis.Pipeline()
			dels := make([]*redis.IntCmd, 0, len(keys))
			for _, key := range keys {
				dels = append(dels, pipe.Del(ctx, key))
				c.memory.Delete(key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				c.backendError("delete", pattern, err)
			} else {
				// SCAN may report a key more than once; the DEL replies
				// count each removal exactly once.
				for _, cmd := range dels {
					deleted += int(cmd.Val())
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.stats.deletes.Add(uint64(deleted))
	CacheDeletes.Add(float64(deleted))

	c.logger.Debug().
		Str("pattern", pattern).
		Int("deleted", deleted).
		Msg("Pattern deletion complete")

	return deleted, nil
}

// GetMany returns the cached values for keys as a key -> value map, with nil
// for misses. Keys absent from L1 are fetched from Redis in a single MGET
// round trip; partial failure degrades those keys to misses.
func (c *TieredCache) GetMany(ctx context.Context, keys []string) map[string][]byte {
	results := make(map[string][]byte, len(keys))
	var remaining []string

	for _, key := range keys {
		if entry, ok := c.memory.Get(key); ok {
			c.stats.hits.Add(1)
			CacheHits.WithLabelValues("memory").Inc()
			results[key] = entry.Value
		} else {
			results[key] = nil
			remaining = append(remaining, key)
		}
	}

	if c.redis == nil || len(remaining) == 0 {
		c.stats.misses.Add(uint64(len(remaining)))
		return results
	}

	values, err := c.redis.MGet(ctx, remaining...).Result()
	if err != nil {
		c.backendError("mget", "", err)
		c.stats.misses.Add(uint64(len(remaining)))
		return results
	}

	for i, raw := range values {
		key := remaining[i]
		str, ok := raw.(string)
		if !ok {
			c.miss()
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(str), &entry); err != nil || entry.IsExpired() {
			c.miss()
			continue
		}
		c.memory.Set(key, entry.Value, entry.TTL())
		c.stats.hits.Add(1)
		CacheHits.WithLabelValues("redis").Inc()
		results[key] = entry.Value
	}

	return results
}

// SetMany writes all items to both tiers, dispatching the shared-tier writes
// as one pipelined round trip. Per-key failures are counted but do not fail
// the batch: batching is a latency optimization, not a transaction.
func (c *TieredCache) SetMany(ctx context.Context, items []SetItem) {
	for _, item := range items {
		c.memory.Set(item.Key, item.Value, item.TTL)
	}
	c.stats.sets.Add(uint64(len(items)))

	if c.redis == nil || len(items) == 0 {
		return
	}

	pipe := c.redis.Pipeline()
	queued := 0
	for _, item := range items {
		if item.TTL <= 0 {
			continue
		}
		data, err := json.Marshal(NewEntry(item.Value, item.TTL))
		if err != nil {
			c.backendError("mset", item.Key, err)
			continue
		}
		pipe.Set(ctx, item.Key, data, item.TTL)
		queued++
	}
	if queued == 0 {
		return
	}

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// Exec returns the first command error; count each failed command.
		for _, cmd := range cmds {
			if cmd.Err() != nil {
				c.backendError("mset", "", cmd.Err())
			}
		}
		if len(cmds) == 0 {
			c.backendError("mset", "", err)
		}
	}
}

// Stats returns a snapshot of the instance counters.
func (c *TieredCache) Stats() Stats {
	return c.stats.snapshot()
}

// MemoryLen returns the number of entries currently held in L1.
func (c *TieredCache) MemoryLen() int {
	return c.memory.Len()
}

// Ping verifies shared-tier connectivity. Returns nil in L1-only mode.
func (c *TieredCache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

func (c *TieredCache) miss() {
	c.stats.misses.Add(1)
	CacheMisses.Inc()
}

func (c *TieredCache) backendError(op, key string, err error) {
	c.stats.errors.Add(1)
	CacheErrors.WithLabelValues(op).Inc()
	c.logger.Warn().Err(err).Str("operation", op).Str("key", key).Msg("Cache backend error")
}

// GetAs retrieves and JSON-decodes a typed value. The bool reports a usable
// hit; decode failures degrade to a miss.
func GetAs[T any](ctx context.Context, c *TieredCache, key string) (T, bool) {
	var value T
	data, ok := c.Get(ctx, key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false
	}
	return value, true
}

// SetAs JSON-encodes and caches a typed value.
func SetAs[T any](ctx context.Context, c *TieredCache, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.Set(ctx, key, data, ttl)
	return nil
}
