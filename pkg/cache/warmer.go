package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// WarmEntry is one pre-computed cache entry for the warmer.
type WarmEntry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Warmer pre-populates the cache for predictable access patterns, amortizing
// first-request latency. Writes go through SetMany so the whole batch costs
// one shared-tier round trip.
type Warmer struct {
	cache  *TieredCache
	logger zerolog.Logger
}

// NewWarmer creates a cache warmer.
func NewWarmer(cache *TieredCache, logger zerolog.Logger) *Warmer {
	return &Warmer{
		cache:  cache,
		logger: logger,
	}
}

// Warm writes all entries in one batched operation and returns the number
// written. Entries with non-positive TTLs are skipped.
func (w *Warmer) Warm(ctx context.Context, entries []WarmEntry) int {
	start := time.Now()

	items := make([]SetItem, 0, len(entries))
	for _, entry := range entries {
		if entry.TTL <= 0 {
			w.logger.Debug().Str("key", entry.Key).Msg("Skipping warm entry without TTL")
			continue
		}
		items = append(items, SetItem{Key: entry.Key, Value: entry.Value, TTL: entry.TTL})
	}

	if len(items) == 0 {
		return 0
	}

	w.cache.SetMany(ctx, items)
	WarmedEntries.Add(float64(len(items)))

	w.logger.Info().
		Int("entries", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Cache warming complete")

	return len(items)
}
