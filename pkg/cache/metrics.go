package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier (memory, redis).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sprint_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"}, // "memory", "redis"
	)

	// CacheMisses tracks cache misses (both tiers missed).
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sprint_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheErrors tracks shared-tier operation errors by operation.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sprint_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan", "mget", "mset"
	)

	// CacheDeletes tracks deleted keys, including pattern invalidation.
	CacheDeletes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sprint_cache_deletes_total",
			Help: "Total number of cache keys deleted",
		},
	)

	// WarmedEntries tracks entries pre-populated by the cache warmer.
	WarmedEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sprint_cache_warmed_entries_total",
			Help: "Total number of cache entries written by the warmer",
		},
	)
)
