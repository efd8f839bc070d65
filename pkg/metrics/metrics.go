// Package metrics documents the Prometheus metrics exposed by the upstream
// resilience layer. All collectors are registered via promauto in their
// owning packages (client, cache, ratelimit) to keep the packages modular;
// this package holds the registry reference and the metric catalog.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the Prometheus registerer used by all collectors in this
// module. promauto registers against the default registerer.
var Registry = prometheus.DefaultRegisterer

// Metrics Catalog
//
// Request metrics (pkg/client):
//   - sprint_api_requests_total{endpoint, status} (Counter): requests by
//     endpoint and outcome; status is an HTTP code or one of
//     "cache_hit", "rate_limited", "transport_error"
//   - sprint_api_request_duration_seconds{endpoint} (Histogram)
//   - sprint_api_errors_total{kind} (Counter): classified errors
//     (auth, rate_limit, timeout, generic)
//
// Retry metrics (pkg/client):
//   - sprint_api_retries_total{kind} (Counter)
//   - sprint_api_retry_backoff_seconds{kind} (Histogram)
//   - sprint_api_retry_exhausted_total{kind} (Counter)
//
// Cache metrics (pkg/cache):
//   - sprint_cache_hits_total{tier} (Counter): tier is "memory" or "redis"
//   - sprint_cache_misses_total (Counter)
//   - sprint_cache_errors_total{operation} (Counter): absorbed backend errors
//   - sprint_cache_deletes_total (Counter)
//   - sprint_cache_warmed_entries_total (Counter)
//
// Rate limit metrics (pkg/ratelimit):
//   - sprint_ratelimit_remaining (Gauge)
//   - sprint_ratelimit_rejects_total (Counter)
//   - sprint_ratelimit_waits_total (Counter)
//   - sprint_ratelimit_wait_seconds (Histogram)
//
// Example queries:
//
//   # Cache hit rate
//   sum(rate(sprint_cache_hits_total[5m])) /
//   (sum(rate(sprint_cache_hits_total[5m])) + sum(rate(sprint_cache_misses_total[5m])))
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(sprint_api_request_duration_seconds_bucket[5m]))
//
//   # Quota pressure
//   sprint_ratelimit_remaining < 10
