// Package cache implements the two-tier response cache for the sprint-report
// upstream clients: a bounded in-process LRU (L1) in front of a shared Redis
// tier (L2).
//
// Design:
//
//   - Keys are derived deterministically from the logical request shape
//     (service, endpoint, method, params); see Key.
//   - Values are opaque serialized bytes; this layer never inspects payload
//     shape. Callers that want typed access use GetAs/SetAs.
//   - TTLs are always caller-supplied. Each tier enforces expiry
//     independently; L1 may additionally evict early under capacity pressure.
//   - The Redis tier is optional. A nil Redis client degrades the cache to
//     L1-only operation, and Redis command failures are absorbed locally:
//     Get degrades to a miss, Set/Delete swallow the error. Backend errors
//     only ever surface as the Errors counter in Stats.
//   - GetMany/SetMany execute against Redis as a single batched round trip
//     (MGET / pipeline). DeletePattern iterates the keyspace with SCAN in
//     bounded chunks rather than one blocking scan.
//
// The cache is not a system of record: every value is re-derivable from the
// upstream source of truth, so last-write-wins across writers is acceptable.
package cache
