package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultL1MaxEntries bounds the in-process tier when no capacity is configured.
const DefaultL1MaxEntries = 1024

// memoryTier is the bounded in-process L1 cache. Capacity eviction is LRU;
// expiry is enforced lazily on read, so an entry may also disappear before
// its TTL under memory pressure.
type memoryTier struct {
	entries *lru.Cache[string, *Entry]
}

func newMemoryTier(maxEntries int) *memoryTier {
	if maxEntries <= 0 {
		maxEntries = DefaultL1MaxEntries
	}
	entries, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		// lru.New only fails on non-positive size, which is handled above.
		panic(err)
	}
	return &memoryTier{entries: entries}
}

// Get returns the entry for key, or (nil, false) on miss or expiry.
func (m *memoryTier) Get(key string) (*Entry, bool) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	if entry.IsExpired() {
		m.entries.Remove(key)
		return nil, false
	}
	return entry, true
}

// Set stores an entry. A non-positive TTL is a no-op.
func (m *memoryTier) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.entries.Add(key, NewEntry(value, ttl))
}

// Delete removes key. Idempotent.
func (m *memoryTier) Delete(key string) {
	m.entries.Remove(key)
}

// DeletePattern removes all keys matching the glob pattern and returns the
// number removed. Matching runs over a snapshot of the keyset and uses the
// same glob semantics as the Redis MATCH option, so both tiers agree on
// what a pattern covers.
func (m *memoryTier) DeletePattern(pattern string) int {
	deleted := 0
	for _, key := range m.entries.Keys() {
		if globMatch(pattern, key) {
			m.entries.Remove(key)
			deleted++
		}
	}
	return deleted
}

// globMatch implements Redis-style glob matching: '*' matches any sequence
// of characters (including separators), '?' matches exactly one character,
// everything else matches literally.
func globMatch(pattern, s string) bool {
	p, n := 0, 0
	starP, starN := -1, 0
	for n < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[n]):
			p++
			n++
		case p < len(pattern) && pattern[p] == '*':
			starP, starN = p, n
			p++
		case starP >= 0:
			starN++
			p, n = starP+1, starN
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// Len returns the current number of entries, including not-yet-collected
// expired ones.
func (m *memoryTier) Len() int {
	return m.entries.Len()
}
