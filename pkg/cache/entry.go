package cache

import (
	"time"
)

// Entry is a cached value as stored in the shared tier.
type Entry struct {
	// Value is the serialized payload. Opaque to this layer.
	Value []byte `json:"value"`

	// TTLSeconds is the caller-supplied lifetime of the entry.
	TTLSeconds int `json:"ttl_seconds"`

	// InsertedAt is when the entry was written.
	InsertedAt time.Time `json:"inserted_at"`
}

// NewEntry creates an entry with the insertion timestamp set to now.
func NewEntry(value []byte, ttl time.Duration) *Entry {
	return &Entry{
		Value:      value,
		TTLSeconds: int(ttl / time.Second),
		InsertedAt: time.Now(),
	}
}

// ExpiresAt returns the wall-clock expiry time of the entry.
func (e *Entry) ExpiresAt() time.Time {
	return e.InsertedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// IsExpired returns true if the entry has outlived its TTL.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt())
}

// TTL returns the remaining time until expiry, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt())
	if ttl < 0 {
		return 0
	}
	return ttl
}
