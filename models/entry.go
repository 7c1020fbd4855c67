package models

import "time"

// Entry is a cached response. Data holds the raw payload bytes (image
// bytes, composed prompt text, or an encoded model listing).
type Entry struct {
	Key       string        `json:"key"`
	Data      []byte        `json:"data"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// NewEntry creates an Entry expiring ttl after createdAt.
func NewEntry(key string, data []byte, createdAt time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Key:       key,
		Data:      data,
		CreatedAt: createdAt,
		TTL:       ttl,
		ExpiresAt: createdAt.Add(ttl),
	}
}

// Expired reports whether the entry is stale at the given instant. Expiry
// is checked lazily on every read; an expired entry is never served.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
