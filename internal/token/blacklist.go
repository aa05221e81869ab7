package token

import (
	"sync"
	"time"
)

// Blacklist is a thread-safe in-memory set of revoked token IDs. Session
// revocation (anomaly detection, emergency quarantine, member removal)
// adds the token ID here; Verify callers consult it after signature and
// expiry checks.
//
// Entries self-expire: once a token's natural TTL has passed, Verify
// rejects it regardless, so Cleanup drops the entry.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewBlacklist creates an empty token blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Revoke adds a token ID. expiresAt is the token's natural expiry, after
// which Cleanup removes the entry.
func (b *Blacklist) Revoke(tokenID string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[tokenID] = expiresAt
}

// IsRevoked reports whether a token ID has been revoked.
func (b *Blacklist) IsRevoked(tokenID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.entries[tokenID]
	return exists
}

// Cleanup removes entries whose natural expiry has passed and returns the
// number removed.
func (b *Blacklist) Cleanup(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of revoked token IDs currently tracked.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
