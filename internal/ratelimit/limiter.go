package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultSweepInterval is how often idle buckets are swept.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultIdleEviction is how long a bucket may sit unused before eviction.
	DefaultIdleEviction = 1 * time.Hour
)

// Result is the outcome of a rate limit check.
// ResetAt is when the oldest in-window request falls out of the window, or
// the block expiry when a hard block is active. RetryAfter is set only while
// a hard block is in effect.
type Result struct {
	Allowed          bool          `json:"allowed"`
	Limit            int           `json:"limit"`
	RequestsInWindow int           `json:"requests_in_window"`
	Remaining        int           `json:"remaining"`
	ResetAt          time.Time     `json:"reset_at"`
	RetryAfter       time.Duration `json:"retry_after,omitempty"`
}

// bucketKey identifies one sliding window. Buckets are never shared across rules.
type bucketKey struct {
	rule    string
	subject string
}

type bucket struct {
	timestamps   []time.Time
	blockedUntil time.Time
	totalChecked int64
	totalBlocked int64
	lastSeen     time.Time
}

// prune drops timestamps that have left the window ending at now.
func (b *bucket) prune(window time.Duration, now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(b.timestamps) && !b.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.timestamps = append(b.timestamps[:0], b.timestamps[i:]...)
	}
}

// Limiter is a true sliding-window rate limiter keyed by (rule, subject).
// All state is in-process; a single mutex guards the bucket map and the
// critical section is bounded by the per-rule request cap.
type Limiter struct {
	mu      sync.Mutex
	rules   Rules
	buckets map[bucketKey]*bucket
}

// New creates a Limiter with the given rule set. Nil rules means no limits.
func New(rules Rules) *Limiter {
	if rules == nil {
		rules = Rules{}
	}
	return &Limiter{
		rules:   rules,
		buckets: make(map[bucketKey]*bucket),
	}
}

// SetRules atomically replaces the rule set. Existing buckets keep their
// recorded timestamps and blocks; the new rules apply from the next check.
func (l *Limiter) SetRules(rules Rules) {
	if rules == nil {
		rules = Rules{}
	}
	l.mu.Lock()
	l.rules = rules
	l.mu.Unlock()
}

// Allow checks the named rule for the subject at the current time.
func (l *Limiter) Allow(rule, subject string) Result {
	return l.AllowAt(rule, subject, time.Now().UTC())
}

// AllowAt checks the named rule for the subject at an explicit time.
// Unknown or disabled rules always allow.
func (l *Limiter) AllowAt(rule, subject string, now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rules[rule]
	if !ok || !r.Enabled() {
		return Result{Allowed: true}
	}

	key := bucketKey{rule: rule, subject: subject}
	b := l.buckets[key]
	if b == nil {
		b = &bucket{}
		l.buckets[key] = b
	}
	b.lastSeen = now
	b.totalChecked++

	b.prune(r.Window, now)

	// A hard block denies everything until it expires, regardless of the
	// window state.
	if b.blockedUntil.After(now) {
		b.totalBlocked++
		return Result{
			Allowed:          false,
			Limit:            r.Requests,
			RequestsInWindow: len(b.timestamps),
			Remaining:        0,
			ResetAt:          b.blockedUntil,
			RetryAfter:       b.blockedUntil.Sub(now),
		}
	}

	if len(b.timestamps) >= r.Requests {
		b.totalBlocked++
		if r.Block > 0 {
			b.blockedUntil = now.Add(r.Block)
			return Result{
				Allowed:          false,
				Limit:            r.Requests,
				RequestsInWindow: len(b.timestamps),
				Remaining:        0,
				ResetAt:          b.blockedUntil,
				RetryAfter:       r.Block,
			}
		}
		return Result{
			Allowed:          false,
			Limit:            r.Requests,
			RequestsInWindow: len(b.timestamps),
			Remaining:        0,
			ResetAt:          b.timestamps[0].Add(r.Window),
		}
	}

	b.timestamps = append(b.timestamps, now)
	return Result{
		Allowed:          true,
		Limit:            r.Requests,
		RequestsInWindow: len(b.timestamps),
		Remaining:        r.Requests - len(b.timestamps),
		ResetAt:          b.timestamps[0].Add(r.Window),
	}
}

// Sweep evicts buckets with no activity since now-idleFor. Buckets under an
// active hard block are kept regardless of idleness. Returns the number of
// buckets evicted.
func (l *Limiter) Sweep(idleFor time.Duration, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-idleFor)
	evicted := 0
	for key, b := range l.buckets {
		if b.blockedUntil.After(now) {
			continue
		}
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			evicted++
		}
	}
	return evicted
}

// RuleStats aggregates counters across all buckets of one rule.
type RuleStats struct {
	Buckets int   `json:"buckets"`
	Checked int64 `json:"checked"`
	Blocked int64 `json:"blocked"`
}

// Stats returns per-rule counters for reporting.
func (l *Limiter) Stats() map[string]RuleStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := make(map[string]RuleStats)
	for key, b := range l.buckets {
		s := stats[key.rule]
		s.Buckets++
		s.Checked += b.totalChecked
		s.Blocked += b.totalBlocked
		stats[key.rule] = s
	}
	return stats
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
