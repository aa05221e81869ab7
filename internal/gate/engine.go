// Package gate composes the security core behind a single decision surface.
// The engine is the one component that writes the audit record for a
// decision: resolver, evaluator, guard, limiter, and emergency controller
// all report into it, and it logs exactly one event per decision.
package gate

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/alert"
	"github.com/holdfast-sec/holdfast/internal/anomaly"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/emergency"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/ratelimit"
	"github.com/holdfast-sec/holdfast/internal/session"
	"github.com/holdfast-sec/holdfast/internal/store"
)

// DefaultIdleTimeout ends sessions with no activity for this long.
const DefaultIdleTimeout = time.Hour

var (
	ErrNoActiveLockdown   = errors.New("gate: no active lockdown for workspace")
	ErrNoActiveQuarantine = errors.New("gate: no active quarantine for user")
)

// Options configures a new Engine.
type Options struct {
	Config     *config.Config
	ConfigHash string
	Directory  store.Directory
	Recorder   *audit.Recorder
	// Dispatcher may be nil when no alert destinations are configured.
	Dispatcher *alert.Dispatcher
	// SigningKey signs session tokens. A fresh key is generated when nil:
	// sessions are process-local, so tokens from a previous run are
	// unusable regardless.
	SigningKey ed25519.PrivateKey
}

// Engine holds all mutable security state (permission cache, rate buckets,
// session registry, audit queue, lockdown sets) behind per-structure locks.
type Engine struct {
	dir       store.Directory
	guard     *session.Guard
	detector  *anomaly.Detector
	limiter   *ratelimit.Limiter
	emergency *emergency.Controller
	recorder  *audit.Recorder

	// mu guards the hot-reloadable members below.
	mu          sync.RWMutex
	resolver    *access.Resolver
	dispatcher  *alert.Dispatcher
	configHash  string
	idleTimeout time.Duration

	// streaks tracks consecutive denials per user for risk scoring.
	streakMu sync.Mutex
	streaks  map[string]int

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	runDone   chan struct{}
}

// New builds an Engine from configuration and injected stores.
func New(opts Options) (*Engine, error) {
	if opts.Directory == nil {
		return nil, errors.New("gate: directory store is required")
	}
	if opts.Recorder == nil {
		return nil, errors.New("gate: audit recorder is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	key := opts.SigningKey
	if key == nil {
		var err error
		_, key, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("gate: generate signing key: %w", err)
		}
	}

	resolver, idle, err := resolverFor(opts.Directory, cfg)
	if err != nil {
		return nil, err
	}

	guard := session.NewGuard()
	e := &Engine{
		dir:   opts.Directory,
		guard: guard,
		detector: anomaly.NewDetector(key, cfg.Session.IPSalt, guard, anomaly.Config{
			RotateAfter: cfg.Session.RotateAfter,
			TokenTTL:    cfg.Session.TokenTTL,
		}),
		limiter:     ratelimit.New(cfg.RateLimits),
		emergency:   emergency.NewController(),
		recorder:    opts.Recorder,
		resolver:    resolver,
		dispatcher:  opts.Dispatcher,
		configHash:  opts.ConfigHash,
		idleTimeout: idle,
		streaks:     make(map[string]int),
		stop:        make(chan struct{}),
	}
	return e, nil
}

func resolverFor(dir store.Directory, cfg *config.Config) (*access.Resolver, time.Duration, error) {
	defaultLevel := model.PermissionLevel("")
	if cfg.Access.DefaultMemberLevel != "" {
		lvl, err := model.ParsePermissionLevel(cfg.Access.DefaultMemberLevel)
		if err != nil {
			return nil, 0, fmt.Errorf("gate: default_member_level: %w", err)
		}
		defaultLevel = lvl
	}
	idle := cfg.Session.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	r := access.NewResolver(dir, access.ResolverConfig{
		TTL:          cfg.Access.CacheTTL,
		DefaultLevel: defaultLevel,
	})
	return r, idle, nil
}

// Reload swaps the hot-reloadable configuration: rate rules, alert
// destinations, resolver TTL and default member level (the permission cache
// is rebuilt), session idle timeout, and the config hash stamped on audit
// events. Session token parameters (TTL, rotation age, IP salt) are fixed at
// construction; changing them requires a restart.
func (e *Engine) Reload(cfg *config.Config, configHash string) error {
	if cfg == nil {
		return errors.New("gate: reload requires a config")
	}
	resolver, idle, err := resolverFor(e.dir, cfg)
	if err != nil {
		return err
	}

	e.limiter.SetRules(cfg.RateLimits)

	e.mu.Lock()
	e.resolver = resolver
	e.dispatcher = alert.NewDispatcher(cfg.Alerts)
	e.configHash = configHash
	e.idleTimeout = idle
	e.mu.Unlock()

	e.logAdmin(adminEvent{
		eventType: audit.TypeConfigReloaded,
		severity:  model.SeverityLow,
		detail:    "configuration reloaded",
	})
	return nil
}

// Start launches the background loops: audit interval flush and the
// maintenance sweep (rate buckets, expired cache entries, expired
// quarantines, token blacklist, idle sessions).
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.runDone = make(chan struct{})
		go e.run()
	})
}

func (e *Engine) run() {
	defer close(e.runDone)

	flush := time.NewTicker(e.recorder.Interval())
	defer flush.Stop()
	sweep := time.NewTicker(ratelimit.DefaultSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-flush.C:
			// A failed flush re-queues inside the recorder.
			_ = e.recorder.Flush()
		case now := <-sweep.C:
			e.sweepAt(now.UTC())
		}
	}
}

func (e *Engine) sweepAt(now time.Time) {
	e.mu.RLock()
	resolver := e.resolver
	idle := e.idleTimeout
	e.mu.RUnlock()

	e.limiter.Sweep(ratelimit.DefaultIdleEviction, now)
	resolver.PurgeExpired(now)
	e.emergency.Sweep(now)
	e.detector.SweepBlacklist(now)

	for _, s := range e.guard.EndIdle(idle, now) {
		e.logSessionClosed(s, "idle timeout", now)
	}
}

// Close stops the background loops and drains the audit queue. The engine
// must not be used after Close.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	if e.runDone != nil {
		<-e.runDone
	}
	return e.recorder.Close()
}

// Stats is a point-in-time view of in-memory state for health surfaces.
type Stats struct {
	CacheEntries    int `json:"cache_entries"`
	RateBuckets     int `json:"rate_buckets"`
	Sessions        int `json:"sessions"`
	AuditQueueDepth int `json:"audit_queue_depth"`
	Lockdowns       int `json:"lockdowns"`
	Quarantines     int `json:"quarantines"`
}

// Stats reports current in-memory state sizes.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	resolver := e.resolver
	e.mu.RUnlock()

	st := e.emergency.Snapshot(time.Now().UTC())
	return Stats{
		CacheEntries:    resolver.CacheLen(),
		RateBuckets:     e.limiter.Len(),
		Sessions:        e.guard.Len(),
		AuditQueueDepth: e.recorder.QueueDepth(),
		Lockdowns:       len(st.Lockdowns),
		Quarantines:     len(st.Quarantines),
	}
}

// RateStats exposes per-rule limiter counters for the report command.
func (e *Engine) RateStats() map[string]ratelimit.RuleStats {
	return e.limiter.Stats()
}

// ConfigHash returns the hash of the active configuration.
func (e *Engine) ConfigHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.configHash
}
