// Package access resolves a principal's effective permission level for a
// workspace and derives per-agent access levels from it. The resolver owns
// the permission cache; evaluators hold only the short-lived contexts it
// returns and never persist cross-tenant references.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/store"
)

// DefaultCacheTTL bounds how long a resolved permission context is served
// without consulting the directory again.
const DefaultCacheTTL = 10 * time.Minute

// ErrNotMember is returned when the principal has no membership for the
// requested workspace. Denials are never cached.
var ErrNotMember = errors.New("access: principal is not a member of the workspace")

// PermissionContext is a resolved, cacheable view of one user's standing in
// one workspace.
type PermissionContext struct {
	UserID         string                `json:"user_id"`
	WorkspaceID    string                `json:"workspace_id"`
	OrganizationID string                `json:"organization_id,omitempty"`
	Level          model.PermissionLevel `json:"permission_level"`
	IsOwner        bool                  `json:"is_owner"`
	CachedAt       time.Time             `json:"cached_at"`
}

// ResolverConfig tunes the permission cache.
type ResolverConfig struct {
	// TTL is how long a cached context stays valid.
	TTL time.Duration
	// DefaultLevel is the permission granted to a member with no explicit
	// record and no ownership. The historical default is read.
	DefaultLevel model.PermissionLevel
}

func (c ResolverConfig) withDefaults() ResolverConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultCacheTTL
	}
	if c.DefaultLevel == "" {
		c.DefaultLevel = model.PermissionRead
	}
	return c
}

type cacheKey struct {
	userID      string
	workspaceID string
}

// Resolver resolves permission contexts against the directory and caches
// them per (user, workspace).
type Resolver struct {
	dir store.Directory
	cfg ResolverConfig

	mu    sync.RWMutex
	cache map[cacheKey]PermissionContext
}

// NewResolver creates a resolver over the given directory.
func NewResolver(dir store.Directory, cfg ResolverConfig) *Resolver {
	return &Resolver{
		dir:   dir,
		cfg:   cfg.withDefaults(),
		cache: make(map[cacheKey]PermissionContext),
	}
}

// Resolve returns the principal's permission context for the workspace.
// Precedence: workspace owner, then explicit permission record, then the
// configured default level. Non-members get ErrNotMember with nothing
// cached. Directory failures propagate (callers fail closed); concurrent
// misses may fetch twice, last write wins.
func (r *Resolver) Resolve(ctx context.Context, principal *model.Principal, workspaceID string, now time.Time) (PermissionContext, error) {
	if !principal.HasMembership(workspaceID) {
		return PermissionContext{}, ErrNotMember
	}

	key := cacheKey{principal.UserID, workspaceID}

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && now.Sub(cached.CachedAt) < r.cfg.TTL {
		return cached, nil
	}

	// Directory I/O happens outside the lock.
	resolved, err := r.fetch(ctx, principal, workspaceID, now)
	if err != nil {
		return PermissionContext{}, err
	}

	r.mu.Lock()
	r.cache[key] = resolved
	r.mu.Unlock()

	return resolved, nil
}

func (r *Resolver) fetch(ctx context.Context, principal *model.Principal, workspaceID string, now time.Time) (PermissionContext, error) {
	pctx := PermissionContext{
		UserID:         principal.UserID,
		WorkspaceID:    workspaceID,
		OrganizationID: principal.OrganizationID,
		CachedAt:       now,
	}

	ws, found, err := r.dir.Workspace(ctx, workspaceID)
	if err != nil {
		return PermissionContext{}, fmt.Errorf("access: resolve workspace %s: %w", workspaceID, err)
	}
	if found && ws.OwnerID == principal.UserID {
		pctx.Level = model.PermissionAdmin
		pctx.IsOwner = true
		return pctx, nil
	}

	rec, found, err := r.dir.Permission(ctx, principal.UserID, model.EntityWorkspace, workspaceID)
	if err != nil {
		return PermissionContext{}, fmt.Errorf("access: resolve permission for %s in %s: %w", principal.UserID, workspaceID, err)
	}
	if found {
		pctx.Level = rec.PermissionType
		return pctx, nil
	}

	pctx.Level = r.cfg.DefaultLevel
	return pctx, nil
}

// Invalidate drops the cached context for one (user, workspace) pair.
func (r *Resolver) Invalidate(userID, workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey{userID, workspaceID})
}

// InvalidateWorkspace drops every cached context for a workspace. Used on
// ownership transfer, where any user's standing may have changed.
func (r *Resolver) InvalidateWorkspace(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.workspaceID == workspaceID {
			delete(r.cache, key)
		}
	}
}

// PurgeExpired removes contexts past their TTL and returns the number
// removed. Called by the engine's cache sweeper.
func (r *Resolver) PurgeExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, pctx := range r.cache {
		if now.Sub(pctx.CachedAt) >= r.cfg.TTL {
			delete(r.cache, key)
			removed++
		}
	}
	return removed
}

// CacheLen returns the number of cached contexts.
func (r *Resolver) CacheLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
