// Package emergency implements workspace lockdown and per-user quarantine.
// Every decision path consults Check before running its own logic; an active
// block denies unconditionally, regardless of computed access levels.
package emergency

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// BlockKind distinguishes the two override shapes in audit records.
type BlockKind string

const (
	KindLockdown   BlockKind = "lockdown"
	KindQuarantine BlockKind = "quarantine"
)

// Lockdown is a workspace-wide override: all users, all operations.
type Lockdown struct {
	WorkspaceID string    `json:"workspace_id"`
	Reason      string    `json:"reason"`
	Actor       string    `json:"actor"`
	SetAt       time.Time `json:"set_at"`
}

// Quarantine blocks one user within one workspace until it expires or is
// lifted. A zero ExpiresAt means indefinite.
type Quarantine struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Reason      string    `json:"reason"`
	Actor       string    `json:"actor"`
	SetAt       time.Time `json:"set_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (q Quarantine) expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

// Block describes why a check was overridden.
type Block struct {
	Kind   BlockKind `json:"kind"`
	Reason string    `json:"reason"`
	SetAt  time.Time `json:"set_at"`
}

type qKey struct {
	workspaceID string
	userID      string
}

// Controller holds the live lockdown and quarantine sets.
type Controller struct {
	mu          sync.RWMutex
	lockdowns   map[string]Lockdown
	quarantines map[qKey]Quarantine
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{
		lockdowns:   make(map[string]Lockdown),
		quarantines: make(map[qKey]Quarantine),
	}
}

// Lockdown puts a workspace into lockdown. Reason and actor are mandatory;
// re-locking an already locked workspace replaces the record.
func (c *Controller) Lockdown(workspaceID, reason, actor string, now time.Time) (Lockdown, error) {
	if strings.TrimSpace(reason) == "" {
		return Lockdown{}, fmt.Errorf("emergency: lockdown reason is required")
	}
	if strings.TrimSpace(actor) == "" {
		return Lockdown{}, fmt.Errorf("emergency: lockdown actor is required")
	}

	ld := Lockdown{
		WorkspaceID: workspaceID,
		Reason:      reason,
		Actor:       actor,
		SetAt:       now,
	}

	c.mu.Lock()
	c.lockdowns[workspaceID] = ld
	c.mu.Unlock()
	return ld, nil
}

// LiftLockdown removes a workspace lockdown and returns the lifted record
// for auditing. found is false when the workspace was not locked.
func (c *Controller) LiftLockdown(workspaceID string) (Lockdown, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ld, ok := c.lockdowns[workspaceID]
	if ok {
		delete(c.lockdowns, workspaceID)
	}
	return ld, ok
}

// Quarantine blocks a user within a workspace. duration <= 0 means until
// explicitly lifted.
func (c *Controller) Quarantine(workspaceID, userID, reason, actor string, duration time.Duration, now time.Time) (Quarantine, error) {
	if strings.TrimSpace(reason) == "" {
		return Quarantine{}, fmt.Errorf("emergency: quarantine reason is required")
	}
	if strings.TrimSpace(actor) == "" {
		return Quarantine{}, fmt.Errorf("emergency: quarantine actor is required")
	}

	q := Quarantine{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Reason:      reason,
		Actor:       actor,
		SetAt:       now,
	}
	if duration > 0 {
		q.ExpiresAt = now.Add(duration)
	}

	c.mu.Lock()
	c.quarantines[qKey{workspaceID, userID}] = q
	c.mu.Unlock()
	return q, nil
}

// LiftQuarantine removes a quarantine and returns the lifted record.
func (c *Controller) LiftQuarantine(workspaceID, userID string) (Quarantine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := qKey{workspaceID, userID}
	q, ok := c.quarantines[key]
	if ok {
		delete(c.quarantines, key)
	}
	return q, ok
}

// Check reports whether the (workspace, user) pair is blocked right now.
// Lockdown dominates quarantine. Expired quarantines do not block; Sweep
// removes them. Check is read-only so a concurrent lockdown set is visible
// to in-flight requests the moment it lands.
func (c *Controller) Check(workspaceID, userID string, now time.Time) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if ld, ok := c.lockdowns[workspaceID]; ok {
		return Block{Kind: KindLockdown, Reason: ld.Reason, SetAt: ld.SetAt}, true
	}
	if q, ok := c.quarantines[qKey{workspaceID, userID}]; ok && !q.expired(now) {
		return Block{Kind: KindQuarantine, Reason: q.Reason, SetAt: q.SetAt}, true
	}
	return Block{}, false
}

// Locked reports whether a workspace is under lockdown.
func (c *Controller) Locked(workspaceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.lockdowns[workspaceID]
	return ok
}

// Sweep removes expired quarantines and returns the number removed.
func (c *Controller) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, q := range c.quarantines {
		if q.expired(now) {
			delete(c.quarantines, key)
			removed++
		}
	}
	return removed
}

// State is a point-in-time view of active overrides for status surfaces.
type State struct {
	Lockdowns   []Lockdown   `json:"lockdowns"`
	Quarantines []Quarantine `json:"quarantines"`
}

// Snapshot returns the active overrides, excluding expired quarantines.
func (c *Controller) Snapshot(now time.Time) State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var st State
	for _, ld := range c.lockdowns {
		st.Lockdowns = append(st.Lockdowns, ld)
	}
	for _, q := range c.quarantines {
		if !q.expired(now) {
			st.Quarantines = append(st.Quarantines, q)
		}
	}
	return st
}
