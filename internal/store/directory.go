// Package store provides the directory of workspaces, agents, and explicit
// permission records that access decisions read from. The Directory
// interface abstracts the backing store; lookups distinguish "not found"
// from "store failed" because the two produce opposite decisions (deny the
// entity vs. fail the whole check closed).
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/holdfast-sec/holdfast/internal/model"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers treat it as a fail-closed condition.
var ErrUnavailable = errors.New("store: directory unavailable")

// Directory is the read interface for entity and permission lookups.
type Directory interface {
	// Workspace returns the workspace record, or found=false if no such
	// workspace exists.
	Workspace(ctx context.Context, id string) (rec model.WorkspaceRecord, found bool, err error)

	// Agent returns the agent record, or found=false if no such agent
	// exists.
	Agent(ctx context.Context, id string) (rec model.AgentRecord, found bool, err error)

	// Permission returns the explicit permission record for a user on an
	// entity, or found=false if none has been granted.
	Permission(ctx context.Context, userID string, entityType model.EntityType, entityID string) (rec model.PermissionRecord, found bool, err error)

	// AgentsIn lists agents belonging to a workspace.
	AgentsIn(ctx context.Context, workspaceID string) ([]model.AgentRecord, error)
}

type permKey struct {
	userID     string
	entityType model.EntityType
	entityID   string
}

// MemoryDirectory is an in-memory Directory used by the embedded engine,
// the one-shot CLI check, and tests. SetFailing simulates a store outage.
type MemoryDirectory struct {
	mu          sync.RWMutex
	workspaces  map[string]model.WorkspaceRecord
	agents      map[string]model.AgentRecord
	permissions map[permKey]model.PermissionRecord
	failing     bool
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		workspaces:  make(map[string]model.WorkspaceRecord),
		agents:      make(map[string]model.AgentRecord),
		permissions: make(map[permKey]model.PermissionRecord),
	}
}

// PutWorkspace inserts or replaces a workspace record.
func (d *MemoryDirectory) PutWorkspace(rec model.WorkspaceRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workspaces[rec.ID] = rec
}

// PutAgent inserts or replaces an agent record.
func (d *MemoryDirectory) PutAgent(rec model.AgentRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[rec.ID] = rec
}

// PutPermission inserts or replaces an explicit permission record.
func (d *MemoryDirectory) PutPermission(rec model.PermissionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permissions[permKey{rec.UserID, rec.EntityType, rec.EntityID}] = rec
}

// DeletePermission removes an explicit permission record if present.
func (d *MemoryDirectory) DeletePermission(userID string, entityType model.EntityType, entityID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.permissions, permKey{userID, entityType, entityID})
}

// DeleteAgent removes an agent record if present.
func (d *MemoryDirectory) DeleteAgent(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, id)
}

// SetFailing toggles simulated store outage. While failing, every lookup
// returns ErrUnavailable.
func (d *MemoryDirectory) SetFailing(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = v
}

func (d *MemoryDirectory) Workspace(_ context.Context, id string) (model.WorkspaceRecord, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failing {
		return model.WorkspaceRecord{}, false, ErrUnavailable
	}
	rec, ok := d.workspaces[id]
	return rec, ok, nil
}

func (d *MemoryDirectory) Agent(_ context.Context, id string) (model.AgentRecord, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failing {
		return model.AgentRecord{}, false, ErrUnavailable
	}
	rec, ok := d.agents[id]
	return rec, ok, nil
}

func (d *MemoryDirectory) Permission(_ context.Context, userID string, entityType model.EntityType, entityID string) (model.PermissionRecord, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failing {
		return model.PermissionRecord{}, false, ErrUnavailable
	}
	rec, ok := d.permissions[permKey{userID, entityType, entityID}]
	return rec, ok, nil
}

func (d *MemoryDirectory) AgentsIn(_ context.Context, workspaceID string) ([]model.AgentRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failing {
		return nil, ErrUnavailable
	}
	var out []model.AgentRecord
	for _, rec := range d.agents {
		if rec.WorkspaceID == workspaceID {
			out = append(out, rec)
		}
	}
	return out, nil
}
