// Package lifecycle routes directory-change events from the identity
// provider to the in-memory state they invalidate. Purges are targeted:
// member and permission events touch only the (user, workspace) pair they
// name; ownership transfer, archival, and deletion drop every cached
// context for the workspace.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/session"
)

// EventType names a directory change relevant to cached permission state.
type EventType string

const (
	MemberAdded          EventType = "member_added"
	MemberRemoved        EventType = "member_removed"
	PermissionsUpdated   EventType = "permissions_updated"
	OwnershipTransferred EventType = "ownership_transferred"
	WorkspaceCreated     EventType = "workspace_created"
	WorkspaceRestored    EventType = "workspace_restored"
	WorkspaceArchived    EventType = "workspace_archived"
	WorkspaceDeleted     EventType = "workspace_deleted"
)

// Event is one directory change notification.
type Event struct {
	Type        EventType `json:"type"`
	WorkspaceID string    `json:"workspace_id"`
	// UserID names the affected member. Required only for member and
	// permission events.
	UserID string `json:"user_id,omitempty"`
}

// Validate rejects malformed events before they reach any cache.
func (e Event) Validate() error {
	switch e.Type {
	case MemberAdded, MemberRemoved, PermissionsUpdated:
		if e.UserID == "" {
			return fmt.Errorf("lifecycle: %s event requires user_id", e.Type)
		}
	case OwnershipTransferred, WorkspaceCreated, WorkspaceRestored,
		WorkspaceArchived, WorkspaceDeleted:
	default:
		return fmt.Errorf("lifecycle: unknown event type %q", e.Type)
	}
	if e.WorkspaceID == "" {
		return fmt.Errorf("lifecycle: event requires workspace_id")
	}
	return nil
}

// Outcome reports what an applied event changed, for auditing.
type Outcome struct {
	// PurgedWorkspace is set when every cached context for the workspace
	// was dropped.
	PurgedWorkspace bool
	// EndedSessions holds sessions closed because their user lost
	// membership.
	EndedSessions []session.Session
}

// Apply performs the invalidations an event demands. The caller audits the
// outcome; Apply itself writes nothing.
func Apply(ev Event, resolver *access.Resolver, guard *session.Guard, now time.Time) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	switch ev.Type {
	case MemberAdded, PermissionsUpdated:
		resolver.Invalidate(ev.UserID, ev.WorkspaceID)
	case MemberRemoved:
		resolver.Invalidate(ev.UserID, ev.WorkspaceID)
		out.EndedSessions = guard.EndAllForUser(ev.WorkspaceID, ev.UserID, now)
	case OwnershipTransferred:
		resolver.InvalidateWorkspace(ev.WorkspaceID)
		out.PurgedWorkspace = true
	case WorkspaceArchived, WorkspaceDeleted:
		resolver.InvalidateWorkspace(ev.WorkspaceID)
		out.PurgedWorkspace = true
		out.EndedSessions = guard.EndAllForWorkspace(ev.WorkspaceID, now)
	case WorkspaceCreated, WorkspaceRestored:
		// Nothing is cached for a workspace before its first resolution.
	}
	return out, nil
}
