package holdfast

import (
	"github.com/holdfast-sec/holdfast/internal/lifecycle"
)

// LifecycleEvent is a directory change the embedding platform forwards so
// cached permission state is invalidated. Type is one of: member_added,
// member_removed, permissions_updated, ownership_transferred,
// workspace_created, workspace_restored, workspace_archived,
// workspace_deleted.
type LifecycleEvent struct {
	Type        string
	WorkspaceID string
	// UserID names the affected member. Required for member and
	// permission events.
	UserID string
}

// LifecycleOutcome reports what an applied event changed.
type LifecycleOutcome struct {
	// PurgedWorkspace is true when every cached context for the workspace
	// was dropped.
	PurgedWorkspace bool
	// EndedSessions counts sessions closed by the event.
	EndedSessions int
}

// ApplyLifecycle forwards a directory change to the engine. Stale cache
// entries for the affected user or workspace are purged before the call
// returns; sessions ended by the event are audited.
func (c *Client) ApplyLifecycle(ev LifecycleEvent) (LifecycleOutcome, error) {
	out, err := c.engine.ApplyLifecycle(lifecycle.Event{
		Type:        lifecycle.EventType(ev.Type),
		WorkspaceID: ev.WorkspaceID,
		UserID:      ev.UserID,
	})
	if err != nil {
		return LifecycleOutcome{}, err
	}
	return LifecycleOutcome{
		PurgedWorkspace: out.PurgedWorkspace,
		EndedSessions:   len(out.EndedSessions),
	}, nil
}
