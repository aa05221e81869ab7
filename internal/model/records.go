package model

import "time"

// Membership is one workspace grant carried by a verified principal.
type Membership struct {
	WorkspaceID string   `json:"workspace_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// Principal is the identity-provider view of an authenticated caller.
// Identity verification itself happens upstream; by the time a Principal
// reaches this core it is trusted.
type Principal struct {
	UserID         string       `json:"user_id"`
	OrganizationID string       `json:"organization_id,omitempty"`
	Memberships    []Membership `json:"memberships,omitempty"`
	ExpiresAt      time.Time    `json:"expires_at"`
}

// HasMembership reports whether the principal is a member of the workspace.
func (p *Principal) HasMembership(workspaceID string) bool {
	for _, m := range p.Memberships {
		if m.WorkspaceID == workspaceID {
			return true
		}
	}
	return false
}

// AgentStatus is the lifecycle state of an agent record.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentArchived AgentStatus = "archived"
)

// AgentRecord is the persisted agent entity as read from the directory store.
type AgentRecord struct {
	ID          string      `json:"id"`
	WorkspaceID string      `json:"workspace_id"`
	CreatedBy   string      `json:"created_by"`
	Status      AgentStatus `json:"status"`
}

// WorkspaceRecord is the persisted workspace entity as read from the directory store.
type WorkspaceRecord struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
}

// EntityType scopes a permission record to a kind of entity.
type EntityType string

const (
	EntityWorkspace EntityType = "workspace"
	EntityAgent     EntityType = "agent"
)

// PermissionRecord is an explicit grant row as read from the directory store.
type PermissionRecord struct {
	UserID         string          `json:"user_id"`
	EntityType     EntityType      `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	PermissionType PermissionLevel `json:"permission_type"`
}
