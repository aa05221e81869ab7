package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/holdfast-sec/holdfast/internal/model"
)

// Snapshot is the YAML form of a directory plus its known principals. The
// one-shot CLI check loads one to run decisions without a live backend;
// tests use it for fixtures.
type Snapshot struct {
	Workspaces  []workspaceEntry  `yaml:"workspaces"`
	Agents      []agentEntry      `yaml:"agents"`
	Permissions []permissionEntry `yaml:"permissions"`
	Users       []userEntry       `yaml:"users"`
}

type workspaceEntry struct {
	ID      string `yaml:"id"`
	OwnerID string `yaml:"owner_id"`
}

type agentEntry struct {
	ID          string `yaml:"id"`
	WorkspaceID string `yaml:"workspace_id"`
	CreatedBy   string `yaml:"created_by"`
	Status      string `yaml:"status"`
}

type permissionEntry struct {
	UserID         string `yaml:"user_id"`
	EntityType     string `yaml:"entity_type"`
	EntityID       string `yaml:"entity_id"`
	PermissionType string `yaml:"permission_type"`
}

type userEntry struct {
	UserID         string            `yaml:"user_id"`
	OrganizationID string            `yaml:"organization_id"`
	Memberships    []membershipEntry `yaml:"memberships"`
}

type membershipEntry struct {
	WorkspaceID string   `yaml:"workspace_id"`
	Role        string   `yaml:"role"`
	Permissions []string `yaml:"permissions"`
}

// LoadSnapshot reads a directory snapshot from a YAML file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: parse snapshot: %w", err)
	}
	return &snap, nil
}

// Directory builds an in-memory directory from the snapshot contents.
func (s *Snapshot) Directory() *MemoryDirectory {
	dir := NewMemoryDirectory()
	for _, w := range s.Workspaces {
		dir.PutWorkspace(model.WorkspaceRecord{ID: w.ID, OwnerID: w.OwnerID})
	}
	for _, a := range s.Agents {
		status := model.AgentStatus(a.Status)
		if status == "" {
			status = model.AgentActive
		}
		dir.PutAgent(model.AgentRecord{
			ID:          a.ID,
			WorkspaceID: a.WorkspaceID,
			CreatedBy:   a.CreatedBy,
			Status:      status,
		})
	}
	for _, p := range s.Permissions {
		dir.PutPermission(model.PermissionRecord{
			UserID:         p.UserID,
			EntityType:     model.EntityType(p.EntityType),
			EntityID:       p.EntityID,
			PermissionType: model.PermissionLevel(p.PermissionType),
		})
	}
	return dir
}

// Principal returns the snapshot's principal for a user ID, or found=false
// when the user is not listed.
func (s *Snapshot) Principal(userID string) (model.Principal, bool) {
	for _, u := range s.Users {
		if u.UserID != userID {
			continue
		}
		p := model.Principal{
			UserID:         u.UserID,
			OrganizationID: u.OrganizationID,
		}
		for _, m := range u.Memberships {
			p.Memberships = append(p.Memberships, model.Membership{
				WorkspaceID: m.WorkspaceID,
				Role:        m.Role,
				Permissions: m.Permissions,
			})
		}
		return p, true
	}
	return model.Principal{}, false
}
