package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/holdfast-sec/holdfast/internal/model"
)

// --- directory tests ---

func TestMemoryDirectoryLookups(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutWorkspace(model.WorkspaceRecord{ID: "ws-1", OwnerID: "user-1"})
	dir.PutAgent(model.AgentRecord{ID: "agent-1", WorkspaceID: "ws-1", CreatedBy: "user-2", Status: model.AgentActive})
	dir.PutPermission(model.PermissionRecord{
		UserID: "user-3", EntityType: model.EntityAgent, EntityID: "agent-1",
		PermissionType: model.PermissionWrite,
	})

	ctx := context.Background()

	ws, found, err := dir.Workspace(ctx, "ws-1")
	if err != nil || !found {
		t.Fatalf("Workspace = found %v, err %v", found, err)
	}
	if ws.OwnerID != "user-1" {
		t.Errorf("OwnerID = %q", ws.OwnerID)
	}

	if _, found, _ := dir.Workspace(ctx, "ws-missing"); found {
		t.Error("missing workspace reported as found")
	}

	agent, found, err := dir.Agent(ctx, "agent-1")
	if err != nil || !found {
		t.Fatalf("Agent = found %v, err %v", found, err)
	}
	if agent.WorkspaceID != "ws-1" {
		t.Errorf("agent WorkspaceID = %q", agent.WorkspaceID)
	}

	perm, found, err := dir.Permission(ctx, "user-3", model.EntityAgent, "agent-1")
	if err != nil || !found {
		t.Fatalf("Permission = found %v, err %v", found, err)
	}
	if perm.PermissionType != model.PermissionWrite {
		t.Errorf("PermissionType = %q", perm.PermissionType)
	}

	if _, found, _ := dir.Permission(ctx, "user-3", model.EntityWorkspace, "agent-1"); found {
		t.Error("permission found under wrong entity type")
	}
}

func TestMemoryDirectoryFailingMode(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutWorkspace(model.WorkspaceRecord{ID: "ws-1", OwnerID: "user-1"})
	dir.SetFailing(true)

	ctx := context.Background()

	if _, _, err := dir.Workspace(ctx, "ws-1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Workspace during outage = %v, want ErrUnavailable", err)
	}
	if _, _, err := dir.Agent(ctx, "agent-1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Agent during outage = %v, want ErrUnavailable", err)
	}
	if _, _, err := dir.Permission(ctx, "u", model.EntityAgent, "a"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Permission during outage = %v, want ErrUnavailable", err)
	}

	dir.SetFailing(false)
	if _, found, err := dir.Workspace(ctx, "ws-1"); err != nil || !found {
		t.Errorf("Workspace after recovery = found %v, err %v", found, err)
	}
}

func TestAgentsInFiltersByWorkspace(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutAgent(model.AgentRecord{ID: "agent-1", WorkspaceID: "ws-1"})
	dir.PutAgent(model.AgentRecord{ID: "agent-2", WorkspaceID: "ws-1"})
	dir.PutAgent(model.AgentRecord{ID: "agent-3", WorkspaceID: "ws-2"})

	agents, err := dir.AgentsIn(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("AgentsIn: %v", err)
	}
	if len(agents) != 2 {
		t.Errorf("got %d agents, want 2", len(agents))
	}
	for _, a := range agents {
		if a.WorkspaceID != "ws-1" {
			t.Errorf("agent %s from workspace %s leaked", a.ID, a.WorkspaceID)
		}
	}
}

// --- snapshot tests ---

const snapshotYAML = `
workspaces:
  - id: ws-1
    owner_id: user-1
agents:
  - id: agent-1
    workspace_id: ws-1
    created_by: user-2
permissions:
  - user_id: user-3
    entity_type: agent
    entity_id: agent-1
    permission_type: write
users:
  - user_id: user-3
    organization_id: org-1
    memberships:
      - workspace_id: ws-1
        role: member
`

func TestLoadSnapshotBuildsDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir.yaml")
	if err := os.WriteFile(path, []byte(snapshotYAML), 0600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	dir := snap.Directory()
	ctx := context.Background()

	ws, found, err := dir.Workspace(ctx, "ws-1")
	if err != nil || !found {
		t.Fatalf("Workspace = found %v, err %v", found, err)
	}
	if ws.OwnerID != "user-1" {
		t.Errorf("OwnerID = %q", ws.OwnerID)
	}

	agent, found, _ := dir.Agent(ctx, "agent-1")
	if !found {
		t.Fatal("agent-1 not found")
	}
	if agent.Status != model.AgentActive {
		t.Errorf("default status = %q, want active", agent.Status)
	}

	perm, found, _ := dir.Permission(ctx, "user-3", model.EntityAgent, "agent-1")
	if !found {
		t.Fatal("permission not found")
	}
	if perm.PermissionType != model.PermissionWrite {
		t.Errorf("PermissionType = %q", perm.PermissionType)
	}
}

func TestSnapshotPrincipal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir.yaml")
	if err := os.WriteFile(path, []byte(snapshotYAML), 0600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	p, found := snap.Principal("user-3")
	if !found {
		t.Fatal("user-3 not found")
	}
	if !p.HasMembership("ws-1") {
		t.Error("user-3 should be a member of ws-1")
	}

	if _, found := snap.Principal("user-x"); found {
		t.Error("unknown user reported as found")
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadSnapshot of missing file should error")
	}
}

func TestLoadSnapshotBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("workspaces: {not: [valid"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSnapshot(path); err == nil {
		t.Error("LoadSnapshot of invalid YAML should error")
	}
}
