// Package session implements the isolation guard for conversation sessions.
// Every read and write is keyed by (session_id, workspace_id) together; the
// registry map itself is compound-keyed, so a lookup that names the wrong
// workspace is structurally a miss, never a leak.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/holdfast-sec/holdfast/internal/model"
)

// Status is the lifecycle state of a session. Revoked is terminal: a revoked
// session never transitions back to active or ended.
type Status string

const (
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusRevoked Status = "revoked"
)

// Session is one isolated conversation session. WorkspaceID is immutable
// after creation.
type Session struct {
	ID           string    `json:"session_id"`
	AgentID      string    `json:"agent_id"`
	WorkspaceID  string    `json:"workspace_id"`
	UserID       string    `json:"user_id"`
	Boundary     string    `json:"isolation_boundary"`
	Status       Status    `json:"status"`
	TokenID      string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	EndedAt      time.Time `json:"ended_at"`
}

// Message is one conversation history entry, stored under the same compound
// key as its session.
type Message struct {
	SessionID   string    `json:"session_id"`
	WorkspaceID string    `json:"workspace_id"`
	Seq         int       `json:"seq"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

type key struct {
	sessionID   string
	workspaceID string
}

// Guard is the compound-keyed session registry.
type Guard struct {
	mu       sync.RWMutex
	sessions map[key]*Session
	history  map[key][]Message
}

// NewGuard creates an empty session registry.
func NewGuard() *Guard {
	return &Guard{
		sessions: make(map[key]*Session),
		history:  make(map[key][]Message),
	}
}

// Create registers a new active session after validating that the agent is
// persisted under the requested workspace. A mismatch is a structural
// cross-tenant violation (model.ErrWorkspaceMismatch), never retryable.
// Access-level checks happen in the caller before Create.
func (g *Guard) Create(agent model.AgentRecord, workspaceID, userID string, now time.Time) (Session, error) {
	if agent.WorkspaceID != workspaceID {
		return Session{}, model.ErrWorkspaceMismatch
	}

	s := &Session{
		ID:           newSessionID(),
		AgentID:      agent.ID,
		WorkspaceID:  workspaceID,
		UserID:       userID,
		Boundary:     boundaryTag(workspaceID, userID, now),
		Status:       StatusActive,
		CreatedAt:    now,
		LastActivity: now,
	}

	g.mu.Lock()
	g.sessions[key{s.ID, workspaceID}] = s
	g.mu.Unlock()

	return *s, nil
}

// Get returns the session for the compound key. A session that exists under
// a different workspace reports not-found.
func (g *Guard) Get(sessionID, workspaceID string) (Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[key{sessionID, workspaceID}]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Touch advances the session's last-activity time. Only active sessions are
// touched.
func (g *Guard) Touch(sessionID, workspaceID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key{sessionID, workspaceID}]
	if !ok || s.Status != StatusActive {
		return false
	}
	s.LastActivity = now
	return true
}

// SetTokenID binds the session to its current token, replacing any previous
// binding (rotation).
func (g *Guard) SetTokenID(sessionID, workspaceID, tokenID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key{sessionID, workspaceID}]
	if !ok {
		return false
	}
	s.TokenID = tokenID
	return true
}

// End closes an active session. Ending an already-ended session is a no-op
// that still reports the record; a revoked session stays revoked.
func (g *Guard) End(sessionID, workspaceID string, now time.Time) (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key{sessionID, workspaceID}]
	if !ok {
		return Session{}, false
	}
	if s.Status == StatusActive {
		s.Status = StatusEnded
		s.EndedAt = now
	}
	return *s, true
}

// Revoke moves the session to the terminal revoked status from any state.
func (g *Guard) Revoke(sessionID, workspaceID string, now time.Time) (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key{sessionID, workspaceID}]
	if !ok {
		return Session{}, false
	}
	if s.Status != StatusRevoked {
		s.Status = StatusRevoked
		s.EndedAt = now
	}
	return *s, true
}

// AppendMessage adds a history entry to an active session. Absent and
// non-active sessions both report false.
func (g *Guard) AppendMessage(sessionID, workspaceID, role, content string, now time.Time) (Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key{sessionID, workspaceID}
	s, ok := g.sessions[k]
	if !ok || s.Status != StatusActive {
		return Message{}, false
	}

	msg := Message{
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Seq:         len(g.history[k]) + 1,
		Role:        role,
		Content:     content,
		CreatedAt:   now,
	}
	g.history[k] = append(g.history[k], msg)
	s.LastActivity = now
	return msg, true
}

// History returns the conversation history under the compound key. The
// same filter applies as Get: a foreign workspace sees not-found.
func (g *Guard) History(sessionID, workspaceID string) ([]Message, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	k := key{sessionID, workspaceID}
	if _, ok := g.sessions[k]; !ok {
		return nil, false
	}
	msgs := g.history[k]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, true
}

// ListWorkspace returns every session in a workspace, any status.
func (g *Guard) ListWorkspace(workspaceID string) []Session {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Session
	for k, s := range g.sessions {
		if k.workspaceID == workspaceID {
			out = append(out, *s)
		}
	}
	return out
}

// EndIdle ends active sessions with no activity since the cutoff and
// returns the ended records for auditing.
func (g *Guard) EndIdle(idleFor time.Duration, now time.Time) []Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-idleFor)
	var ended []Session
	for _, s := range g.sessions {
		if s.Status == StatusActive && s.LastActivity.Before(cutoff) {
			s.Status = StatusEnded
			s.EndedAt = now
			ended = append(ended, *s)
		}
	}
	return ended
}

// EndAllForUser ends the user's active sessions in a workspace (member
// removal, quarantine) and returns the ended records.
func (g *Guard) EndAllForUser(workspaceID, userID string, now time.Time) []Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ended []Session
	for k, s := range g.sessions {
		if k.workspaceID == workspaceID && s.UserID == userID && s.Status == StatusActive {
			s.Status = StatusEnded
			s.EndedAt = now
			ended = append(ended, *s)
		}
	}
	return ended
}

// EndAllForWorkspace ends every active session in a workspace (deletion,
// archival) and returns the ended records.
func (g *Guard) EndAllForWorkspace(workspaceID string, now time.Time) []Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ended []Session
	for k, s := range g.sessions {
		if k.workspaceID == workspaceID && s.Status == StatusActive {
			s.Status = StatusEnded
			s.EndedAt = now
			ended = append(ended, *s)
		}
	}
	return ended
}

// Len returns the number of registered sessions, any status.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

func newSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sess-%x", time.Now().UnixNano())
	}
	return "sess-" + hex.EncodeToString(b)
}

// boundaryTag is an audit-correlation tag, not a security token. It hashes
// the isolation context a session was created under.
func boundaryTag(workspaceID, userID string, createdAt time.Time) string {
	h := sha256.Sum256([]byte(workspaceID + "\n" + userID + "\n" + createdAt.UTC().Format(time.RFC3339Nano)))
	return "sha256:" + hex.EncodeToString(h[:16])
}
