package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/gate"
	"github.com/holdfast-sec/holdfast/internal/lifecycle"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/session"
	"github.com/holdfast-sec/holdfast/internal/token"
)

// maxBodyBytes bounds request bodies; decision and admin payloads are tiny.
const maxBodyBytes = 1 << 20

func (s *Server) principal(userID string) *model.Principal {
	if s.identity != nil {
		if p, ok := s.identity.Principal(userID); ok {
			return &p
		}
	}
	return &model.Principal{UserID: userID}
}

// securityContext captures the continuity dimensions session tokens bind to.
func securityContext(r *http.Request) token.SecurityContext {
	return token.SecurityContext{
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		Timezone:       r.Header.Get("X-Timezone"),
		IP:             clientIP(r),
	}
}

// clientIP prefers the edge-forwarded address; the facade itself sits one
// hop behind the platform edge.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		if i := strings.IndexByte(xf, ','); i >= 0 {
			return strings.TrimSpace(xf[:i])
		}
		return strings.TrimSpace(xf)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRateHeaders mirrors the decision's rate metadata into the standard
// headers, on grants and denials alike.
func writeRateHeaders(w http.ResponseWriter, d model.Decision) {
	rl := d.RateLimit
	if rl == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
	if rl.RetryAfter > 0 {
		secs := int((rl.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}

// statusFor maps a denial onto the transport. Resource endpoints use it;
// the decision endpoint answers 200 for any evaluated decision.
func statusFor(d model.Decision) int {
	if d.Allowed {
		return http.StatusOK
	}
	switch d.ReasonCode {
	case model.ReasonValidation:
		return http.StatusBadRequest
	case model.ReasonRateLimited:
		return http.StatusTooManyRequests
	case model.ReasonSessionNotFound, model.ReasonAgentNotFound:
		return http.StatusNotFound
	case model.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

// --- decision ---

type decisionRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	AgentID     string `json:"agent_id,omitempty"`
	Operation   string `json:"operation,omitempty"`
}

// handleDecision evaluates one access decision. The decision itself is the
// resource: denials are well-formed 200 responses, only transport problems
// surface as errors.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := s.principal(req.UserID)
	ip := clientIP(r)

	var d model.Decision
	switch {
	case req.Operation == "" && req.AgentID == "":
		d = s.engine.AuthorizeWorkspace(r.Context(), p, req.WorkspaceID, ip)
	case req.Operation == "":
		d = s.engine.AuthorizeAgent(r.Context(), p, req.WorkspaceID, req.AgentID, access.OpView, ip)
	default:
		op, ok := access.ParseOperation(req.Operation)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown operation "+strconv.Quote(req.Operation))
			return
		}
		d = s.engine.AuthorizeAgent(r.Context(), p, req.WorkspaceID, req.AgentID, op, ip)
	}

	writeRateHeaders(w, d)
	writeJSON(w, http.StatusOK, d)
}

// --- sessions ---

type createSessionRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	AgentID     string `json:"agent_id"`
}

type sessionResponse struct {
	Decision model.Decision   `json:"decision"`
	Session  *session.Session `json:"session,omitempty"`
	Token    string           `json:"token,omitempty"`
	Rotated  bool             `json:"rotated,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sec := securityContext(r)
	sess, raw, d := s.engine.CreateSession(r.Context(), s.principal(req.UserID), req.WorkspaceID, req.AgentID, sec)
	writeRateHeaders(w, d)
	if !d.Allowed {
		writeJSON(w, statusFor(d), sessionResponse{Decision: d})
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		Decision: d,
		Session:  &sess,
		Token:    base64.StdEncoding.EncodeToString(raw),
	})
}

type validateSessionRequest struct {
	Token       string `json:"token"`
	WorkspaceID string `json:"workspace_id"`
}

func (s *Server) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	var req validateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token is not valid base64")
		return
	}
	res := s.engine.ValidateSession(raw, req.WorkspaceID, securityContext(r))
	writeRateHeaders(w, res.Decision)

	resp := sessionResponse{Decision: res.Decision, Rotated: res.Rotated}
	if res.Decision.Allowed {
		resp.Session = &res.Session
		if res.Rotated {
			resp.Token = base64.StdEncoding.EncodeToString(res.Token)
		}
	}
	writeJSON(w, statusFor(res.Decision), resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, d := s.engine.GetSession(r.Context(), s.principal(q.Get("user_id")), q.Get("workspace_id"), r.PathValue("id"), clientIP(r))
	writeRateHeaders(w, d)
	if !d.Allowed {
		writeJSON(w, statusFor(d), sessionResponse{Decision: d})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Decision: d, Session: &sess})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d := s.engine.EndSession(r.Context(), s.principal(q.Get("user_id")), q.Get("workspace_id"), r.PathValue("id"), clientIP(r))
	writeRateHeaders(w, d)
	writeJSON(w, statusFor(d), sessionResponse{Decision: d})
}

type historyResponse struct {
	Decision model.Decision    `json:"decision"`
	Messages []session.Message `json:"messages"`
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msgs, d := s.engine.SessionHistory(r.Context(), s.principal(q.Get("user_id")), q.Get("workspace_id"), r.PathValue("id"), clientIP(r))
	writeRateHeaders(w, d)
	if !d.Allowed {
		writeJSON(w, statusFor(d), historyResponse{Decision: d})
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Decision: d, Messages: msgs})
}

type appendMessageRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
}

type messageResponse struct {
	Decision model.Decision   `json:"decision"`
	Message  *session.Message `json:"message,omitempty"`
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, d := s.engine.AppendMessage(r.Context(), s.principal(req.UserID), req.WorkspaceID, r.PathValue("id"), req.Role, req.Content, clientIP(r))
	writeRateHeaders(w, d)
	if !d.Allowed {
		writeJSON(w, statusFor(d), messageResponse{Decision: d})
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Decision: d, Message: &msg})
}

// --- audit query ---

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if s.auditDB == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Types:       q["type"],
		WorkspaceID: q.Get("workspace_id"),
		UserID:      q.Get("user_id"),
		SessionID:   q.Get("session_id"),
	}
	if v := q.Get("min_severity"); v != "" {
		sev, err := model.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.MinSeverity = sev
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from: "+err.Error())
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to: "+err.Error())
			return
		}
		filter.To = t
	}
	filter.OverridesOnly = q.Get("overrides_only") == "true"
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	events, err := s.auditDB.Query(filter)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// --- lifecycle ---

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var ev lifecycle.Event
	if !decodeJSON(w, r, &ev) {
		return
	}
	out, err := s.engine.ApplyLifecycle(ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"purged_workspace": out.PurgedWorkspace,
		"ended_sessions":   len(out.EndedSessions),
	})
}

// --- emergency ---

type lockdownRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Reason      string `json:"reason,omitempty"`
	Actor       string `json:"actor"`
}

func (s *Server) handleLockdown(w http.ResponseWriter, r *http.Request) {
	var req lockdownRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.Lockdown(req.WorkspaceID, req.Reason, req.Actor); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "lockdown set", "workspace_id": req.WorkspaceID})
}

func (s *Server) handleLiftLockdown(w http.ResponseWriter, r *http.Request) {
	var req lockdownRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.engine.LiftLockdown(req.WorkspaceID, req.Actor)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "lockdown lifted", "workspace_id": req.WorkspaceID})
	case errors.Is(err, gate.ErrNoActiveLockdown):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

type quarantineRequest struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Reason      string `json:"reason,omitempty"`
	Actor       string `json:"actor"`
	// Duration is a Go duration string; empty or "0" quarantines until
	// explicitly lifted.
	Duration string `json:"duration,omitempty"`
}

func (s *Server) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	var req quarantineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var dur time.Duration
	if req.Duration != "" {
		var err error
		dur, err = time.ParseDuration(req.Duration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "duration: "+err.Error())
			return
		}
	}
	if err := s.engine.Quarantine(req.WorkspaceID, req.UserID, req.Reason, req.Actor, dur); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "quarantine set", "workspace_id": req.WorkspaceID, "user_id": req.UserID})
}

func (s *Server) handleLiftQuarantine(w http.ResponseWriter, r *http.Request) {
	var req quarantineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.engine.LiftQuarantine(req.WorkspaceID, req.UserID, req.Actor)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "quarantine lifted", "workspace_id": req.WorkspaceID, "user_id": req.UserID})
	case errors.Is(err, gate.ErrNoActiveQuarantine):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleEmergencyState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.EmergencyState())
}

// --- health ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"config_hash": s.engine.ConfigHash(),
		"stats":       s.engine.Stats(),
	})
}
