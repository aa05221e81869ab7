package holdfast

import (
	"encoding/json"
	"net"
	"net/http"
)

// Identity headers the middleware reads. The fronting service authenticates
// the caller and stamps these; holdfast decides what the caller may do.
const (
	HeaderUser      = "X-Holdfast-User"
	HeaderWorkspace = "X-Holdfast-Workspace"
	HeaderAgent     = "X-Holdfast-Agent"
)

// Middleware returns an http.Handler that evaluates an access decision on
// each request before passing to the next handler. Requests without
// identity headers receive a 401; denied requests receive a 403 with a
// JSON body.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := requestFromHTTP(r)

		if req.UserID == "" || req.WorkspaceID == "" {
			writeBlocked(w, http.StatusUnauthorized, "validation_failed", "missing identity headers")
			return
		}

		result := c.Authorize(r.Context(), req)
		if !result.Allowed {
			writeBlocked(w, http.StatusForbidden, result.Reason, result.Detail)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeBlocked(w http.ResponseWriter, status int, reason, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"blocked": true,
		"reason":  reason,
		"detail":  detail,
	})
}

// requestFromHTTP maps an HTTP request to an SDK Request. The operation
// follows the method: reads are views, deletes are deletes, writes interact.
func requestFromHTTP(r *http.Request) Request {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	req := Request{
		UserID:      r.Header.Get(HeaderUser),
		WorkspaceID: r.Header.Get(HeaderWorkspace),
		AgentID:     r.Header.Get(HeaderAgent),
		IP:          ip,
	}

	if req.AgentID != "" {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			req.Operation = "view"
		case http.MethodDelete:
			req.Operation = "delete"
		default:
			req.Operation = "interact"
		}
	}
	return req
}
