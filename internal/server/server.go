// Package server exposes the gate engine as a JSON-over-HTTP facade for
// platform controllers that do not embed it in-process. The facade trusts
// its caller: requests assert a user_id and the identity snapshot supplies
// the memberships, so the listener must stay on loopback or behind an
// authenticating edge.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/gate"
	"github.com/holdfast-sec/holdfast/internal/model"
)

// Identity resolves asserted user IDs to principals with memberships. Users
// the provider does not know resolve to bare principals, which the engine
// denies as non-members.
type Identity interface {
	Principal(userID string) (model.Principal, bool)
}

// Options configures the facade.
type Options struct {
	Engine   *gate.Engine
	Identity Identity
	// Audit enables GET /v1/audit/events when a SQLite store is attached.
	Audit  *audit.SQLStore
	Logger *slog.Logger
}

// Server is the HTTP facade over one engine.
type Server struct {
	engine   *gate.Engine
	identity Identity
	auditDB  *audit.SQLStore
	logger   *slog.Logger
	httpSrv  *http.Server
	handler  http.Handler
}

// New wires the routes. The engine is required; identity and audit store
// are optional surfaces.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:   opts.Engine,
		identity: opts.Identity,
		auditDB:  opts.Audit,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decision", s.handleDecision)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/validate", s.handleValidateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleSessionHistory)
	mux.HandleFunc("POST /v1/sessions/{id}/events", s.handleAppendMessage)
	mux.HandleFunc("GET /v1/audit/events", s.handleAuditQuery)
	mux.HandleFunc("POST /v1/lifecycle", s.handleLifecycle)
	mux.HandleFunc("POST /v1/emergency/lockdown", s.handleLockdown)
	mux.HandleFunc("POST /v1/emergency/lockdown/lift", s.handleLiftLockdown)
	mux.HandleFunc("POST /v1/emergency/quarantine", s.handleQuarantine)
	mux.HandleFunc("POST /v1/emergency/quarantine/lift", s.handleLiftQuarantine)
	mux.HandleFunc("GET /v1/emergency/state", s.handleEmergencyState)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)

	s.handler = s.logRequests(mux)
	return s, nil
}

// Handler returns the full route tree, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks serving on addr until Shutdown or a listener error.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info("listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests. The caller closes the engine after
// this returns so the audit queue captures every served decision.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
