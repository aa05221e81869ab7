// Package mcp exposes the gate engine to MCP clients over stdio. The tools
// evaluate decisions, list visible agents, and inspect emergency and audit
// state; emergency controls stay on the HTTP facade.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/gate"
	"github.com/holdfast-sec/holdfast/internal/store"
)

// Config holds MCP server configuration.
type Config struct {
	ConfigPath   string
	SnapshotPath string
}

// Server wraps the MCP SDK server around an embedded gate engine.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *gate.Engine
	snap      *store.Snapshot
	recorder  *audit.Recorder
	auditDB   *audit.SQLStore
}

// New loads configuration and the directory snapshot, wires the audit
// pipeline, and registers the holdfast tools.
func New(cfg Config) (*Server, error) {
	conf, hash, err := config.LoadConfigWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}

	snapPath := cfg.SnapshotPath
	if snapPath == "" {
		snapPath = conf.Directory.SnapshotPath
	}
	snap, err := store.LoadSnapshot(snapPath)
	if err != nil {
		return nil, err
	}

	chain, err := audit.OpenChain(conf.Audit.ChainPath)
	if err != nil {
		return nil, fmt.Errorf("open audit chain: %w", err)
	}
	db, err := audit.OpenStore(conf.Audit.DBPath)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	recorder := audit.NewRecorder(audit.RecorderConfig{
		BatchSize:     conf.Audit.BatchSize,
		FlushInterval: conf.Audit.FlushInterval,
	}, chain, db)

	engine, err := gate.New(gate.Options{
		Config:     conf,
		ConfigHash: hash,
		Directory:  snap.Directory(),
		Recorder:   recorder,
	})
	if err != nil {
		recorder.Close()
		return nil, err
	}
	engine.Start()

	s := &Server{
		engine:   engine,
		snap:     snap,
		recorder: recorder,
		auditDB:  db,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "holdfast",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close shuts down the engine, draining the audit queue into the sinks.
func (s *Server) Close() error {
	return s.engine.Close()
}

// registerTools adds the holdfast tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "holdfast_check",
		Description: "Evaluate an access decision for a user against a workspace or agent. The decision is recorded to the audit log like any other.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "holdfast_agents",
		Description: "List the agents a user can see in a workspace.",
	}, s.handleAgents)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "holdfast_emergency_state",
		Description: "Show active lockdowns and quarantines.",
	}, s.handleEmergencyState)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "holdfast_audit_tail",
		Description: "Return recent audit events, newest first, optionally filtered by workspace or minimum severity.",
	}, s.handleAuditTail)
}
