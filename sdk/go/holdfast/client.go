package holdfast

import (
	"context"
	"fmt"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/gate"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/store"
)

// Client embeds the decision engine for in-process enforcement.
// Thread-safe for concurrent calls.
type Client struct {
	cfg    clientConfig
	engine *gate.Engine
	snap   *store.Snapshot
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{sourceIP: "127.0.0.1"}
	for _, o := range opts {
		o(&cfg)
	}

	conf, err := config.LoadConfig(cfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("holdfast: failed to load config: %w", err)
	}

	snapPath := cfg.snapshotPath
	if snapPath == "" {
		snapPath = conf.Directory.SnapshotPath
	}
	snap, err := store.LoadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("holdfast: failed to load directory: %w", err)
	}

	var sinks []audit.Sink
	if cfg.chainPath != "" {
		chain, err := audit.OpenChain(cfg.chainPath)
		if err != nil {
			return nil, fmt.Errorf("holdfast: failed to open audit chain: %w", err)
		}
		sinks = append(sinks, chain)
	}
	recorder := audit.NewRecorder(audit.RecorderConfig{
		BatchSize:     conf.Audit.BatchSize,
		FlushInterval: conf.Audit.FlushInterval,
	}, sinks...)

	engine, err := gate.New(gate.Options{
		Config:    conf,
		Directory: snap.Directory(),
		Recorder:  recorder,
	})
	if err != nil {
		recorder.Close()
		return nil, fmt.Errorf("holdfast: %w", err)
	}
	engine.Start()

	return &Client{cfg: cfg, engine: engine, snap: snap}, nil
}

// Authorize evaluates one access attempt without executing anything.
// A request naming no agent and no operation is a workspace boundary check.
func (c *Client) Authorize(ctx context.Context, req Request) Result {
	p, ok := c.snap.Principal(req.UserID)
	if !ok {
		p = model.Principal{UserID: req.UserID}
	}

	ip := req.IP
	if ip == "" {
		ip = c.cfg.sourceIP
	}

	if req.AgentID == "" && req.Operation == "" {
		return toResult(c.engine.AuthorizeWorkspace(ctx, &p, req.WorkspaceID, ip))
	}

	op := access.OpView
	if req.Operation != "" {
		parsed, ok := access.ParseOperation(req.Operation)
		if !ok {
			return toResult(model.Deny(model.ReasonValidation,
				fmt.Sprintf("unknown operation %q", req.Operation)))
		}
		op = parsed
	}
	return toResult(c.engine.AuthorizeAgent(ctx, &p, req.WorkspaceID, req.AgentID, op, ip))
}

// Stats mirrors the engine's in-memory counters.
type Stats struct {
	CacheEntries    int
	RateBuckets     int
	Sessions        int
	AuditQueueDepth int
	Lockdowns       int
	Quarantines     int
}

// Stats reports current engine state sizes.
func (c *Client) Stats() Stats {
	s := c.engine.Stats()
	return Stats{
		CacheEntries:    s.CacheEntries,
		RateBuckets:     s.RateBuckets,
		Sessions:        s.Sessions,
		AuditQueueDepth: s.AuditQueueDepth,
		Lockdowns:       s.Lockdowns,
		Quarantines:     s.Quarantines,
	}
}

// Close flushes the audit queue and stops the engine.
func (c *Client) Close() error {
	return c.engine.Close()
}
