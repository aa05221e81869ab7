package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/holdfast-sec/holdfast/internal/model"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	event_id          TEXT PRIMARY KEY,
	ts                TEXT NOT NULL,
	type              TEXT NOT NULL,
	severity          TEXT NOT NULL,
	risk_score        INTEGER NOT NULL DEFAULT 0,
	workspace_id      TEXT NOT NULL DEFAULT '',
	user_id           TEXT NOT NULL DEFAULT '',
	agent_id          TEXT NOT NULL DEFAULT '',
	session_id        TEXT NOT NULL DEFAULT '',
	ip_hash           TEXT NOT NULL DEFAULT '',
	decision          TEXT NOT NULL DEFAULT '',
	reason_code       TEXT NOT NULL DEFAULT '',
	detail            TEXT NOT NULL DEFAULT '',
	threat_indicators TEXT NOT NULL DEFAULT '',
	override          INTEGER NOT NULL DEFAULT 0,
	actor             TEXT NOT NULL DEFAULT '',
	config_hash       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_workspace_ts ON audit_events (workspace_id, ts);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events (type);
CREATE INDEX IF NOT EXISTS idx_audit_severity ON audit_events (severity);
`

// SQLStore persists audit events to a SQLite database for structured
// queries. It implements Sink; inserts are idempotent on event_id so
// redelivered batches do not duplicate rows.
type SQLStore struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a SQLite-backed audit store.
func OpenStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	// Serialized access keeps the single-writer model simple.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Write inserts a batch of events in one transaction.
func (s *SQLStore) Write(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO audit_events
		(event_id, ts, type, severity, risk_score, workspace_id, user_id,
		 agent_id, session_id, ip_hash, decision, reason_code, detail,
		 threat_indicators, override, actor, config_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		indicators := ""
		if len(ev.ThreatIndicators) > 0 {
			raw, err := json.Marshal(ev.ThreatIndicators)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("marshal threat indicators: %w", err)
			}
			indicators = string(raw)
		}
		override := 0
		if ev.Override {
			override = 1
		}
		if _, err := stmt.Exec(
			ev.ID, ev.Timestamp, ev.Type, string(ev.Severity), ev.RiskScore,
			ev.WorkspaceID, ev.UserID, ev.AgentID, ev.SessionID, ev.IPHash,
			ev.Decision, string(ev.ReasonCode), ev.Detail, indicators,
			override, ev.Actor, ev.ConfigHash,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert audit event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Filter holds query criteria for stored audit events.
type Filter struct {
	Types         []string
	MinSeverity   model.Severity
	WorkspaceID   string
	UserID        string
	SessionID     string
	From          time.Time
	To            time.Time
	OverridesOnly bool
	Limit         int
	Offset        int
}

// Query returns stored events matching the filter, newest first.
func (s *SQLStore) Query(filter Filter) ([]Event, error) {
	var (
		conds []string
		args  []any
	)
	if len(filter.Types) > 0 {
		ph := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			ph[i] = "?"
			args = append(args, t)
		}
		conds = append(conds, "type IN ("+strings.Join(ph, ", ")+")")
	}
	if filter.MinSeverity != "" {
		levels := severitiesAtLeast(filter.MinSeverity)
		ph := make([]string, len(levels))
		for i, sv := range levels {
			ph[i] = "?"
			args = append(args, string(sv))
		}
		conds = append(conds, "severity IN ("+strings.Join(ph, ", ")+")")
	}
	if filter.WorkspaceID != "" {
		conds = append(conds, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, FormatTimestamp(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, FormatTimestamp(filter.To))
	}
	if filter.OverridesOnly {
		conds = append(conds, "override = 1")
	}

	query := `SELECT event_id, ts, type, severity, risk_score, workspace_id,
		user_id, agent_id, session_id, ip_hash, decision, reason_code,
		detail, threat_indicators, override, actor, config_hash
		FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, event_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev         Event
			severity   string
			reason     string
			indicators string
			override   int
		)
		if err := rows.Scan(
			&ev.ID, &ev.Timestamp, &ev.Type, &severity, &ev.RiskScore,
			&ev.WorkspaceID, &ev.UserID, &ev.AgentID, &ev.SessionID,
			&ev.IPHash, &ev.Decision, &reason, &ev.Detail, &indicators,
			&override, &ev.Actor, &ev.ConfigHash,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Severity = model.Severity(severity)
		ev.ReasonCode = model.ReasonCode(reason)
		ev.Override = override == 1
		if indicators != "" {
			if err := json.Unmarshal([]byte(indicators), &ev.ThreatIndicators); err != nil {
				return nil, fmt.Errorf("unmarshal threat indicators: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// TypeCount pairs an event type with its occurrence count.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// StoreSummary aggregates stored events for reporting.
type StoreSummary struct {
	Total         int         `json:"total"`
	DenyCount     int         `json:"deny_count"`
	CriticalCount int         `json:"critical_count"`
	OverrideCount int         `json:"override_count"`
	MaxRiskScore  int         `json:"max_risk_score"`
	ByType        []TypeCount `json:"by_type"`
}

// Summarize aggregates events matching the workspace and time range.
func (s *SQLStore) Summarize(workspaceID string, from, to time.Time) (*StoreSummary, error) {
	conds := []string{"1 = 1"}
	var args []any
	if workspaceID != "" {
		conds = append(conds, "workspace_id = ?")
		args = append(args, workspaceID)
	}
	if !from.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, FormatTimestamp(from))
	}
	if !to.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, FormatTimestamp(to))
	}
	where := strings.Join(conds, " AND ")

	summary := &StoreSummary{}
	row := s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN decision = 'deny' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN severity = 'critical' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(override), 0),
		COALESCE(MAX(risk_score), 0)
		FROM audit_events WHERE `+where, args...)
	if err := row.Scan(&summary.Total, &summary.DenyCount, &summary.CriticalCount,
		&summary.OverrideCount, &summary.MaxRiskScore); err != nil {
		return nil, fmt.Errorf("summarize audit events: %w", err)
	}

	rows, err := s.db.Query(`SELECT type, COUNT(*) FROM audit_events
		WHERE `+where+` GROUP BY type ORDER BY COUNT(*) DESC, type`, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize audit types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		summary.ByType = append(summary.ByType, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type counts: %w", err)
	}
	return summary, nil
}

func severitiesAtLeast(min model.Severity) []model.Severity {
	all := []model.Severity{
		model.SeverityLow,
		model.SeverityMedium,
		model.SeverityHigh,
		model.SeverityCritical,
	}
	var out []model.Severity
	for _, sv := range all {
		if sv.AtLeast(min) {
			out = append(out, sv)
		}
	}
	return out
}
