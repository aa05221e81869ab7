// Package anomaly validates session-bearing requests for fingerprint and IP
// continuity and rotates aging tokens. A mismatch on either dimension
// revokes the session immediately (the terminal state transition happens
// here, not in the caller) and reports the mismatched dimensions as threat
// indicators for the audit record.
package anomaly

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/session"
	"github.com/holdfast-sec/holdfast/internal/token"
)

const (
	// DefaultRotateAfter is the token age that triggers rotation on a
	// clean validation.
	DefaultRotateAfter = 2 * time.Hour
	// DefaultTokenTTL is the natural expiry of an issued token.
	DefaultTokenTTL = 24 * time.Hour
)

// Threat indicator names carried on CRITICAL audit events.
const (
	IndicatorFingerprintMismatch = "fingerprint_mismatch"
	IndicatorIPMismatch          = "ip_mismatch"
)

// Config tunes token issuance and rotation.
type Config struct {
	RotateAfter time.Duration
	TokenTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.RotateAfter <= 0 {
		c.RotateAfter = DefaultRotateAfter
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	return c
}

// Result is the outcome of validating one session-bearing request.
type Result struct {
	// OK means the request may proceed. When false, ReasonCode and Detail
	// explain the denial.
	OK         bool
	ReasonCode model.ReasonCode
	Detail     string

	// Indicators names the mismatched dimensions when an anomaly revoked
	// the session on this call.
	Indicators []string
	// Revoked is set when this validation performed the revocation.
	Revoked bool

	// Rotated is set when a clean validation exceeded the rotation
	// threshold; Token then carries the replacement wire bytes.
	Rotated bool
	Token   []byte

	// Session is the identified session, when the token named one that
	// exists in the requested workspace.
	Session session.Session
}

// Detector owns token issuance, continuity validation, and the revocation
// blacklist.
type Detector struct {
	priv      ed25519.PrivateKey
	pub       ed25519.PublicKey
	salt      string
	guard     *session.Guard
	blacklist *token.Blacklist
	cfg       Config
}

// NewDetector creates a detector signing with the given key. salt feeds the
// IP hash; it must stay stable across restarts for embedded deployments that
// persist sessions.
func NewDetector(priv ed25519.PrivateKey, salt string, guard *session.Guard, cfg Config) *Detector {
	return &Detector{
		priv:      priv,
		pub:       priv.Public().(ed25519.PublicKey),
		salt:      salt,
		guard:     guard,
		blacklist: token.NewBlacklist(),
		cfg:       cfg.withDefaults(),
	}
}

// HashIP exposes the detector's salted IP hash for audit records.
func (d *Detector) HashIP(ip string) string {
	return token.HashIP(d.salt, ip)
}

// Issue mints a token for a newly created session, binding it to the
// client's fingerprint and salted IP hash, and records the token ID on the
// session.
func (d *Detector) Issue(s session.Session, sec token.SecurityContext, now time.Time) ([]byte, *token.SessionToken, error) {
	id, err := token.NewTokenID()
	if err != nil {
		return nil, nil, err
	}
	tok := &token.SessionToken{
		ID:              id,
		SessionID:       s.ID,
		WorkspaceID:     s.WorkspaceID,
		UserID:          s.UserID,
		AgentID:         s.AgentID,
		FingerprintHash: sec.Fingerprint(),
		IPHash:          token.HashIP(d.salt, sec.IP),
		IssuedAt:        now.Unix(),
		ExpiresAt:       now.Add(d.cfg.TokenTTL).Unix(),
	}
	raw, err := token.Mint(d.priv, tok)
	if err != nil {
		return nil, nil, err
	}
	d.guard.SetTokenID(s.ID, s.WorkspaceID, tok.ID)
	return raw, tok, nil
}

// Validate checks a presented token against the requested workspace and the
// live request context. Decision order: signature and expiry, workspace
// binding, revocation, session status, fingerprint/IP continuity, rotation.
func (d *Detector) Validate(raw []byte, workspaceID string, sec token.SecurityContext, now time.Time) (Result, error) {
	tok, err := token.VerifyAt(d.pub, raw, now)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			return Result{ReasonCode: model.ReasonValidation, Detail: "session token expired"}, nil
		case errors.Is(err, token.ErrTokenTooShort), errors.Is(err, token.ErrInvalidSignature):
			return Result{ReasonCode: model.ReasonValidation, Detail: "session token unverifiable"}, nil
		default:
			return Result{}, fmt.Errorf("anomaly: verify token: %w", err)
		}
	}

	// A token minted for another workspace is a structural violation, not
	// a not-found.
	if tok.WorkspaceID != workspaceID {
		return Result{ReasonCode: model.ReasonWorkspaceMismatch, Detail: "token bound to a different workspace"}, nil
	}

	if d.blacklist.IsRevoked(tok.ID) {
		return Result{ReasonCode: model.ReasonSessionAnomaly, Detail: "session token revoked"}, nil
	}

	s, found := d.guard.Get(tok.SessionID, workspaceID)
	if !found {
		return Result{ReasonCode: model.ReasonSessionNotFound, Detail: "no such session in workspace"}, nil
	}
	switch s.Status {
	case session.StatusRevoked:
		return Result{Session: s, ReasonCode: model.ReasonSessionAnomaly, Detail: "session revoked"}, nil
	case session.StatusEnded:
		return Result{Session: s, ReasonCode: model.ReasonSessionNotFound, Detail: "session ended"}, nil
	}

	var indicators []string
	if sec.Fingerprint() != tok.FingerprintHash {
		indicators = append(indicators, IndicatorFingerprintMismatch)
	}
	if token.HashIP(d.salt, sec.IP) != tok.IPHash {
		indicators = append(indicators, IndicatorIPMismatch)
	}
	if len(indicators) > 0 {
		revoked, _ := d.guard.Revoke(s.ID, workspaceID, now)
		d.blacklist.Revoke(tok.ID, time.Unix(tok.ExpiresAt, 0))
		return Result{
			Session:    revoked,
			ReasonCode: model.ReasonSessionAnomaly,
			Detail:     "session context mismatch",
			Indicators: indicators,
			Revoked:    true,
		}, nil
	}

	d.guard.Touch(s.ID, workspaceID, now)

	if now.Sub(time.Unix(tok.IssuedAt, 0)) > d.cfg.RotateAfter {
		newRaw, newTok, err := d.rotate(tok, s, now)
		if err != nil {
			return Result{}, err
		}
		s.TokenID = newTok.ID
		return Result{OK: true, Session: s, Rotated: true, Token: newRaw}, nil
	}

	return Result{OK: true, Session: s}, nil
}

// rotate revokes the old token and mints a replacement bound to the same
// verified context. The old ID enters the blacklist before the new token is
// returned, so two live tokens never coexist for one session.
func (d *Detector) rotate(old *token.SessionToken, s session.Session, now time.Time) ([]byte, *token.SessionToken, error) {
	id, err := token.NewTokenID()
	if err != nil {
		return nil, nil, err
	}
	fresh := &token.SessionToken{
		ID:              id,
		SessionID:       old.SessionID,
		WorkspaceID:     old.WorkspaceID,
		UserID:          old.UserID,
		AgentID:         old.AgentID,
		FingerprintHash: old.FingerprintHash,
		IPHash:          old.IPHash,
		IssuedAt:        now.Unix(),
		ExpiresAt:       now.Add(d.cfg.TokenTTL).Unix(),
	}
	raw, err := token.Mint(d.priv, fresh)
	if err != nil {
		return nil, nil, err
	}

	d.blacklist.Revoke(old.ID, time.Unix(old.ExpiresAt, 0))
	d.guard.SetTokenID(s.ID, s.WorkspaceID, fresh.ID)
	return raw, fresh, nil
}

// RevokeSession revokes a session and blacklists its current token. Used by
// emergency handling and member-removal lifecycle events.
func (d *Detector) RevokeSession(sessionID, workspaceID string, now time.Time) (session.Session, bool) {
	s, found := d.guard.Revoke(sessionID, workspaceID, now)
	if !found {
		return session.Session{}, false
	}
	if s.TokenID != "" {
		// The session record does not carry the token expiry; hold the
		// entry for a full TTL from now.
		d.blacklist.Revoke(s.TokenID, now.Add(d.cfg.TokenTTL))
	}
	return s, true
}

// SweepBlacklist drops blacklist entries whose tokens have naturally
// expired. Called by the engine's background sweeper.
func (d *Detector) SweepBlacklist(now time.Time) int {
	return d.blacklist.Cleanup(now)
}
