// Package token mints and verifies signed session tokens. A token is the
// CBOR-encoded payload followed by a 64-byte Ed25519 signature; the payload
// binds the session to its workspace and to the client fingerprint captured
// at creation.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const signatureSize = ed25519.SignatureSize // 64 bytes

// encMode uses Core Deterministic Encoding so the same payload always
// produces identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("token: CBOR encoder initialization failed: " + err.Error())
	}
}

// SessionToken is the CBOR-encoded payload of a signed session token.
// Integer keys keep the wire form compact and stable across field renames.
type SessionToken struct {
	// ID is a unique token identifier (hex string), used for revocation.
	ID string `cbor:"1,keyasint"`

	// SessionID and WorkspaceID form the compound session key. A token
	// never grants access outside the workspace it was minted for.
	SessionID   string `cbor:"2,keyasint"`
	WorkspaceID string `cbor:"3,keyasint"`

	UserID  string `cbor:"4,keyasint"`
	AgentID string `cbor:"5,keyasint,omitempty"`

	// FingerprintHash and IPHash bind the token to the client context
	// observed at session creation.
	FingerprintHash string `cbor:"6,keyasint"`
	IPHash          string `cbor:"7,keyasint,omitempty"`

	// IssuedAt and ExpiresAt are Unix timestamps (seconds).
	IssuedAt  int64 `cbor:"8,keyasint"`
	ExpiresAt int64 `cbor:"9,keyasint"`
}

// Errors returned by Verify and related functions.
var (
	ErrTokenTooShort    = errors.New("token: too short for signature")
	ErrInvalidSignature = errors.New("token: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("token: expired")
	ErrTokenRevoked     = errors.New("token: revoked")
)

// NewTokenID returns a random 16-byte hex token identifier.
func NewTokenID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Mint signs the token payload and returns the raw wire bytes: CBOR
// payload followed by the 64-byte Ed25519 signature.
func Mint(privateKey ed25519.PrivateKey, tok *SessionToken) ([]byte, error) {
	payload, err := encMode.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("token: encode payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	out := make([]byte, len(payload)+signatureSize)
	copy(out, payload)
	copy(out[len(payload):], signature)
	return out, nil
}

// Verify splits the raw bytes, checks the Ed25519 signature, decodes the
// payload, and checks expiry.
//
// The caller must additionally consult the Blacklist for revoked token IDs
// and compare FingerprintHash against the live request context.
func Verify(publicKey ed25519.PublicKey, raw []byte) (*SessionToken, error) {
	return VerifyAt(publicKey, raw, time.Now())
}

// VerifyAt is like Verify but accepts an explicit time for expiry checks,
// for deterministic tests.
func VerifyAt(publicKey ed25519.PublicKey, raw []byte, now time.Time) (*SessionToken, error) {
	if len(raw) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	split := len(raw) - signatureSize
	payload := raw[:split]
	signature := raw[split:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var tok SessionToken
	if err := cbor.Unmarshal(payload, &tok); err != nil {
		return nil, fmt.Errorf("token: decode payload: %w", err)
	}

	if now.Unix() >= tok.ExpiresAt {
		return nil, ErrTokenExpired
	}

	return &tok, nil
}
