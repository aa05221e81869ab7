package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SecurityContext holds the client attributes observed at session creation.
// Fingerprinting uses only these stable request attributes; per-request
// noise (cookies, request IDs) must not feed into it.
type SecurityContext struct {
	UserAgent      string `json:"user_agent"`
	AcceptLanguage string `json:"accept_language"`
	AcceptEncoding string `json:"accept_encoding"`
	Timezone       string `json:"timezone"`
	IP             string `json:"-"`
}

// Fingerprint returns "sha256:<hex>" over the ordered context attributes.
// Field order is fixed so the same context always hashes identically.
func (c SecurityContext) Fingerprint() string {
	joined := strings.Join([]string{
		c.UserAgent,
		c.AcceptLanguage,
		c.AcceptEncoding,
		c.Timezone,
	}, "\n")
	h := sha256.Sum256([]byte(joined))
	return "sha256:" + hex.EncodeToString(h[:])
}

// HashIP returns the salted hash of a client IP. Raw addresses never
// appear in tokens or audit records; the salt keeps hashes from being
// reversible by dictionary over the IPv4 space.
func HashIP(salt, ip string) string {
	h := sha256.Sum256([]byte(salt + "\n" + ip))
	return "sha256:" + hex.EncodeToString(h[:])
}
