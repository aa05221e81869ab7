package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrWorkspaceMismatch marks a structural cross-tenant violation: an entity
// was addressed through a workspace it does not belong to. Never coerced to
// the entity's real workspace, always a denial.
var ErrWorkspaceMismatch = errors.New("model: entity does not belong to the requested workspace")

// maxIDLength bounds identifiers before they reach any resolver or store.
const maxIDLength = 128

// validID matches the identifier alphabet shared by user, workspace, agent,
// and session IDs.
var validID = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// ValidateID rejects malformed identifiers before they reach resolvers.
// The field name is included in the error for caller diagnostics.
func ValidateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s exceeds %d bytes", field, maxIDLength)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%s must not contain '..'", field)
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}
