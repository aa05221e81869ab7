package model

import "fmt"

// PermissionLevel is the coarse-grained grant a user holds within a workspace.
type PermissionLevel string

const (
	// PermissionNone grants nothing. It never appears in stored permission
	// records; it exists so the default-member-level knob can be tightened
	// below read.
	PermissionNone  PermissionLevel = "none"
	PermissionRead  PermissionLevel = "read"
	PermissionWrite PermissionLevel = "write"
	PermissionAdmin PermissionLevel = "admin"
)

// permissionRank maps permission levels to comparable integers.
var permissionRank = map[PermissionLevel]int{
	PermissionNone:  -1,
	PermissionRead:  0,
	PermissionWrite: 1,
	PermissionAdmin: 2,
}

// Rank returns the comparable rank of the permission level. Unknown levels rank below read.
func (p PermissionLevel) Rank() int {
	if r, ok := permissionRank[p]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether p grants at least the given level.
func (p PermissionLevel) AtLeast(min PermissionLevel) bool {
	return p.Rank() >= min.Rank()
}

// ParsePermissionLevel maps a string to a PermissionLevel. Unknown input is an error.
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	switch PermissionLevel(s) {
	case PermissionNone, PermissionRead, PermissionWrite, PermissionAdmin:
		return PermissionLevel(s), nil
	default:
		return "", fmt.Errorf("unknown permission level %q", s)
	}
}

// AccessLevel is the fine-grained grant derived for a user against a specific agent.
type AccessLevel string

const (
	AccessNone      AccessLevel = "none"
	AccessView      AccessLevel = "view"
	AccessInteract  AccessLevel = "interact"
	AccessConfigure AccessLevel = "configure"
	AccessManage    AccessLevel = "manage"
)

var accessRank = map[AccessLevel]int{
	AccessNone:      0,
	AccessView:      1,
	AccessInteract:  2,
	AccessConfigure: 3,
	AccessManage:    4,
}

// Rank returns the comparable rank of the access level. Unknown levels rank as none.
func (a AccessLevel) Rank() int {
	if r, ok := accessRank[a]; ok {
		return r
	}
	return 0
}

// AtLeast reports whether a grants at least the given level.
func (a AccessLevel) AtLeast(min AccessLevel) bool {
	return a.Rank() >= min.Rank()
}

// Severity classifies audit events and error paths.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the comparable rank of the severity. Unknown severities rank as low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return 0
}

// AtLeast reports whether s is at least the given severity.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity maps a string to a Severity. Unknown input is an error.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}
