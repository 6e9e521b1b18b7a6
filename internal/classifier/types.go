package classifier

import (
	"errors"
	"strings"
	"time"
)

// Sentinel errors callers branch on. An unknown principal is deliberately a
// distinct error rather than a deny verdict; the policy for handling it
// (quarantine, manual review) belongs to the admission layer.
var (
	ErrUnknownPrincipal    = errors.New("principal has no trained behavior cluster")
	ErrArtifactUnavailable = errors.New("classifier artifact unavailable")
)

// Decision is the outcome of one behavioral check.
type Decision int

const (
	// Allowed means the query matched the principal's learned behavior (or a
	// whitelist entry).
	Allowed Decision = iota
	// Intrusion means the query deviated but the principal is below the ban
	// threshold. The caller decides whether to still execute it.
	Intrusion
	// Blocked means the principal is under an active block.
	Blocked
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Intrusion:
		return "intrusion"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Role is the privilege tier of an authenticated principal.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleStaff
	RoleAnalyst
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleStaff:
		return "staff"
	case RoleAnalyst:
		return "analyst"
	default:
		return "unknown"
	}
}

// ParseRole maps a role name to its tag. Unrecognized names get RoleUnknown,
// which resolves to the strictest threshold.
func ParseRole(name string) Role {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin":
		return RoleAdmin
	case "staff":
		return RoleStaff
	case "analyst":
		return RoleAnalyst
	default:
		return RoleUnknown
	}
}

// Verdict is the full outcome of one classification, carried through to the
// audit log and event stream.
type Verdict struct {
	Decision     Decision  `json:"decision"`
	Cluster      int       `json:"cluster"`
	Confidence   float64   `json:"confidence"`
	Threshold    float64   `json:"threshold"`
	Role         string    `json:"role"`
	Whitelisted  bool      `json:"whitelisted,omitempty"`
	Infractions  int       `json:"infractions,omitempty"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}
