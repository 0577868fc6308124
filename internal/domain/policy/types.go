// Package policy contains the governance policy model and the pure
// evaluator that gates proposed actions.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/execguard/execguard/internal/domain/risk"
)

// HourRange restricts execution to a window of hours [Start, End).
type HourRange struct {
	// Start is the first permitted hour (0-23).
	Start int `yaml:"start"`
	// End is the first hour past the window (1-24).
	End int `yaml:"end"`
}

// Contains reports whether the given hour falls inside the range.
func (r HourRange) Contains(hour int) bool {
	return hour >= r.Start && hour < r.End
}

// Policy is an immutable, versioned description of what is permitted.
// Policies are replaced wholesale, never patched; all fields are fixed
// at construction time.
type Policy struct {
	// ID is the unique identifier for this policy.
	ID string `yaml:"id"`
	// Version is a semantic version string for audit display.
	Version string `yaml:"version"`
	// CreatedAt is when the policy was constructed (UTC).
	CreatedAt time.Time `yaml:"created_at"`

	// AllowedScopes is the set of permitted scope names.
	// An empty set denies every scope.
	AllowedScopes []string `yaml:"allowed_scopes"`
	// RiskCeiling is the highest risk tier a plan may carry.
	RiskCeiling risk.Tier `yaml:"risk_ceiling"`
	// ReversibleOnly restricts execution to reversible actions.
	ReversibleOnly bool `yaml:"reversible_only"`
	// MaxEstimatedCost caps the proposal's predicted cost. 0 = unlimited.
	MaxEstimatedCost float64 `yaml:"max_estimated_cost"`
	// AllowedHours optionally restricts execution to an hour window.
	AllowedHours *HourRange `yaml:"allowed_hours"`
	// RequireBiometric mandates biometric confirmation at the approval layer.
	RequireBiometric bool `yaml:"require_biometric"`
	// RequireQuorum mandates multi-party approval at the approval layer.
	RequireQuorum bool `yaml:"require_quorum"`

	// GuardConditions are optional CEL expressions over proposal attributes.
	// A condition that evaluates to true denies the proposal.
	GuardConditions []string `yaml:"guard_conditions"`
}

// ContentHash returns a deterministic SHA-256 hex digest of the policy's
// content fields. Identity fields (ID, Version, CreatedAt) are excluded:
// two policies with identical content hash identically regardless of
// when or under what name they were constructed.
func (p *Policy) ContentHash() string {
	scopes := make([]string, len(p.AllowedScopes))
	copy(scopes, p.AllowedScopes)
	sort.Strings(scopes)

	guards := make([]string, len(p.GuardConditions))
	copy(guards, p.GuardConditions)
	sort.Strings(guards)

	hours := "any"
	if p.AllowedHours != nil {
		hours = strconv.Itoa(p.AllowedHours.Start) + "-" + strconv.Itoa(p.AllowedHours.End)
	}

	parts := []string{
		strings.Join(scopes, ","),
		strconv.Itoa(p.RiskCeiling.Ord()),
		strconv.FormatBool(p.ReversibleOnly),
		strconv.FormatFloat(p.MaxEstimatedCost, 'f', -1, 64),
		hours,
		strconv.FormatBool(p.RequireBiometric),
		strconv.FormatBool(p.RequireQuorum),
		strings.Join(guards, ","),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// PermissiveProfile returns the default policy: every common scope
// allowed, a high risk ceiling, and no cost or hour restrictions.
func PermissiveProfile() *Policy {
	return &Policy{
		ID:        uuid.New().String(),
		Version:   "1.0.0",
		CreatedAt: time.Now().UTC(),
		AllowedScopes: []string{
			"readCalendar", "writeCalendar",
			"readEmail", "sendEmail",
			"readReminders", "writeReminders",
			"networkEgress",
		},
		RiskCeiling:      risk.TierHigh,
		ReversibleOnly:   false,
		MaxEstimatedCost: 0,
	}
}

// StrictProfile returns a conservative policy: medium risk ceiling,
// reversible actions only, low cost cap, biometric and quorum approval
// both mandatory.
func StrictProfile() *Policy {
	return &Policy{
		ID:        uuid.New().String(),
		Version:   "1.0.0",
		CreatedAt: time.Now().UTC(),
		AllowedScopes: []string{
			"readCalendar", "readEmail", "readReminders",
		},
		RiskCeiling:      risk.TierMedium,
		ReversibleOnly:   true,
		MaxEstimatedCost: 1000,
		RequireBiometric: true,
		RequireQuorum:    true,
	}
}

// LockdownProfile returns a policy that denies everything. The empty
// scope set rejects every proposal at the first check, so the remaining
// fields only matter for display. Used as the emergency stop.
func LockdownProfile() *Policy {
	return &Policy{
		ID:               uuid.New().String(),
		Version:          "1.0.0",
		CreatedAt:        time.Now().UTC(),
		AllowedScopes:    nil,
		RiskCeiling:      risk.TierLow,
		ReversibleOnly:   true,
		MaxEstimatedCost: 0,
		RequireBiometric: true,
		RequireQuorum:    true,
	}
}
