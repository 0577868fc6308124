// Package risk contains the shared severity and reversibility primitives
// used by policy evaluation, approval sessions, and certificates.
package risk

// Tier is an ordinal severity classification of a proposed action's consequence.
type Tier string

const (
	// TierLow is routine, low-consequence activity.
	TierLow Tier = "low"
	// TierMedium is activity with moderate, recoverable consequence.
	TierMedium Tier = "medium"
	// TierHigh is activity with significant external consequence.
	TierHigh Tier = "high"
	// TierCritical is activity whose consequence is severe or safety-relevant.
	TierCritical Tier = "critical"
)

// tierOrder maps each tier to its ordinal. Unknown tiers map to the
// highest ordinal so that a malformed tier can never slip under a ceiling.
var tierOrder = map[Tier]int{
	TierLow:      0,
	TierMedium:   1,
	TierHigh:     2,
	TierCritical: 3,
}

// Ord returns the ordinal of the tier (low=0 .. critical=3).
// Unrecognized tiers return the critical ordinal (fail-closed).
func (t Tier) Ord() int {
	if o, ok := tierOrder[t]; ok {
		return o
	}
	return tierOrder[TierCritical]
}

// Exceeds reports whether t is strictly above the given ceiling.
func (t Tier) Exceeds(ceiling Tier) bool {
	return t.Ord() > ceiling.Ord()
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	_, ok := tierOrder[t]
	return ok
}

// Reversibility classifies whether an action's effects can be undone.
type Reversibility string

const (
	// Reversible actions can be fully undone.
	Reversible Reversibility = "reversible"
	// PartiallyReversible actions can be undone with residual effects.
	PartiallyReversible Reversibility = "partially_reversible"
	// Irreversible actions cannot be undone.
	Irreversible Reversibility = "irreversible"
)

// Valid reports whether r is a known reversibility class.
func (r Reversibility) Valid() bool {
	switch r {
	case Reversible, PartiallyReversible, Irreversible:
		return true
	}
	return false
}
