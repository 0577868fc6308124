// Package approval implements the human checkpoint: sessions created
// for proposals awaiting a decision, with fixed expiry and a bounded
// decision history. A session without a decision can never authorize
// execution.
package approval

import (
	"errors"
	"time"

	"github.com/execguard/execguard/internal/domain/risk"
)

// DefaultExpiry is the fixed decision window for a new session.
const DefaultExpiry = 5 * time.Minute

// DefaultHistoryCap bounds the decided-session history buffer.
const DefaultHistoryCap = 50

// DecisionKind is the human decision recorded on a session.
type DecisionKind string

const (
	// DecisionApprove authorizes the whole proposal.
	DecisionApprove DecisionKind = "approve"
	// DecisionApprovePartial authorizes a subset of the proposal's steps.
	DecisionApprovePartial DecisionKind = "approve_partial"
	// DecisionRequestRevision sends the proposal back for rework.
	DecisionRequestRevision DecisionKind = "request_revision"
	// DecisionEscalate defers to a stronger approval path.
	DecisionEscalate DecisionKind = "escalate"
	// DecisionReject refuses the proposal.
	DecisionReject DecisionKind = "reject"
)

// Valid reports whether k is a known decision kind.
func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionApprove, DecisionApprovePartial, DecisionRequestRevision,
		DecisionEscalate, DecisionReject:
		return true
	}
	return false
}

// Terminal reports whether k retires the session. Revision requests and
// escalations keep the session active and spawn a new cycle upstream.
func (k DecisionKind) Terminal() bool {
	switch k {
	case DecisionApprove, DecisionApprovePartial, DecisionReject:
		return true
	}
	return false
}

// Approving reports whether k is a terminal approving decision.
func (k DecisionKind) Approving() bool {
	return k == DecisionApprove || k == DecisionApprovePartial
}

// Sentinel errors for session operations.
var (
	// ErrSessionNotFound is returned when no session matches the given id.
	ErrSessionNotFound = errors.New("approval session not found")
	// ErrSessionExpired is returned when a decision arrives past the
	// session's window. Treated identically to "not approved".
	ErrSessionExpired = errors.New("approval session expired")
	// ErrAlreadyDecided is returned when a terminal decision already
	// exists; the stored decision is never overwritten.
	ErrAlreadyDecided = errors.New("approval session already decided")
	// ErrEscalationRequired is returned when an approving decision is
	// submitted while the session still carries an unmet biometric or
	// quorum requirement.
	ErrEscalationRequired = errors.New("approval requires escalation")
	// ErrInvalidDecision is returned for unknown decision kinds.
	ErrInvalidDecision = errors.New("invalid approval decision")
)

// Session represents one human checkpoint for one proposal. The
// snapshot fields are copied at creation time so a later policy or
// proposal mutation cannot alter what the approver was shown.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// ProposalID references the originating proposal.
	ProposalID string `json:"proposal_id"`
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is fixed at creation and never extended.
	ExpiresAt time.Time `json:"expires_at"`

	// Snapshot fields, copied at creation.
	RiskTier      risk.Tier          `json:"risk_tier"`
	RiskScore     float64            `json:"risk_score"`
	Reversibility risk.Reversibility `json:"reversibility"`
	Scopes        []string           `json:"scopes"`
	EstimatedCost float64            `json:"estimated_cost"`
	Summary       string             `json:"summary"`
	StepCount     int                `json:"step_count"`

	// RequiresBiometric and RequiresQuorum carry the evaluator's
	// escalation signal into the approval layer, where it is enforced.
	RequiresBiometric bool `json:"requires_biometric"`
	RequiresQuorum    bool `json:"requires_quorum"`

	// Decision is empty until a human decides.
	Decision DecisionKind `json:"decision,omitempty"`
	// DecidedAt is when the decision was recorded (UTC).
	DecidedAt time.Time `json:"decided_at,omitzero"`
	// ApprovedSteps holds step indices for a partial approval.
	ApprovedSteps []int `json:"approved_steps,omitempty"`
	// RevisionNotes carries the approver's rework guidance.
	RevisionNotes string `json:"revision_notes,omitempty"`
	// TokenID is the authorization token minted after approval.
	TokenID string `json:"token_id,omitempty"`
}

// IsExpired reports whether the session's window has passed.
// Pure over the stored deadline and the supplied clock value.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsApproved reports whether the session authorizes execution: a
// terminal approving decision exists and the window has not passed.
// Recomputed on every read, never cached.
func (s *Session) IsApproved(now time.Time) bool {
	return s.Decision.Approving() && !s.IsExpired(now)
}

// clone returns a deep copy so callers cannot mutate stored state.
func (s *Session) clone() *Session {
	c := *s
	c.Scopes = append([]string(nil), s.Scopes...)
	c.ApprovedSteps = append([]int(nil), s.ApprovedSteps...)
	return &c
}
