package policy

import "github.com/execguard/execguard/internal/domain/risk"

// ApprovalRequirement describes which interactive confirmations the
// upstream planner has already attached to a plan.
type ApprovalRequirement struct {
	// Biometric is true when the plan requires biometric confirmation.
	Biometric bool
	// Quorum is true when the plan requires multi-party approval.
	Quorum bool
}

// Plan is the structured execution plan produced by the external
// planning pipeline, reduced to the fields the evaluator inspects.
type Plan struct {
	// RiskTier is the plan's overall risk classification.
	RiskTier risk.Tier
	// RequiredScopes are the permission scopes the plan needs.
	RequiredScopes []string
	// Approval describes the interactive requirements already on the plan.
	Approval ApprovalRequirement
}

// Proposal is the snapshot of a concrete proposed action, as handed to
// the evaluator and copied into approval sessions.
type Proposal struct {
	// ID identifies the proposal across the evaluator, the approval
	// session, and the eventual certificate.
	ID string
	// Reversibility classifies whether the action can be undone.
	Reversibility risk.Reversibility
	// EstimatedCost is the predicted token/cost sum for execution.
	EstimatedCost float64
	// Scopes are the permission scopes the concrete action touches.
	Scopes []string
	// Summary is the human-readable description shown to the approver.
	Summary string
	// RiskScore is the numeric risk score computed upstream.
	RiskScore float64
	// StepCount is the number of steps in the proposal.
	StepCount int
}
