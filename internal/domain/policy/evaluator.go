package policy

import (
	"fmt"
	"time"

	"github.com/execguard/execguard/internal/domain/risk"
)

// Evaluate is the formal gate an execution engine must consult before
// minting any authorization. It is a pure function: the decision is
// derived solely from the plan, the proposal, the policy, and the
// supplied clock value. First failing check wins; every denial carries
// a specific reason and the policy version.
func Evaluate(plan Plan, proposal Proposal, pol *Policy, now time.Time) Decision {
	if pol == nil {
		return Deny("no active policy", "")
	}

	// 1. Scope allowlist. An empty allowed set denies every scope.
	if len(pol.AllowedScopes) == 0 {
		if len(scopesRequired(plan, proposal)) > 0 {
			return Deny(fmt.Sprintf("scope %q not permitted: policy %s allows no scopes",
				scopesRequired(plan, proposal)[0], pol.Version), pol.Version)
		}
	} else {
		allowed := make(map[string]bool, len(pol.AllowedScopes))
		for _, s := range pol.AllowedScopes {
			allowed[s] = true
		}
		for _, s := range scopesRequired(plan, proposal) {
			if !allowed[s] {
				return Deny(fmt.Sprintf("scope %q not in allowlist of policy %s", s, pol.Version), pol.Version)
			}
		}
	}

	// 2. Risk ceiling (low < medium < high < critical).
	if plan.RiskTier.Exceeds(pol.RiskCeiling) {
		return Deny(fmt.Sprintf("risk tier %s exceeds policy ceiling %s",
			plan.RiskTier, pol.RiskCeiling), pol.Version)
	}

	// 3. Reversibility.
	if pol.ReversibleOnly && proposal.Reversibility == risk.Irreversible {
		return Deny("policy permits reversible actions only; proposal is irreversible", pol.Version)
	}

	// 4. Cost cap (0 = unlimited).
	if pol.MaxEstimatedCost > 0 && proposal.EstimatedCost > pol.MaxEstimatedCost {
		return Deny(fmt.Sprintf("estimated cost %.2f exceeds policy cap %.2f",
			proposal.EstimatedCost, pol.MaxEstimatedCost), pol.Version)
	}

	// 5. Time window.
	if pol.AllowedHours != nil && !pol.AllowedHours.Contains(now.Hour()) {
		return Deny(fmt.Sprintf("hour %d outside permitted window %d-%d",
			now.Hour(), pol.AllowedHours.Start, pol.AllowedHours.End), pol.Version)
	}

	// 6. Biometric/quorum are never hard denials here. When the policy
	// requires them but the plan does not yet reflect them, surface an
	// escalation for the approval layer to enforce.
	decision := Allow(pol.ContentHash(), pol.Version)
	if pol.RequireBiometric && !plan.Approval.Biometric {
		decision.Escalations = append(decision.Escalations, "biometric")
	}
	if pol.RequireQuorum && !plan.Approval.Quorum {
		decision.Escalations = append(decision.Escalations, "quorum")
	}
	return decision
}

// scopesRequired merges the plan's required scopes with the proposal's
// scope list, preserving order and dropping duplicates.
func scopesRequired(plan Plan, proposal Proposal) []string {
	seen := make(map[string]bool, len(plan.RequiredScopes)+len(proposal.Scopes))
	var merged []string
	for _, s := range plan.RequiredScopes {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	for _, s := range proposal.Scopes {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	return merged
}
