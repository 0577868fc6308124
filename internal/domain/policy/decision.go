package policy

// Decision is the outcome of evaluating a proposal against the active
// policy. Construct only via Allow or Deny so that an allow always
// carries the authorizing policy hash and a deny always carries a reason.
type Decision struct {
	// Allowed is true if the proposal may proceed to the approval layer.
	Allowed bool `json:"allowed"`
	// PolicyHash is the content hash of the authorizing policy (allow only).
	PolicyHash string `json:"policy_hash,omitempty"`
	// Reason is the machine-readable denial reason (deny only).
	Reason string `json:"reason,omitempty"`
	// PolicyVersion is the version of the policy that was consulted.
	PolicyVersion string `json:"policy_version,omitempty"`
	// Escalations lists approval requirements the policy mandates but the
	// plan does not yet reflect (biometric, quorum). Never a denial here;
	// enforcement happens at the approval layer.
	Escalations []string `json:"escalations,omitempty"`
}

// Allow returns an allowing decision carrying the policy content hash.
func Allow(policyHash, policyVersion string) Decision {
	return Decision{
		Allowed:       true,
		PolicyHash:    policyHash,
		PolicyVersion: policyVersion,
	}
}

// Deny returns a denying decision carrying a specific reason.
func Deny(reason, policyVersion string) Decision {
	return Decision{
		Allowed:       false,
		Reason:        reason,
		PolicyVersion: policyVersion,
	}
}
