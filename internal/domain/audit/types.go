// Package audit contains domain types for the authorization audit trail.
package audit

import (
	"strings"
	"time"
)

// Outcome constants for audit records.
const (
	// OutcomeAllow indicates the proposal was authorized.
	OutcomeAllow = "allow"
	// OutcomeDeny indicates the proposal was denied.
	OutcomeDeny = "deny"
)

// EventType constants categorize audit records.
const (
	// EventTypeAuthorization is the default event type for policy decisions.
	EventTypeAuthorization = "authorization"

	// Approval session lifecycle events.
	EventTypeSessionRegistered = "session.registered"
	EventTypeSessionDecided    = "session.decided"
	EventTypeSessionExpired    = "session.expired"
	EventTypeSessionEscalated  = "session.escalated"

	// Certificate chain events.
	EventTypeCertificateMinted = "certificate.minted"
	EventTypeChainVerified     = "certificate.chain_verified"

	// Policy administration events.
	EventTypePolicyActivated = "policy.activated"
)

// ActorType constants identify who caused an event.
const (
	ActorTypeAgent    = "agent"
	ActorTypeApprover = "approver"
	ActorTypeSystem   = "system"
)

// Record represents a single auditable governance event.
type Record struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// EventType categorizes the event (authorization, session.*, certificate.*, policy.*).
	EventType string `json:"event_type"`
	// ProposalID correlates events belonging to the same proposal.
	ProposalID string `json:"proposal_id,omitempty"`
	// SessionID is set for approval session events.
	SessionID string `json:"session_id,omitempty"`

	// Actor information.
	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type,omitempty"`

	// Outcome is "allow" or "deny" for authorization events.
	Outcome string `json:"outcome,omitempty"`
	// Reason explains the outcome or decision.
	Reason string `json:"reason,omitempty"`
	// PolicyHash identifies the policy content in force.
	PolicyHash string `json:"policy_hash,omitempty"`
	// PolicyVersion is the human-readable policy version.
	PolicyVersion string `json:"policy_version,omitempty"`
	// RiskTier is the assessed tier of the proposal, if known.
	RiskTier string `json:"risk_tier,omitempty"`
	// CertificateID is set for certificate events.
	CertificateID string `json:"certificate_id,omitempty"`

	// Detail carries event-specific fields.
	Detail map[string]interface{} `json:"detail,omitempty"`
	// LatencyMicros is the evaluation latency in microseconds.
	LatencyMicros int64 `json:"latency_micros,omitempty"`
}

// sensitiveKeywords lists substrings that indicate a sensitive detail key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveDetail returns a copy of detail with sensitive values masked.
// A key is considered sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactSensitiveDetail(detail map[string]interface{}) map[string]interface{} {
	if len(detail) == 0 {
		return detail
	}
	redacted := make(map[string]interface{}, len(detail))
	for k, v := range detail {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
