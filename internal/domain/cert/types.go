// Package cert implements the execution certificate chain: an
// append-only, hash-linked, ed25519-signed ledger of completed
// executions, independently verifiable without trusting the process
// that created it.
package cert

import (
	"context"
	"time"

	"github.com/execguard/execguard/internal/domain/risk"
)

// GenesisHash is the previous-hash value of the first certificate.
const GenesisHash = "GENESIS"

// DefaultMaxAge is the default temporal validity window for verification.
const DefaultMaxAge = 24 * time.Hour

// Certificate is an immutable record of one completed execution. It
// stores hashes of the participating artifacts, never their raw
// content, and links to its predecessor through PreviousHash.
type Certificate struct {
	// ID is the unique certificate identifier.
	ID string `json:"id"`
	// Timestamp is when the certificate was minted (UTC).
	Timestamp time.Time `json:"timestamp"`
	// RiskTier is the executed action's risk classification.
	RiskTier risk.Tier `json:"risk_tier"`

	// IntentHash is the SHA-256 of the user intent text.
	IntentHash string `json:"intent_hash"`
	// ProposalHash is the SHA-256 of the executed proposal.
	ProposalHash string `json:"proposal_hash"`
	// ResultHash is the SHA-256 of the execution result.
	ResultHash string `json:"result_hash"`
	// TokenHash is the SHA-256 of the authorization token.
	TokenHash string `json:"token_hash"`
	// ApproverHash is the SHA-256 of the approver identity.
	ApproverHash string `json:"approver_hash"`
	// PolicyHash is the content hash of the policy in effect.
	PolicyHash string `json:"policy_hash"`

	// PreviousHash is the self-hash of the preceding certificate,
	// or GenesisHash at position zero.
	PreviousHash string `json:"previous_hash"`
	// Hash is the SHA-256 of the canonical payload (all fields above).
	Hash string `json:"hash"`
	// Signature is the hex ed25519 signature over the canonical payload hash.
	Signature string `json:"signature"`
	// PublicKey is the hex ed25519 public key of the signer.
	PublicKey string `json:"public_key"`
	// EnclaveBacked records whether the signing key was hardware-isolated.
	EnclaveBacked bool `json:"enclave_backed"`
}

// LedgerStore is the durable, ordered certificate log. The only
// required properties are ordered durability and crash-recoverable
// appends; no particular storage engine is assumed.
type LedgerStore interface {
	// Append stores a certificate at the end of the log.
	Append(ctx context.Context, c *Certificate) error
	// All returns every certificate, oldest to newest.
	All(ctx context.Context) ([]Certificate, error)
	// Count returns the number of certificates in the log.
	Count(ctx context.Context) (int, error)
	// Close releases resources.
	Close() error
}
