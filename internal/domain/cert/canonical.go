package cert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// canonicalPayload returns the RFC 8785 canonical JSON of the
// certificate's content fields. Hash and Signature are excluded: the
// payload is exactly what the self-hash and the signature cover.
func canonicalPayload(c *Certificate) ([]byte, error) {
	content := struct {
		ID            string `json:"id"`
		Timestamp     string `json:"timestamp"`
		RiskTier      string `json:"risk_tier"`
		IntentHash    string `json:"intent_hash"`
		ProposalHash  string `json:"proposal_hash"`
		ResultHash    string `json:"result_hash"`
		TokenHash     string `json:"token_hash"`
		ApproverHash  string `json:"approver_hash"`
		PolicyHash    string `json:"policy_hash"`
		PreviousHash  string `json:"previous_hash"`
		PublicKey     string `json:"public_key"`
		EnclaveBacked bool   `json:"enclave_backed"`
	}{
		ID:            c.ID,
		Timestamp:     c.Timestamp.UTC().Format(timestampLayout),
		RiskTier:      string(c.RiskTier),
		IntentHash:    c.IntentHash,
		ProposalHash:  c.ProposalHash,
		ResultHash:    c.ResultHash,
		TokenHash:     c.TokenHash,
		ApproverHash:  c.ApproverHash,
		PolicyHash:    c.PolicyHash,
		PreviousHash:  c.PreviousHash,
		PublicKey:     c.PublicKey,
		EnclaveBacked: c.EnclaveBacked,
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal certificate payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize certificate payload: %w", err)
	}
	return canonical, nil
}

// timestampLayout pins the timestamp encoding so the canonical payload
// is byte-stable across marshal/unmarshal round trips.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// payloadHash returns the SHA-256 of the canonical payload, both as
// raw bytes (the message that gets signed) and lowercase hex (the
// stored certificate hash).
func payloadHash(c *Certificate) ([]byte, string, error) {
	payload, err := canonicalPayload(c)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(payload)
	return sum[:], hex.EncodeToString(sum[:]), nil
}

// HashContent returns the SHA-256 hex digest of arbitrary content.
// Certificates store digests of the intent, proposal, result, token,
// and approver identity, never the raw values.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
