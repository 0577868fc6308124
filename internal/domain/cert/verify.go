package cert

import (
	"fmt"
	"time"
)

// VerificationResult is the per-certificate outcome of verification.
// Checks are independent and all recorded; a single failure never hides
// the others.
type VerificationResult struct {
	// CertificateID identifies which certificate this result describes.
	CertificateID string `json:"certificate_id"`
	// SignatureValid is true when the stored signature verifies against
	// the recomputed canonical payload.
	SignatureValid bool `json:"signature_valid"`
	// HashValid is true when the recomputed self-hash matches the stored one.
	HashValid bool `json:"hash_valid"`
	// ChainValid is true when PreviousHash matches the expected predecessor.
	ChainValid bool `json:"chain_valid"`
	// TemporalValid is true when the certificate age is within bounds.
	TemporalValid bool `json:"temporal_valid"`
	// FutureDated flags a negative age: possible clock skew or forgery,
	// distinct from a merely stale certificate.
	FutureDated bool `json:"future_dated"`
	// EnclaveBacked surfaces the hardware-isolation flag. Informational
	// only; it never affects validity.
	EnclaveBacked bool `json:"enclave_backed"`
	// Failures lists every failed check with detail.
	Failures []string `json:"failures,omitempty"`
}

// IsValid requires signature, hash, chain, and temporal checks to all
// pass. Enclave backing is deliberately excluded: it is a security
// bonus, not a requirement.
func (r VerificationResult) IsValid() bool {
	return r.SignatureValid && r.HashValid && r.ChainValid && r.TemporalValid
}

// Verifier replays certificates against their own cryptography.
// Verification is read-only and safe to run concurrently across
// independent certificates.
type Verifier struct {
	maxAge time.Duration
	clock  func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithMaxAge overrides the temporal validity window.
func WithMaxAge(maxAge time.Duration) VerifierOption {
	return func(v *Verifier) { v.maxAge = maxAge }
}

// WithVerifierClock injects a clock for tests.
func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) { v.clock = clock }
}

// NewVerifier creates a Verifier with the default 24h age window.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		maxAge: DefaultMaxAge,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the five independent checks on one certificate. The
// expectedPrevious argument is the predecessor's self-hash, GenesisHash
// for position zero, or empty to skip the linkage check.
func (v *Verifier) Verify(c *Certificate, expectedPrevious string) VerificationResult {
	result := VerificationResult{
		CertificateID: c.ID,
		EnclaveBacked: c.EnclaveBacked,
	}

	// 1. Signature over the recomputed canonical payload.
	msg, hashHex, err := payloadHash(c)
	if err != nil {
		result.Failures = append(result.Failures,
			fmt.Sprintf("payload not canonicalizable: %v", err))
	} else {
		if VerifySignature(c.PublicKey, c.Signature, msg) {
			result.SignatureValid = true
		} else {
			result.Failures = append(result.Failures, "signature does not verify against payload")
		}

		// 2. Hash integrity.
		if hashHex == c.Hash {
			result.HashValid = true
		} else {
			result.Failures = append(result.Failures,
				fmt.Sprintf("stored hash %s != computed %s", c.Hash, hashHex))
		}
	}

	// 3. Chain linkage (skipped when no expectation supplied).
	if expectedPrevious == "" {
		result.ChainValid = true
	} else if c.PreviousHash == expectedPrevious {
		result.ChainValid = true
	} else {
		result.Failures = append(result.Failures,
			fmt.Sprintf("previous hash %s != expected %s", c.PreviousHash, expectedPrevious))
	}

	// 4. Enclave backing is informational; already surfaced above.

	// 5. Temporal validity. A negative age is a distinct anomaly.
	age := v.clock().Sub(c.Timestamp)
	switch {
	case age < 0:
		result.FutureDated = true
		result.Failures = append(result.Failures,
			fmt.Sprintf("timestamp %s is in the future: clock skew or forgery", c.Timestamp.Format(time.RFC3339)))
	case age > v.maxAge:
		result.Failures = append(result.Failures,
			fmt.Sprintf("certificate age %s exceeds maximum %s", age.Round(time.Second), v.maxAge))
	default:
		result.TemporalValid = true
	}

	return result
}

// VerifyChain walks an ordered certificate list oldest to newest,
// threading the expected previous hash forward from GenesisHash. One
// result is returned per certificate; a broken link never aborts
// verification of the rest, so the full extent of tampering is
// reported rather than its first occurrence.
func (v *Verifier) VerifyChain(certs []Certificate) []VerificationResult {
	results := make([]VerificationResult, 0, len(certs))
	expected := GenesisHash
	prevHashValid := true
	for i := range certs {
		c := &certs[i]
		result := v.Verify(c, expected)
		// A predecessor whose stored and computed hashes disagree cannot
		// anchor this link, whichever of the two was tampered with.
		if !prevHashValid && result.ChainValid {
			result.ChainValid = false
			result.Failures = append(result.Failures,
				fmt.Sprintf("previous certificate %s failed its hash check, link is untrusted", certs[i-1].ID))
		}
		results = append(results, result)
		expected = c.Hash
		prevHashValid = result.HashValid
	}
	return results
}
