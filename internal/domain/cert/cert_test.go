package cert

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/execguard/execguard/internal/domain/risk"
)

// memLedger is an in-memory LedgerStore for tests.
type memLedger struct {
	mu    sync.Mutex
	certs []Certificate
}

func (m *memLedger) Append(_ context.Context, c *Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs = append(m.certs, *c)
	return nil
}

func (m *memLedger) All(_ context.Context) ([]Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Certificate(nil), m.certs...), nil
}

func (m *memLedger) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.certs), nil
}

func (m *memLedger) Close() error { return nil }

var testTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testMinter(t *testing.T, store LedgerStore) *Minter {
	t.Helper()
	signer, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return NewMinter(signer, store, WithClock(func() time.Time { return testTime }))
}

func testParams(n string) MintParams {
	return MintParams{
		RiskTier:   risk.TierHigh,
		Intent:     "send the board update " + n,
		Proposal:   "proposal-" + n,
		Result:     "result-" + n,
		Token:      "token-" + n,
		Approver:   "approver@local",
		PolicyHash: HashContent("policy-content"),
	}
}

func mintChain(t *testing.T, n int) ([]Certificate, *Verifier) {
	t.Helper()
	store := &memLedger{}
	minter := testMinter(t, store)
	for i := 0; i < n; i++ {
		if _, err := minter.Mint(context.Background(), testParams(string(rune('a'+i)))); err != nil {
			t.Fatalf("Mint() error = %v", err)
		}
	}
	certs, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	verifier := NewVerifier(WithVerifierClock(func() time.Time { return testTime.Add(time.Hour) }))
	return certs, verifier
}

func TestMint_Chaining(t *testing.T) {
	certs, _ := mintChain(t, 3)

	if certs[0].PreviousHash != GenesisHash {
		t.Errorf("first PreviousHash = %q, want GENESIS", certs[0].PreviousHash)
	}
	for i := 1; i < len(certs); i++ {
		if certs[i].PreviousHash != certs[i-1].Hash {
			t.Errorf("certificate %d PreviousHash = %q, want %q", i, certs[i].PreviousHash, certs[i-1].Hash)
		}
	}
}

func TestMint_HashesNotRawContent(t *testing.T) {
	certs, _ := mintChain(t, 1)
	c := certs[0]

	for name, field := range map[string]string{
		"IntentHash":   c.IntentHash,
		"ProposalHash": c.ProposalHash,
		"ResultHash":   c.ResultHash,
		"TokenHash":    c.TokenHash,
		"ApproverHash": c.ApproverHash,
	} {
		if len(field) != 64 {
			t.Errorf("%s = %q, want 64 hex chars", name, field)
		}
	}
	if strings.Contains(c.IntentHash, "board update") {
		t.Error("raw intent leaked into certificate")
	}
}

func TestVerify_ValidCertificate(t *testing.T) {
	certs, verifier := mintChain(t, 1)

	r := verifier.Verify(&certs[0], GenesisHash)
	if !r.IsValid() {
		t.Fatalf("Verify() invalid: %v", r.Failures)
	}
	if len(r.Failures) != 0 {
		t.Errorf("Failures = %v, want none", r.Failures)
	}
}

func TestVerify_HashDeterministicAcrossRoundTrip(t *testing.T) {
	// The canonical payload must be byte-stable after the certificate
	// has been serialized and recovered from a store.
	certs, verifier := mintChain(t, 1)

	copy := certs[0]
	copy.Timestamp = copy.Timestamp.UTC()

	if r := verifier.Verify(&copy, GenesisHash); !r.HashValid {
		t.Errorf("hash check failed after round trip: %v", r.Failures)
	}
}

func TestVerify_TamperDetection(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Certificate)
		sigOK   bool
		hashOK  bool
		chainOK bool
	}{
		{
			name:    "flipped stored hash",
			mutate:  func(c *Certificate) { c.Hash = flipHex(c.Hash) },
			sigOK:   true, // signature covers the payload, not the stored hash
			hashOK:  false,
			chainOK: true,
		},
		{
			name:    "flipped signature",
			mutate:  func(c *Certificate) { c.Signature = flipHex(c.Signature) },
			sigOK:   false,
			hashOK:  true,
			chainOK: true,
		},
		{
			name:    "flipped previous hash",
			mutate:  func(c *Certificate) { c.PreviousHash = "GENESIS-NOT" },
			sigOK:   false, // previous hash is part of the signed payload
			hashOK:  false,
			chainOK: false,
		},
		{
			name:    "mutated content field",
			mutate:  func(c *Certificate) { c.ResultHash = flipHex(c.ResultHash) },
			sigOK:   false,
			hashOK:  false,
			chainOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certs, verifier := mintChain(t, 1)
			c := certs[0]
			tt.mutate(&c)

			r := verifier.Verify(&c, GenesisHash)
			if r.SignatureValid != tt.sigOK {
				t.Errorf("SignatureValid = %v, want %v (%v)", r.SignatureValid, tt.sigOK, r.Failures)
			}
			if r.HashValid != tt.hashOK {
				t.Errorf("HashValid = %v, want %v (%v)", r.HashValid, tt.hashOK, r.Failures)
			}
			if r.ChainValid != tt.chainOK {
				t.Errorf("ChainValid = %v, want %v (%v)", r.ChainValid, tt.chainOK, r.Failures)
			}
			if r.IsValid() {
				t.Error("IsValid() = true for a tampered certificate")
			}
			if len(r.Failures) == 0 {
				t.Error("Failures empty for a tampered certificate")
			}
		})
	}
}

func TestVerify_Temporal(t *testing.T) {
	certs, _ := mintChain(t, 1)

	tests := []struct {
		name        string
		now         time.Time
		valid       bool
		futureDated bool
	}{
		{name: "fresh", now: testTime.Add(time.Hour), valid: true},
		{name: "at boundary", now: testTime.Add(DefaultMaxAge), valid: true},
		{name: "stale", now: testTime.Add(DefaultMaxAge + time.Minute), valid: false},
		{name: "future dated", now: testTime.Add(-time.Minute), valid: false, futureDated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(WithVerifierClock(func() time.Time { return tt.now }))
			r := v.Verify(&certs[0], GenesisHash)
			if r.TemporalValid != tt.valid {
				t.Errorf("TemporalValid = %v, want %v (%v)", r.TemporalValid, tt.valid, r.Failures)
			}
			if r.FutureDated != tt.futureDated {
				t.Errorf("FutureDated = %v, want %v", r.FutureDated, tt.futureDated)
			}
			if tt.futureDated {
				found := false
				for _, f := range r.Failures {
					if strings.Contains(f, "clock skew") {
						found = true
					}
				}
				if !found {
					t.Errorf("future-dated failure not flagged distinctly: %v", r.Failures)
				}
			}
		})
	}
}

func TestVerify_EnclaveInformationalOnly(t *testing.T) {
	store := &memLedger{}
	signer, _ := NewSigner()
	minter := NewMinter(signer, store,
		WithClock(func() time.Time { return testTime }),
		WithEnclaveBacked(false),
	)
	c, err := minter.Mint(context.Background(), testParams("x"))
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	v := NewVerifier(WithVerifierClock(func() time.Time { return testTime.Add(time.Hour) }))
	r := v.Verify(c, GenesisHash)
	if r.EnclaveBacked {
		t.Error("EnclaveBacked = true, want false")
	}
	if !r.IsValid() {
		t.Errorf("software-backed key must not affect validity: %v", r.Failures)
	}
}

func TestVerifyChain_AllValid(t *testing.T) {
	certs, verifier := mintChain(t, 3)

	results := verifier.VerifyChain(certs)
	if len(results) != 3 {
		t.Fatalf("VerifyChain() returned %d results, want 3", len(results))
	}
	for i, r := range results {
		if !r.IsValid() {
			t.Errorf("certificate %d invalid: %v", i, r.Failures)
		}
	}
}

func TestVerifyChain_CorruptMiddleHash(t *testing.T) {
	// Scenario: corrupting certificate 2's stored hash breaks 2 (hash
	// integrity) and 3 (linkage), while 1 stays valid.
	certs, verifier := mintChain(t, 3)
	certs[1].Hash = flipHex(certs[1].Hash)

	results := verifier.VerifyChain(certs)
	if !results[0].IsValid() {
		t.Errorf("certificate 1 invalid: %v", results[0].Failures)
	}
	if results[1].IsValid() || results[1].HashValid {
		t.Error("certificate 2 hash corruption not detected")
	}
	if results[2].IsValid() || results[2].ChainValid {
		t.Error("certificate 3 linkage to corrupted hash not detected")
	}
}

func TestMint_ConcurrentMintsKeepChainOrdered(t *testing.T) {
	store := &memLedger{}
	minter := testMinter(t, store)

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := minter.Mint(context.Background(), testParams(string(rune('a'+w)))); err != nil {
					t.Errorf("Mint() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	certs, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(certs) != workers*perWorker {
		t.Fatalf("got %d certificates, want %d", len(certs), workers*perWorker)
	}

	// Every previous hash is unique: no two certificates forked off the
	// same predecessor.
	seen := make(map[string]string, len(certs))
	for _, c := range certs {
		if other, dup := seen[c.PreviousHash]; dup {
			t.Fatalf("certificates %s and %s share previous hash %s", other, c.ID, c.PreviousHash)
		}
		seen[c.PreviousHash] = c.ID
	}

	verifier := NewVerifier(WithVerifierClock(func() time.Time { return testTime.Add(time.Hour) }))
	for i, res := range verifier.VerifyChain(certs) {
		if !res.IsValid() {
			t.Errorf("certificate %d invalid after concurrent minting: %v", i, res.Failures)
		}
	}
}

func TestVerifyChain_CorruptMiddlePreviousHash(t *testing.T) {
	// Flipping certificate 2's previous hash invalidates its own payload
	// (signature, hash, linkage) and leaves certificate 3 without a
	// trustworthy anchor, so its linkage fails too.
	certs, verifier := mintChain(t, 3)
	certs[1].PreviousHash = flipHex(certs[1].PreviousHash)

	results := verifier.VerifyChain(certs)
	if !results[0].IsValid() {
		t.Errorf("certificate 1 invalid: %v", results[0].Failures)
	}
	if results[1].SignatureValid || results[1].HashValid || results[1].ChainValid {
		t.Errorf("certificate 2 tamper not fully detected: %+v", results[1])
	}
	if results[2].IsValid() || results[2].ChainValid {
		t.Error("certificate 3 accepted a link anchored on a failed hash check")
	}
	if !results[2].SignatureValid || !results[2].HashValid {
		t.Errorf("certificate 3 own cryptography should still verify: %v", results[2].Failures)
	}
}

func TestVerifyChain_DoesNotShortCircuit(t *testing.T) {
	certs, verifier := mintChain(t, 3)
	certs[0].Signature = flipHex(certs[0].Signature)

	results := verifier.VerifyChain(certs)
	if results[0].IsValid() {
		t.Error("corrupted first certificate reported valid")
	}
	// Later certificates are still fully verified.
	if !results[1].IsValid() || !results[2].IsValid() {
		t.Errorf("later certificates not verified after early failure: %v, %v",
			results[1].Failures, results[2].Failures)
	}
}

func TestVerifyChain_Empty(t *testing.T) {
	_, verifier := mintChain(t, 1)
	if results := verifier.VerifyChain(nil); len(results) != 0 {
		t.Errorf("VerifyChain(nil) = %d results, want 0", len(results))
	}
}

func TestSigner_SaveLoadRoundTrip(t *testing.T) {
	signer, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	path := t.TempDir() + "/signing.key"
	if err := signer.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadSigner(path)
	if err != nil {
		t.Fatalf("LoadSigner() error = %v", err)
	}
	if loaded.PublicKeyHex() != signer.PublicKeyHex() {
		t.Error("loaded signer has a different public key")
	}

	msg := []byte("payload")
	if !VerifySignature(signer.PublicKeyHex(), loaded.Sign(msg), msg) {
		t.Error("signature from loaded signer does not verify")
	}
}

func TestVerifySignature_MalformedInputs(t *testing.T) {
	signer, _ := NewSigner()
	msg := []byte("payload")
	sig := signer.Sign(msg)

	if VerifySignature("zz", sig, msg) {
		t.Error("malformed public key verified")
	}
	if VerifySignature(signer.PublicKeyHex(), "zz", msg) {
		t.Error("malformed signature verified")
	}
	if VerifySignature(signer.PublicKeyHex(), sig[:8], msg) {
		t.Error("truncated signature verified")
	}
}

// flipHex flips the last hex digit of a string.
func flipHex(s string) string {
	if s == "" {
		return s
	}
	last := s[len(s)-1]
	repl := byte('0')
	if last == '0' {
		repl = '1'
	}
	return s[:len(s)-1] + string(repl)
}
