package cert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/execguard/execguard/internal/domain/risk"
)

// MintParams carries the raw artifacts of one completed execution.
// The minter hashes them; raw content never enters the ledger.
type MintParams struct {
	// RiskTier is the executed action's classification.
	RiskTier risk.Tier
	// Intent is the originating user intent text.
	Intent string
	// Proposal is the executed proposal serialization.
	Proposal string
	// Result is the execution result serialization.
	Result string
	// Token is the authorization token that permitted execution.
	Token string
	// Approver identifies the human who approved.
	Approver string
	// PolicyHash is the content hash of the policy in effect.
	PolicyHash string
}

// Minter creates certificates at successful execution and appends them
// to the durable ledger, threading the hash chain forward.
type Minter struct {
	signer        *Signer
	store         LedgerStore
	enclaveBacked bool
	clock         func() time.Time

	// mu serializes the tail read and the append so concurrent mints
	// cannot chain onto the same predecessor.
	mu sync.Mutex
}

// MinterOption configures a Minter.
type MinterOption func(*Minter)

// WithEnclaveBacked records whether the signing key is hardware-isolated.
func WithEnclaveBacked(backed bool) MinterOption {
	return func(m *Minter) { m.enclaveBacked = backed }
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) MinterOption {
	return func(m *Minter) { m.clock = clock }
}

// NewMinter creates a Minter over the given signer and ledger store.
func NewMinter(signer *Signer, store LedgerStore, opts ...MinterOption) *Minter {
	m := &Minter{
		signer: signer,
		store:  store,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint builds, signs, and appends a certificate for one completed
// execution. The tail read and the append happen under one lock, so
// mints from concurrent callers always chain strictly one after the
// other.
func (m *Minter) Mint(ctx context.Context, p MintParams) (*Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.previousHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain tail: %w", err)
	}

	c := &Certificate{
		ID:            uuid.New().String(),
		Timestamp:     m.clock(),
		RiskTier:      p.RiskTier,
		IntentHash:    HashContent(p.Intent),
		ProposalHash:  HashContent(p.Proposal),
		ResultHash:    HashContent(p.Result),
		TokenHash:     HashContent(p.Token),
		ApproverHash:  HashContent(p.Approver),
		PolicyHash:    p.PolicyHash,
		PreviousHash:  prev,
		PublicKey:     m.signer.PublicKeyHex(),
		EnclaveBacked: m.enclaveBacked,
	}

	msg, hashHex, err := payloadHash(c)
	if err != nil {
		return nil, err
	}
	c.Hash = hashHex
	c.Signature = m.signer.Sign(msg)

	if err := m.store.Append(ctx, c); err != nil {
		return nil, fmt.Errorf("append certificate: %w", err)
	}
	return c, nil
}

func (m *Minter) previousHash(ctx context.Context) (string, error) {
	certs, err := m.store.All(ctx)
	if err != nil {
		return "", err
	}
	if len(certs) == 0 {
		return GenesisHash, nil
	}
	return certs[len(certs)-1].Hash, nil
}
