// Package memory provides in-memory adapter implementations for tests and
// dev mode.
package memory

import (
	"context"
	"sync"

	"github.com/execguard/execguard/internal/domain/cert"
)

// LedgerStore is an in-memory certificate ledger.
type LedgerStore struct {
	mu    sync.Mutex
	certs []cert.Certificate
}

// NewLedgerStore creates an empty in-memory ledger.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// Append stores a copy of the certificate.
func (s *LedgerStore) Append(_ context.Context, c *cert.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs = append(s.certs, *c)
	return nil
}

// All returns every certificate in append order.
func (s *LedgerStore) All(_ context.Context) ([]cert.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cert.Certificate(nil), s.certs...), nil
}

// Count returns the number of certificates.
func (s *LedgerStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.certs), nil
}

// Close is a no-op.
func (s *LedgerStore) Close() error { return nil }

// Compile-time interface verification.
var _ cert.LedgerStore = (*LedgerStore)(nil)
