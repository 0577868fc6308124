package memory

import (
	"context"
	"sync"

	"github.com/execguard/execguard/internal/domain/audit"
)

// AuditStore keeps the newest audit records in a ring buffer. Used when
// no audit directory is configured; records are inspectable over the
// admin API but do not survive a restart.
type AuditStore struct {
	mu      sync.RWMutex
	records []audit.Record
	next    int
	full    bool
}

// NewAuditStore creates an in-memory audit store holding up to size
// records. A non-positive size falls back to 1000.
func NewAuditStore(size int) *AuditStore {
	if size <= 0 {
		size = 1000
	}
	return &AuditStore{records: make([]audit.Record, size)}
}

func (s *AuditStore) Append(_ context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[s.next] = r
		s.next = (s.next + 1) % len(s.records)
		if s.next == 0 {
			s.full = true
		}
	}
	return nil
}

func (s *AuditStore) Flush(context.Context) error { return nil }

func (s *AuditStore) Close() error { return nil }

// GetRecent returns up to n records, newest first.
func (s *AuditStore) GetRecent(n int) []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.records)
	}
	if n > size {
		n = size
	}
	out := make([]audit.Record, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.records)) % len(s.records)
		out = append(out, s.records[idx])
	}
	return out
}

var _ audit.Store = (*AuditStore)(nil)
