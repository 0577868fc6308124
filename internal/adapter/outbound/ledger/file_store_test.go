package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/execguard/execguard/internal/domain/cert"
	"github.com/execguard/execguard/internal/domain/risk"
)

func sampleCert(id, previous string) *cert.Certificate {
	return &cert.Certificate{
		ID:           id,
		Timestamp:    time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		RiskTier:     risk.TierHigh,
		IntentHash:   cert.HashContent("intent-" + id),
		ProposalHash: cert.HashContent("proposal-" + id),
		ResultHash:   cert.HashContent("result-" + id),
		TokenHash:    cert.HashContent("token-" + id),
		ApproverHash: cert.HashContent("approver"),
		PolicyHash:   cert.HashContent("policy"),
		PreviousHash: previous,
		Hash:         cert.HashContent("self-" + id),
		Signature:    "00",
		PublicKey:    "00",
	}
}

func TestFileStore_AppendAndRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() error: %v", err)
	}

	ctx := context.Background()
	if err := s.Append(ctx, sampleCert("c1", cert.GenesisHash)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(ctx, sampleCert("c2", cert.HashContent("self-c1"))); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// Reopen and verify recovery.
	s2, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() reopen error: %v", err)
	}
	defer func() { _ = s2.Close() }()

	count, err := s2.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 2 {
		t.Fatalf("Count() = %d, want 2", count)
	}

	certs, err := s2.All(ctx)
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if certs[0].ID != "c1" || certs[1].ID != "c2" {
		t.Errorf("recovered order = %s, %s", certs[0].ID, certs[1].ID)
	}
	if certs[1].PreviousHash != certs[0].Hash {
		t.Error("recovered chain linkage broken")
	}
}

func TestFileStore_TornWriteRejectedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() error: %v", err)
	}
	if err := s.Append(context.Background(), sampleCert("c1", cert.GenesisHash)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// Simulate a torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("OpenFile() error: %v", err)
	}
	if _, err := f.WriteString(`{"id":"c2","trunc`); err != nil {
		t.Fatalf("WriteString() error: %v", err)
	}
	_ = f.Close()

	if _, err := OpenFileStore(path); err == nil {
		t.Fatal("OpenFileStore() expected error for torn trailing line")
	}
}

func TestFileStore_AllReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.Append(ctx, sampleCert("c1", cert.GenesisHash)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	certs, _ := s.All(ctx)
	certs[0].Hash = "mutated"

	again, _ := s.All(ctx)
	if again[0].Hash == "mutated" {
		t.Error("All() exposed internal state")
	}
}

func TestSqliteStore_AppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := OpenSqliteStore(path)
	if err != nil {
		t.Fatalf("OpenSqliteStore() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.Append(ctx, sampleCert("c1", cert.GenesisHash)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(ctx, sampleCert("c2", cert.HashContent("self-c1"))); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 2 {
		t.Fatalf("Count() = %d, want 2", count)
	}

	certs, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if certs[0].ID != "c1" || certs[1].ID != "c2" {
		t.Errorf("order = %s, %s", certs[0].ID, certs[1].ID)
	}
	if !certs[0].Timestamp.Equal(sampleCert("c1", "").Timestamp) {
		t.Error("timestamp did not round-trip")
	}
}

func TestSqliteStore_DuplicateIDRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := OpenSqliteStore(path)
	if err != nil {
		t.Fatalf("OpenSqliteStore() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.Append(ctx, sampleCert("c1", cert.GenesisHash)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(ctx, sampleCert("c1", cert.GenesisHash)); err == nil {
		t.Fatal("Append() expected error for duplicate certificate ID")
	}
}

func TestSqliteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := OpenSqliteStore(path)
	if err != nil {
		t.Fatalf("OpenSqliteStore() error: %v", err)
	}
	ctx := context.Background()
	if err := s.Append(ctx, sampleCert("c1", cert.GenesisHash)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s2, err := OpenSqliteStore(path)
	if err != nil {
		t.Fatalf("OpenSqliteStore() reopen error: %v", err)
	}
	defer func() { _ = s2.Close() }()

	count, err := s2.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d after reopen, want 1", count)
	}
}
