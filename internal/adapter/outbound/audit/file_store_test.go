package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/execguard/execguard/internal/domain/audit"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, cfg FileConfig) *FileStore {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	logger := slogDiscard()
	s, err := NewFileStore(cfg, logger)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(eventType, proposalID, outcome string, ts time.Time) audit.Record {
	return audit.Record{
		Timestamp:  ts,
		EventType:  eventType,
		ProposalID: proposalID,
		Outcome:    outcome,
	}
}

func TestFileStore_AppendAndGetRecent(t *testing.T) {
	s := newTestStore(t, FileConfig{})

	now := time.Now().UTC()
	err := s.Append(context.Background(),
		record(audit.EventTypeAuthorization, "p1", audit.OutcomeAllow, now),
		record(audit.EventTypeAuthorization, "p2", audit.OutcomeDeny, now),
	)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	recent := s.GetRecent(10)
	if len(recent) != 2 {
		t.Fatalf("GetRecent(10) = %d records, want 2", len(recent))
	}
	// Newest first.
	if recent[0].ProposalID != "p2" {
		t.Errorf("most recent record = %q, want p2", recent[0].ProposalID)
	}
}

func TestFileStore_SizeRotation(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, FileConfig{Dir: dir, MaxFileSizeMB: 1})
	// Force a tiny cap so a couple of writes rotate.
	s.maxFileSize = 64

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := s.Append(context.Background(),
			record(audit.EventTypeAuthorization, "p1", audit.OutcomeAllow, now)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) < 2 {
		t.Errorf("expected size rotation to create multiple files, got %d", len(entries))
	}
}

func TestFileStore_RetentionCleanup(t *testing.T) {
	dir := t.TempDir()

	// Create an audit file well past retention before opening the store.
	old := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
	oldPath := filepath.Join(dir, "audit-"+old+".log")
	if err := os.WriteFile(oldPath, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	newTestStore(t, FileConfig{Dir: dir, RetentionDays: 7})

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed by retention cleanup", oldPath)
	}
}

func TestFileStore_Query(t *testing.T) {
	s := newTestStore(t, FileConfig{})

	now := time.Now().UTC().Truncate(time.Second)
	err := s.Append(context.Background(),
		record(audit.EventTypeAuthorization, "p1", audit.OutcomeAllow, now),
		record(audit.EventTypeAuthorization, "p2", audit.OutcomeDeny, now.Add(time.Second)),
		record(audit.EventTypeSessionExpired, "p2", "", now.Add(2*time.Second)),
	)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	tests := []struct {
		name   string
		filter audit.Filter
		want   int
	}{
		{
			name:   "all in range",
			filter: audit.Filter{StartTime: now, EndTime: now.Add(time.Minute)},
			want:   3,
		},
		{
			name:   "by event type",
			filter: audit.Filter{StartTime: now, EndTime: now.Add(time.Minute), EventType: audit.EventTypeSessionExpired},
			want:   1,
		},
		{
			name:   "by proposal",
			filter: audit.Filter{StartTime: now, EndTime: now.Add(time.Minute), ProposalID: "p2"},
			want:   2,
		},
		{
			name:   "by outcome",
			filter: audit.Filter{StartTime: now, EndTime: now.Add(time.Minute), Outcome: audit.OutcomeDeny},
			want:   1,
		},
		{
			name:   "limit",
			filter: audit.Filter{StartTime: now, EndTime: now.Add(time.Minute), Limit: 2},
			want:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("Query() error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Query() = %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFileStore_QueryRangeExceeded(t *testing.T) {
	s := newTestStore(t, FileConfig{})

	now := time.Now().UTC()
	_, err := s.Query(context.Background(), audit.Filter{
		StartTime: now.AddDate(0, 0, -30),
		EndTime:   now,
	})
	if !errors.Is(err, audit.ErrDateRangeExceeded) {
		t.Fatalf("Query() error = %v, want ErrDateRangeExceeded", err)
	}
}

func TestFileStore_QueryStats(t *testing.T) {
	s := newTestStore(t, FileConfig{})

	now := time.Now().UTC().Truncate(time.Second)
	err := s.Append(context.Background(),
		record(audit.EventTypeAuthorization, "p1", audit.OutcomeAllow, now),
		record(audit.EventTypeAuthorization, "p1", audit.OutcomeDeny, now),
		record(audit.EventTypeSessionExpired, "p2", "", now),
	)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	stats, err := s.QueryStats(context.Background(), now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("QueryStats() error: %v", err)
	}
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
	if stats.UniqueProposals != 2 {
		t.Errorf("UniqueProposals = %d, want 2", stats.UniqueProposals)
	}
	if stats.Denials != 1 {
		t.Errorf("Denials = %d, want 1", stats.Denials)
	}
	if stats.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", stats.Expirations)
	}
	if got := stats.ByEventType[audit.EventTypeAuthorization]; got.Events != 2 || got.Allowed != 1 || got.Denied != 1 {
		t.Errorf("authorization stats = %+v", got)
	}
}

func TestFileStore_ReopenResumesSuffix(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, FileConfig{Dir: dir})
	s.maxFileSize = 1 // rotate on every append

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := s.Append(context.Background(),
			record(audit.EventTypeAuthorization, "p1", audit.OutcomeAllow, now)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened := newTestStore(t, FileConfig{Dir: dir})
	if reopened.currentSuffix == 0 {
		t.Error("reopened store did not resume the highest suffix")
	}
}
