package approval

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/execguard/execguard/internal/domain/risk"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(clock *fakeClock) *Store {
	return NewStore(Config{
		Expiry:     5 * time.Minute,
		HistoryCap: 3,
		Clock:      clock.Now,
	})
}

func testSession(id, proposalID string) *Session {
	return &Session{
		ID:            id,
		ProposalID:    proposalID,
		RiskTier:      risk.TierMedium,
		RiskScore:     0.4,
		Reversibility: risk.Reversible,
		Scopes:        []string{"sendEmail"},
		EstimatedCost: 12,
		Summary:       "send weekly summary email",
		StepCount:     2,
	}
}

func TestStore_Register(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)

	s := testSession("s1", "p1")
	if err := st.Register(s); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := st.Get("s1")
	if !ok {
		t.Fatal("Get() did not find registered session")
	}
	if !got.ExpiresAt.Equal(clock.Now().Add(5 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want creation + 5m", got.ExpiresAt)
	}

	// Duplicate registration is rejected.
	if err := st.Register(testSession("s1", "p2")); err == nil {
		t.Error("Register() accepted a duplicate session id")
	}
}

func TestStore_RecordDecision_Approve(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)
	_ = st.Register(testSession("s1", "p1"))

	clock.Advance(time.Second)
	s, err := st.RecordDecision("s1", DecisionInput{Kind: DecisionApprove})
	if err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}
	if !s.IsApproved(clock.Now()) {
		t.Error("IsApproved() = false right after approval")
	}
	if s.DecidedAt.IsZero() {
		t.Error("DecidedAt not stamped")
	}

	// Terminal decision retires the session into history.
	if pending := st.Pending(); len(pending) != 0 {
		t.Errorf("Pending() = %d sessions after terminal decision, want 0", len(pending))
	}
	if hist := st.History(); len(hist) != 1 || hist[0].ID != "s1" {
		t.Errorf("History() = %v, want [s1]", hist)
	}
}

func TestStore_RecordDecision_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeClock, *Store)
		id      string
		input   DecisionInput
		wantErr error
	}{
		{
			name:    "unknown session",
			setup:   func(*fakeClock, *Store) {},
			id:      "missing",
			input:   DecisionInput{Kind: DecisionApprove},
			wantErr: ErrSessionNotFound,
		},
		{
			name: "already decided",
			setup: func(c *fakeClock, st *Store) {
				_ = st.Register(testSession("s1", "p1"))
				_, _ = st.RecordDecision("s1", DecisionInput{Kind: DecisionReject})
			},
			id:      "s1",
			input:   DecisionInput{Kind: DecisionApprove},
			wantErr: ErrAlreadyDecided,
		},
		{
			name: "expired session",
			setup: func(c *fakeClock, st *Store) {
				_ = st.Register(testSession("s1", "p1"))
				c.Advance(6 * time.Minute)
			},
			id:      "s1",
			input:   DecisionInput{Kind: DecisionApprove},
			wantErr: ErrSessionExpired,
		},
		{
			name: "approve blocked by escalation requirement",
			setup: func(c *fakeClock, st *Store) {
				s := testSession("s1", "p1")
				s.RequiresBiometric = true
				_ = st.Register(s)
			},
			id:      "s1",
			input:   DecisionInput{Kind: DecisionApprove},
			wantErr: ErrEscalationRequired,
		},
		{
			name:    "invalid kind",
			setup:   func(c *fakeClock, st *Store) { _ = st.Register(testSession("s1", "p1")) },
			id:      "s1",
			input:   DecisionInput{Kind: DecisionKind("shrug")},
			wantErr: ErrInvalidDecision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			st := newTestStore(clock)
			tt.setup(clock, st)

			_, err := st.RecordDecision(tt.id, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RecordDecision() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_TerminalDecisionImmutable(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)
	_ = st.Register(testSession("s1", "p1"))

	first, err := st.RecordDecision("s1", DecisionInput{Kind: DecisionReject})
	if err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := st.RecordDecision("s1", DecisionInput{Kind: DecisionApprove}); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second RecordDecision() error = %v, want ErrAlreadyDecided", err)
	}

	// Stored decision and timestamp are untouched.
	got, _ := st.Get("s1")
	if got.Decision != DecisionReject || !got.DecidedAt.Equal(first.DecidedAt) {
		t.Errorf("stored decision mutated: %s at %v", got.Decision, got.DecidedAt)
	}
}

func TestStore_EscalationThenReRegister(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)

	s := testSession("s1", "p1")
	s.RequiresQuorum = true
	_ = st.Register(s)

	// Escalate keeps the session active.
	if _, err := st.RecordDecision("s1", DecisionInput{Kind: DecisionEscalate}); err != nil {
		t.Fatalf("RecordDecision(escalate) error = %v", err)
	}
	if _, ok := st.Get("s1"); !ok {
		t.Fatal("escalated session was retired")
	}

	// A new cycle registers a fresh session with the requirement met.
	s2 := testSession("s2", "p1")
	_ = st.Register(s2)
	if _, err := st.RecordDecision("s2", DecisionInput{Kind: DecisionApprove}); err != nil {
		t.Fatalf("RecordDecision() on re-registered session error = %v", err)
	}
	if _, ok := st.ValidateApproval("p1"); !ok {
		t.Error("ValidateApproval() = false after approved re-registration")
	}
}

func TestStore_PartialApproval(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)
	_ = st.Register(testSession("s1", "p1"))

	s, err := st.RecordDecision("s1", DecisionInput{
		Kind:          DecisionApprovePartial,
		ApprovedSteps: []int{0, 2},
	})
	if err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}
	if len(s.ApprovedSteps) != 2 {
		t.Errorf("ApprovedSteps = %v, want [0 2]", s.ApprovedSteps)
	}
	if !s.IsApproved(clock.Now()) {
		t.Error("partial approval does not authorize execution")
	}
}

func TestStore_ExpiryMonotonicity(t *testing.T) {
	// A session approved at t+1s authorizes at t+1s and stops
	// authorizing at t+301s, even though the decision is terminal.
	clock := newFakeClock()
	st := newTestStore(clock)
	_ = st.Register(testSession("s1", "p1"))

	clock.Advance(time.Second)
	if _, err := st.RecordDecision("s1", DecisionInput{Kind: DecisionApprove}); err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}

	if _, ok := st.ValidateApproval("p1"); !ok {
		t.Fatal("ValidateApproval() = false at t+1s")
	}

	clock.Advance(300 * time.Second) // now t+301s, past the 5m window
	if _, ok := st.ValidateApproval("p1"); ok {
		t.Error("ValidateApproval() = true at t+301s, want false")
	}

	got, _ := st.Get("s1")
	if got.IsApproved(clock.Now()) {
		t.Error("IsApproved() = true past expiry despite terminal approve")
	}
}

func TestStore_UndecidedNeverAuthorizes(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)
	_ = st.Register(testSession("s1", "p1"))

	if _, ok := st.ValidateApproval("p1"); ok {
		t.Error("ValidateApproval() = true for an undecided session")
	}

	got, _ := st.Get("s1")
	if got.IsApproved(clock.Now()) {
		t.Error("IsApproved() = true without any decision")
	}
}

func TestStore_ExpireStale(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)
	_ = st.Register(testSession("s1", "p1"))
	_ = st.Register(testSession("s2", "p2"))

	// Decide one; the other goes stale.
	_, _ = st.RecordDecision("s1", DecisionInput{Kind: DecisionReject})
	clock.Advance(6 * time.Minute)

	removed := st.ExpireStale()
	if len(removed) != 1 || removed[0].ID != "s2" {
		t.Fatalf("ExpireStale() removed %v, want [s2]", removed)
	}
	if _, ok := st.Get("s2"); ok {
		t.Error("expired session still present after sweep")
	}
	// Sweeping again is a no-op.
	if removed := st.ExpireStale(); len(removed) != 0 {
		t.Errorf("second ExpireStale() removed %v, want none", removed)
	}
}

func TestStore_HistoryCap(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock) // cap 3

	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		_ = st.Register(testSession(id, "p-"+id))
		_, _ = st.RecordDecision(id, DecisionInput{Kind: DecisionReject})
	}

	hist := st.History()
	if len(hist) != 3 {
		t.Fatalf("History() len = %d, want 3", len(hist))
	}
	if hist[0].ID != "s2" || hist[2].ID != "s4" {
		t.Errorf("History() = [%s %s %s], want oldest s1 evicted", hist[0].ID, hist[1].ID, hist[2].ID)
	}
}

func TestStore_LinkToken(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)
	_ = st.Register(testSession("s1", "p1"))
	_, _ = st.RecordDecision("s1", DecisionInput{Kind: DecisionApprove})

	// Session is in history now; token still links.
	st.LinkToken("tok-1", "s1")
	got, _ := st.Get("s1")
	if got.TokenID != "tok-1" {
		t.Errorf("TokenID = %q, want tok-1", got.TokenID)
	}

	// Unknown session id is a silent no-op.
	st.LinkToken("tok-2", "nope")
}

func TestStore_SnapshotIsolation(t *testing.T) {
	clock := newFakeClock()
	st := newTestStore(clock)

	s := testSession("s1", "p1")
	_ = st.Register(s)

	// Mutating the caller's copy after registration must not affect
	// what the approver is shown.
	s.Scopes[0] = "deleteEverything"
	s.Summary = "changed"

	got, _ := st.Get("s1")
	if got.Scopes[0] != "sendEmail" || got.Summary != "send weekly summary email" {
		t.Error("stored snapshot mutated through caller's reference")
	}

	// Mutating a returned copy must not affect the store either.
	got.Scopes[0] = "other"
	again, _ := st.Get("s1")
	if again.Scopes[0] != "sendEmail" {
		t.Error("stored snapshot mutated through returned copy")
	}
}
