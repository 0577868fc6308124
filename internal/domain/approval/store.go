package approval

import (
	"fmt"
	"sync"
	"time"
)

// Config holds store configuration.
type Config struct {
	// Expiry is the decision window for new sessions. Default: 5 minutes.
	Expiry time.Duration
	// HistoryCap bounds the decided-session buffer. Default: 50.
	HistoryCap int
	// Clock supplies the current time. Default: time.Now UTC.
	Clock func() time.Time
}

// Store holds active and decided approval sessions. All mutations are
// serialized through one mutex; the expiry and approval predicates are
// pure functions over snapshot fields plus the clock, so reads taken
// from returned copies are safe anywhere.
type Store struct {
	mu         sync.Mutex
	active     map[string]*Session
	order      []string
	history    []*Session // ring, oldest first
	historyCap int
	expiry     time.Duration
	clock      func() time.Time
}

// NewStore creates a session store with the given configuration.
func NewStore(cfg Config) *Store {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		active:     make(map[string]*Session),
		historyCap: cfg.HistoryCap,
		expiry:     cfg.Expiry,
		clock:      cfg.Clock,
	}
}

// Expiry returns the configured decision window.
func (st *Store) Expiry() time.Duration {
	return st.expiry
}

// Register inserts a new session into the active collection. The
// session's CreatedAt and ExpiresAt are stamped here so the window is
// fixed by the store's clock, not the caller's.
func (st *Store) Register(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.active[s.ID]; exists {
		return fmt.Errorf("session %s already registered", s.ID)
	}

	now := st.clock()
	s.CreatedAt = now
	s.ExpiresAt = now.Add(st.expiry)

	st.active[s.ID] = s.clone()
	st.order = append(st.order, s.ID)
	return nil
}

// DecisionInput carries a human decision for RecordDecision.
type DecisionInput struct {
	Kind          DecisionKind
	ApprovedSteps []int
	RevisionNotes string
}

// RecordDecision stamps a decision onto a session. A terminal decision
// moves the session from the active collection to the capped history
// buffer. Once terminal, the stored decision is never overwritten:
// a second call returns ErrAlreadyDecided.
func (st *Store) RecordDecision(sessionID string, in DecisionInput) (*Session, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, in.Kind)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if s := st.findHistoryLocked(sessionID); s != nil {
		return nil, ErrAlreadyDecided
	}

	s, ok := st.active[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Decision.Terminal() {
		return nil, ErrAlreadyDecided
	}

	now := st.clock()
	if s.IsExpired(now) {
		return nil, ErrSessionExpired
	}

	// The evaluator's escalation warning becomes a hard requirement
	// here: an approving decision cannot land while the session still
	// carries an unmet biometric or quorum requirement.
	if in.Kind.Approving() && (s.RequiresBiometric || s.RequiresQuorum) {
		return nil, ErrEscalationRequired
	}

	s.Decision = in.Kind
	s.DecidedAt = now
	s.ApprovedSteps = append([]int(nil), in.ApprovedSteps...)
	s.RevisionNotes = in.RevisionNotes

	if in.Kind.Terminal() {
		st.removeActiveLocked(sessionID)
		st.appendHistoryLocked(s)
	}
	return s.clone(), nil
}

// LinkToken attaches a minted authorization token id to a session in
// either collection. Unknown session ids are a benign race with expiry
// sweeps, so this is a silent no-op rather than an error.
func (st *Store) LinkToken(tokenID, sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.active[sessionID]; ok {
		s.TokenID = tokenID
		return
	}
	if s := st.findHistoryLocked(sessionID); s != nil {
		s.TokenID = tokenID
	}
}

// ExpireStale removes still-undecided sessions past their window and
// returns copies of them so the caller can emit one audit record each.
func (st *Store) ExpireStale() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.clock()
	var removed []*Session
	for _, id := range append([]string(nil), st.order...) {
		s, ok := st.active[id]
		if !ok {
			continue
		}
		if s.IsExpired(now) && s.Decision == "" {
			removed = append(removed, s.clone())
			st.removeActiveLocked(id)
		}
	}
	return removed
}

// ValidateApproval returns the session for the given proposal id if and
// only if it currently authorizes execution. This is the single read
// path an execution layer may consult, and it must be called at the
// instant of action: approval is time-relative and never cached.
func (st *Store) ValidateApproval(proposalID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.clock()
	for _, s := range st.active {
		if s.ProposalID == proposalID && s.IsApproved(now) {
			return s.clone(), true
		}
	}
	for i := len(st.history) - 1; i >= 0; i-- {
		if s := st.history[i]; s.ProposalID == proposalID && s.IsApproved(now) {
			return s.clone(), true
		}
	}
	return nil, false
}

// Get returns a copy of the session with the given id from either
// collection.
func (st *Store) Get(sessionID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.active[sessionID]; ok {
		return s.clone(), true
	}
	if s := st.findHistoryLocked(sessionID); s != nil {
		return s.clone(), true
	}
	return nil, false
}

// Pending returns copies of active, undecided, unexpired sessions in
// registration order.
func (st *Store) Pending() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.clock()
	var out []*Session
	for _, id := range st.order {
		if s, ok := st.active[id]; ok && s.Decision == "" && !s.IsExpired(now) {
			out = append(out, s.clone())
		}
	}
	return out
}

// History returns copies of decided sessions, oldest first.
func (st *Store) History() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*Session, 0, len(st.history))
	for _, s := range st.history {
		out = append(out, s.clone())
	}
	return out
}

func (st *Store) removeActiveLocked(id string) {
	delete(st.active, id)
	for i, oid := range st.order {
		if oid == id {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
}

func (st *Store) appendHistoryLocked(s *Session) {
	st.history = append(st.history, s)
	if len(st.history) > st.historyCap {
		st.history = st.history[1:]
	}
}

func (st *Store) findHistoryLocked(id string) *Session {
	for _, s := range st.history {
		if s.ID == id {
			return s
		}
	}
	return nil
}
