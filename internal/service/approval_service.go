package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/execguard/execguard/internal/domain/approval"
	"github.com/execguard/execguard/internal/domain/audit"
)

// ApprovalService wraps the approval session store with audit emission and a
// background sweep that retires expired sessions. Expiry is already enforced
// at read time by the store; the sweep exists so abandoned sessions are
// surfaced in the audit trail instead of lingering silently.
type ApprovalService struct {
	store         *approval.Store
	auditor       *AuditService
	logger        *slog.Logger
	sweepInterval time.Duration
	clock         func() time.Time

	wg   sync.WaitGroup
	stop chan struct{}
}

// ApprovalServiceOption configures ApprovalService.
type ApprovalServiceOption func(*ApprovalService)

// WithSweepInterval sets how often expired sessions are swept.
func WithSweepInterval(interval time.Duration) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.sweepInterval = interval
	}
}

// WithApprovalAuditor attaches an audit service for session lifecycle events.
func WithApprovalAuditor(a *AuditService) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.auditor = a
	}
}

// WithApprovalClock overrides the wall clock, for tests.
func WithApprovalClock(clock func() time.Time) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.clock = clock
	}
}

// NewApprovalService creates an ApprovalService over the given store.
func NewApprovalService(store *approval.Store, logger *slog.Logger, opts ...ApprovalServiceOption) *ApprovalService {
	s := &ApprovalService{
		store:         store,
		logger:        logger,
		sweepInterval: 30 * time.Second,
		clock:         time.Now,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background expiry sweep.
func (s *ApprovalService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.sweeper(ctx)
}

// Stop halts the sweep and waits for it to finish.
func (s *ApprovalService) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Register creates a pending approval session for a proposal. The session's
// expiry window is stamped by the store.
func (s *ApprovalService) Register(session *approval.Session) error {
	if err := s.store.Register(session); err != nil {
		return err
	}

	s.logger.Info("approval session registered",
		"session_id", session.ID,
		"proposal_id", session.ProposalID,
		"risk_tier", session.RiskTier,
		"expires_at", session.ExpiresAt,
	)
	s.audit(audit.Record{
		Timestamp:  s.clock(),
		EventType:  audit.EventTypeSessionRegistered,
		ProposalID: session.ProposalID,
		SessionID:  session.ID,
		ActorType:  audit.ActorTypeSystem,
		RiskTier:   string(session.RiskTier),
	})
	return nil
}

// Decide records a human decision on a session. Escalation-gated approvals
// are audited distinctly so the trail shows why the decision was refused.
func (s *ApprovalService) Decide(sessionID, actorID string, input approval.DecisionInput) (*approval.Session, error) {
	decided, err := s.store.RecordDecision(sessionID, input)
	if err != nil {
		switch err {
		case approval.ErrEscalationRequired:
			s.audit(audit.Record{
				Timestamp: s.clock(),
				EventType: audit.EventTypeSessionEscalated,
				SessionID: sessionID,
				ActorID:   actorID,
				ActorType: audit.ActorTypeApprover,
				Reason:    err.Error(),
			})
		case approval.ErrSessionExpired:
			s.audit(audit.Record{
				Timestamp: s.clock(),
				EventType: audit.EventTypeSessionExpired,
				SessionID: sessionID,
				ActorID:   actorID,
				ActorType: audit.ActorTypeApprover,
			})
		}
		return nil, err
	}

	s.logger.Info("approval session decided",
		"session_id", decided.ID,
		"proposal_id", decided.ProposalID,
		"decision", decided.Decision,
		"actor", actorID,
	)
	s.audit(audit.Record{
		Timestamp:  s.clock(),
		EventType:  audit.EventTypeSessionDecided,
		ProposalID: decided.ProposalID,
		SessionID:  decided.ID,
		ActorID:    actorID,
		ActorType:  audit.ActorTypeApprover,
		Reason:     string(decided.Decision),
		RiskTier:   string(decided.RiskTier),
	})
	return decided, nil
}

// LinkToken associates a minted certificate token with a decided session.
func (s *ApprovalService) LinkToken(tokenID, sessionID string) {
	s.store.LinkToken(tokenID, sessionID)
}

// ValidateApproval reports whether the proposal holds a live approval,
// returning the approving session when it does.
func (s *ApprovalService) ValidateApproval(proposalID string) (*approval.Session, bool) {
	return s.store.ValidateApproval(proposalID)
}

// Pending returns undecided, unexpired sessions in registration order.
func (s *ApprovalService) Pending() []*approval.Session {
	return s.store.Pending()
}

// History returns decided sessions, most recent last.
func (s *ApprovalService) History() []*approval.Session {
	return s.store.History()
}

// Get returns a session by ID from either collection.
func (s *ApprovalService) Get(sessionID string) (*approval.Session, bool) {
	return s.store.Get(sessionID)
}

func (s *ApprovalService) audit(r audit.Record) {
	if s.auditor != nil {
		s.auditor.Record(r)
	}
}

// sweeper periodically retires expired undecided sessions.
func (s *ApprovalService) sweeper(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep runs one expiry pass and audits each expired session.
func (s *ApprovalService) sweep() {
	expired := s.store.ExpireStale()
	for _, session := range expired {
		s.logger.Info("approval session expired",
			"session_id", session.ID,
			"proposal_id", session.ProposalID,
		)
		s.audit(audit.Record{
			Timestamp:  s.clock(),
			EventType:  audit.EventTypeSessionExpired,
			ProposalID: session.ProposalID,
			SessionID:  session.ID,
			ActorType:  audit.ActorTypeSystem,
			RiskTier:   string(session.RiskTier),
		})
	}
}

// Sweep runs one expiry pass immediately. Exposed for admin triggers.
func (s *ApprovalService) Sweep() {
	s.sweep()
}
