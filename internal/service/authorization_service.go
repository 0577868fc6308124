// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/execguard/execguard/internal/adapter/outbound/cel"
	"github.com/execguard/execguard/internal/domain/audit"
	"github.com/execguard/execguard/internal/domain/policy"
)

// compiledGuard is a pre-compiled guard condition ready for evaluation.
type compiledGuard struct {
	Expression string
	Program    cel.Program
}

// guardSnapshot is the immutable unit published through atomic.Value on
// activation: the policy, its content hash, and its compiled guards. The
// hot path reads one snapshot, so a decision can never pair a new policy
// with the previous guard set.
type guardSnapshot struct {
	Policy     *policy.Policy
	PolicyHash string
	Guards     []compiledGuard
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for authorization decisions.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit, (zero, false) on miss.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

// Put stores a decision in the cache. If at capacity, the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on policy activation.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey generates a hash of the evaluation inputs. The policy hash
// and the current hour are included because decisions depend on the policy
// content and on time-of-day windows, so cached entries go stale at most at
// the next hour boundary.
func computeCacheKey(plan policy.Plan, proposal policy.Proposal, policyHash string, now time.Time) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(proposal.ID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(plan.RiskTier))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(proposal.Reversibility))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.FormatFloat(proposal.EstimatedCost, 'f', -1, 64))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.FormatBool(plan.Approval.Biometric))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.FormatBool(plan.Approval.Quorum))
	_, _ = h.Write([]byte{0})

	scopes := make([]string, 0, len(plan.RequiredScopes)+len(proposal.Scopes))
	scopes = append(scopes, plan.RequiredScopes...)
	scopes = append(scopes, proposal.Scopes...)
	sort.Strings(scopes)
	_, _ = h.WriteString(strings.Join(scopes, ","))
	_, _ = h.Write([]byte{0})

	_, _ = h.WriteString(policyHash)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(now.Hour()))

	return h.Sum64()
}

// AuthorizationService evaluates execution proposals against the active
// policy. Guard conditions are compiled at activation time and the compiled
// set is published through atomic.Value for lock-free reads on the hot path.
// Evaluation fails closed: no active policy, a guard error, or a false guard
// all produce a denial.
type AuthorizationService struct {
	holder    *policy.Holder
	evaluator *celeval.Evaluator
	snapshot  atomic.Value // stores *guardSnapshot
	mu        sync.Mutex   // serializes ActivatePolicy
	cache     *ResultCache
	auditor   *AuditService
	logger    *slog.Logger
	clock     func() time.Time
}

// AuthorizationOption configures AuthorizationService.
type AuthorizationOption func(*AuthorizationService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) AuthorizationOption {
	return func(s *AuthorizationService) {
		s.cache = NewResultCache(size)
	}
}

// WithAuthorizationClock overrides the wall clock, for tests.
func WithAuthorizationClock(clock func() time.Time) AuthorizationOption {
	return func(s *AuthorizationService) {
		s.clock = clock
	}
}

// WithAuditor attaches an audit service that receives a record per decision.
func WithAuditor(a *AuditService) AuthorizationOption {
	return func(s *AuthorizationService) {
		s.auditor = a
	}
}

// NewAuthorizationService creates an AuthorizationService with an empty
// policy holder. All proposals are denied until a policy is activated.
func NewAuthorizationService(logger *slog.Logger, opts ...AuthorizationOption) (*AuthorizationService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create guard evaluator: %w", err)
	}

	s := &AuthorizationService{
		holder:    policy.NewHolder(nil),
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
		clock:     time.Now,
	}
	s.snapshot.Store(&guardSnapshot{})

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// ActivatePolicy compiles the policy's guard conditions and installs it as
// the active policy. On compile failure the previous policy stays active.
// The decision cache is cleared because cached decisions reflect the old
// policy content.
func (s *AuthorizationService) ActivatePolicy(ctx context.Context, p *policy.Policy) error {
	if p == nil {
		return errors.New("nil policy")
	}

	guards := make([]compiledGuard, 0, len(p.GuardConditions))
	for _, expr := range p.GuardConditions {
		if err := s.evaluator.ValidateExpression(expr); err != nil {
			return fmt.Errorf("guard %q: %w", expr, err)
		}
		prg, err := s.evaluator.Compile(expr)
		if err != nil {
			return fmt.Errorf("guard %q: %w", expr, err)
		}
		guards = append(guards, compiledGuard{Expression: expr, Program: prg})
	}

	hash := p.ContentHash()

	s.mu.Lock()
	s.holder.SetActive(p)
	s.snapshot.Store(&guardSnapshot{Policy: p, PolicyHash: hash, Guards: guards})
	s.mu.Unlock()

	s.cache.Clear()

	s.logger.Info("policy activated",
		"policy_id", p.ID,
		"version", p.Version,
		"content_hash", hash,
		"guards_compiled", len(guards),
	)
	s.audit(audit.Record{
		Timestamp:     s.clock(),
		EventType:     audit.EventTypePolicyActivated,
		ActorType:     audit.ActorTypeSystem,
		PolicyHash:    hash,
		PolicyVersion: p.Version,
	})
	return nil
}

// ActivePolicy returns the active policy, or policy.ErrNoActivePolicy.
func (s *AuthorizationService) ActivePolicy() (*policy.Policy, error) {
	return s.holder.Active()
}

// Authorize evaluates a proposal against the active policy and returns the
// decision. A missing policy denies. Guard conditions run after the built-in
// checks; any guard that errors or evaluates false denies. Decisions are
// cached keyed by evaluation inputs, policy content, and hour of day.
func (s *AuthorizationService) Authorize(ctx context.Context, plan policy.Plan, proposal policy.Proposal) policy.Decision {
	started := s.clock()

	// One snapshot read covers policy, hash, and guards; the three can
	// never be observed from different activations.
	snap := s.snapshot.Load().(*guardSnapshot)
	if snap.Policy == nil {
		decision := policy.Deny("no active policy", "")
		s.finish(plan, proposal, decision, started, false)
		return decision
	}

	key := computeCacheKey(plan, proposal, snap.PolicyHash, started)
	if decision, ok := s.cache.Get(key); ok {
		// Cached or not, every decision leaves one audit record.
		s.finish(plan, proposal, decision, started, true)
		return decision
	}

	decision := policy.Evaluate(plan, proposal, snap.Policy, started)

	if decision.Allowed {
		for _, g := range snap.Guards {
			ok, err := s.evaluator.Evaluate(g.Program, plan, proposal, started)
			if err != nil {
				s.logger.Warn("guard evaluation failed",
					"proposal_id", proposal.ID,
					"guard", g.Expression,
					"error", err,
				)
				decision = policy.Deny(fmt.Sprintf("guard condition error: %s", g.Expression), snap.Policy.Version)
				break
			}
			if !ok {
				decision = policy.Deny(fmt.Sprintf("guard condition not satisfied: %s", g.Expression), snap.Policy.Version)
				break
			}
		}
	}

	s.cache.Put(key, decision)
	s.finish(plan, proposal, decision, started, false)
	return decision
}

// finish logs, audits, and reports a completed evaluation.
func (s *AuthorizationService) finish(plan policy.Plan, proposal policy.Proposal, d policy.Decision, started time.Time, cached bool) {
	latency := s.clock().Sub(started).Microseconds()

	if len(d.Escalations) > 0 {
		s.logger.Info("authorization requires escalation",
			"proposal_id", proposal.ID,
			"escalations", d.Escalations,
		)
	}
	if !d.Allowed {
		s.logger.Info("proposal denied",
			"proposal_id", proposal.ID,
			"reason", d.Reason,
			"risk_tier", plan.RiskTier,
		)
	}

	outcome := audit.OutcomeDeny
	if d.Allowed {
		outcome = audit.OutcomeAllow
	}
	var detail map[string]interface{}
	if cached {
		detail = map[string]interface{}{"cached": true}
	}
	s.audit(audit.Record{
		Timestamp:     started,
		EventType:     audit.EventTypeAuthorization,
		ProposalID:    proposal.ID,
		ActorType:     audit.ActorTypeAgent,
		Outcome:       outcome,
		Reason:        d.Reason,
		PolicyHash:    d.PolicyHash,
		PolicyVersion: d.PolicyVersion,
		RiskTier:      string(plan.RiskTier),
		Detail:        detail,
		LatencyMicros: latency,
	})
}

func (s *AuthorizationService) audit(r audit.Record) {
	if s.auditor != nil {
		s.auditor.Record(r)
	}
}

// CacheSize returns the number of cached decisions (for monitoring).
func (s *AuthorizationService) CacheSize() int {
	return s.cache.Size()
}
