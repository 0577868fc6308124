package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/execguard/execguard/internal/domain/approval"
	"github.com/execguard/execguard/internal/domain/audit"
	"github.com/execguard/execguard/internal/domain/cert"
	"github.com/execguard/execguard/internal/domain/policy"
	"github.com/execguard/execguard/internal/domain/risk"
	"github.com/execguard/execguard/internal/service"
)

// RecentAuditSource exposes the most recent audit records for display.
type RecentAuditSource interface {
	GetRecent(n int) []audit.Record
}

// Server handles the admin API routes.
type Server struct {
	authz     *service.AuthorizationService
	approvals *service.ApprovalService
	minter    *cert.Minter
	verifier  *cert.Verifier
	ledger    cert.LedgerStore
	recent    RecentAuditSource
	auditor   *service.AuditService
	metrics   *Metrics
	registry  *prometheus.Registry
	keyHashes []string
	logger    *slog.Logger
}

// Config carries the Server's dependencies.
type Config struct {
	Authorization *service.AuthorizationService
	Approvals     *service.ApprovalService
	Minter        *cert.Minter
	Verifier      *cert.Verifier
	Ledger        cert.LedgerStore
	RecentAudit   RecentAuditSource
	Auditor       *service.AuditService
	Metrics       *Metrics
	Registry      *prometheus.Registry

	// APIKeyHashes are the accepted admin key hashes (argon2id PHC or
	// sha256 hex). Empty disables auth; intended for localhost dev only.
	APIKeyHashes []string
	Logger       *slog.Logger
}

// NewServer creates an admin API server.
func NewServer(cfg Config) *Server {
	return &Server{
		authz:     cfg.Authorization,
		approvals: cfg.Approvals,
		minter:    cfg.Minter,
		verifier:  cfg.Verifier,
		ledger:    cfg.Ledger,
		recent:    cfg.RecentAudit,
		auditor:   cfg.Auditor,
		metrics:   cfg.Metrics,
		registry:  cfg.Registry,
		keyHashes: cfg.APIKeyHashes,
		logger:    cfg.Logger,
	}
}

// Handler returns an http.Handler with all admin routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.health)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /v1/authorize", s.requireAuth(s.authorize))
	mux.HandleFunc("POST /v1/sessions", s.requireAuth(s.registerSession))
	mux.HandleFunc("GET /v1/sessions/pending", s.requireAuth(s.pendingSessions))
	mux.HandleFunc("GET /v1/sessions/history", s.requireAuth(s.sessionHistory))
	mux.HandleFunc("GET /v1/sessions/{id}", s.requireAuth(s.getSession))
	mux.HandleFunc("POST /v1/sessions/{id}/decision", s.requireAuth(s.decideSession))
	mux.HandleFunc("POST /v1/sessions/{id}/token", s.requireAuth(s.linkToken))
	mux.HandleFunc("POST /v1/certificates", s.requireAuth(s.mintCertificate))
	mux.HandleFunc("GET /v1/certificates/verify", s.requireAuth(s.verifyChain))
	mux.HandleFunc("GET /v1/audit/recent", s.requireAuth(s.recentAudit))

	return rateLimitMiddleware(newRateLimiter(120, time.Minute), mux)
}

// requireAuth checks the X-API-Key header against the configured hashes.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.keyHashes) == 0 {
			next(w, r)
			return
		}

		rawKey := r.Header.Get("X-API-Key")
		if rawKey == "" {
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}
		for _, hash := range s.keyHashes {
			match, err := VerifyKey(rawKey, hash)
			if err != nil {
				s.logger.Warn("api key hash rejected", "error", err)
				continue
			}
			if match {
				next(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "invalid api key")
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorizeRequest is the JSON body for POST /v1/authorize.
type authorizeRequest struct {
	Plan struct {
		RiskTier       string   `json:"risk_tier"`
		RequiredScopes []string `json:"required_scopes"`
		Biometric      bool     `json:"biometric"`
		Quorum         bool     `json:"quorum"`
	} `json:"plan"`
	Proposal struct {
		ID            string   `json:"id"`
		Reversibility string   `json:"reversibility"`
		EstimatedCost float64  `json:"estimated_cost"`
		Scopes        []string `json:"scopes"`
		Summary       string   `json:"summary"`
		RiskScore     float64  `json:"risk_score"`
		StepCount     int      `json:"step_count"`
	} `json:"proposal"`
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan := policy.Plan{
		RiskTier:       risk.Tier(req.Plan.RiskTier),
		RequiredScopes: req.Plan.RequiredScopes,
		Approval: policy.ApprovalRequirement{
			Biometric: req.Plan.Biometric,
			Quorum:    req.Plan.Quorum,
		},
	}
	proposal := policy.Proposal{
		ID:            req.Proposal.ID,
		Reversibility: risk.Reversibility(req.Proposal.Reversibility),
		EstimatedCost: req.Proposal.EstimatedCost,
		Scopes:        req.Proposal.Scopes,
		Summary:       req.Proposal.Summary,
		RiskScore:     req.Proposal.RiskScore,
		StepCount:     req.Proposal.StepCount,
	}
	if proposal.ID == "" {
		proposal.ID = uuid.NewString()
	}

	started := time.Now()
	decision := s.authz.Authorize(r.Context(), plan, proposal)

	if s.metrics != nil {
		result := "deny"
		if decision.Allowed {
			result = "allow"
		}
		s.metrics.AuthorizationsTotal.WithLabelValues(result).Inc()
		s.metrics.AuthorizationDuration.Observe(time.Since(started).Seconds())
	}

	writeJSON(w, http.StatusOK, decision)
}

// registerSessionRequest is the JSON body for POST /v1/sessions.
type registerSessionRequest struct {
	ProposalID    string   `json:"proposal_id"`
	RiskTier      string   `json:"risk_tier"`
	RiskScore     float64  `json:"risk_score"`
	Reversibility string   `json:"reversibility"`
	Scopes        []string `json:"scopes"`
	EstimatedCost float64  `json:"estimated_cost"`
	Summary       string   `json:"summary"`
	StepCount     int      `json:"step_count"`
	Biometric     bool     `json:"requires_biometric"`
	Quorum        bool     `json:"requires_quorum"`
}

func (s *Server) registerSession(w http.ResponseWriter, r *http.Request) {
	var req registerSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProposalID == "" {
		writeError(w, http.StatusBadRequest, "proposal_id is required")
		return
	}

	session := &approval.Session{
		ID:                uuid.NewString(),
		ProposalID:        req.ProposalID,
		RiskTier:          risk.Tier(req.RiskTier),
		RiskScore:         req.RiskScore,
		Reversibility:     risk.Reversibility(req.Reversibility),
		Scopes:            req.Scopes,
		EstimatedCost:     req.EstimatedCost,
		Summary:           req.Summary,
		StepCount:         req.StepCount,
		RequiresBiometric: req.Biometric,
		RequiresQuorum:    req.Quorum,
	}
	if err := s.approvals.Register(session); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.updatePendingGauge()
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) pendingSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.approvals.Pending()
	s.updatePendingGauge()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) sessionHistory(w http.ResponseWriter, _ *http.Request) {
	sessions := s.approvals.History()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.approvals.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// decisionRequest is the JSON body for POST /v1/sessions/{id}/decision.
type decisionRequest struct {
	Kind          string `json:"kind"`
	Actor         string `json:"actor"`
	ApprovedSteps []int  `json:"approved_steps,omitempty"`
	RevisionNotes string `json:"revision_notes,omitempty"`
}

func (s *Server) decideSession(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := s.approvals.Decide(r.PathValue("id"), req.Actor, approval.DecisionInput{
		Kind:          approval.DecisionKind(req.Kind),
		ApprovedSteps: req.ApprovedSteps,
		RevisionNotes: req.RevisionNotes,
	})
	if err != nil {
		writeError(w, decisionStatusCode(err), err.Error())
		return
	}

	if s.metrics != nil {
		s.metrics.SessionDecisionsTotal.WithLabelValues(req.Kind).Inc()
	}
	s.updatePendingGauge()
	writeJSON(w, http.StatusOK, session)
}

// decisionStatusCode maps session decision errors to HTTP statuses.
func decisionStatusCode(err error) int {
	switch {
	case errors.Is(err, approval.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, approval.ErrAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, approval.ErrEscalationRequired):
		return http.StatusPreconditionFailed
	case errors.Is(err, approval.ErrInvalidDecision):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// linkTokenRequest is the JSON body for POST /v1/sessions/{id}/token.
type linkTokenRequest struct {
	TokenID string `json:"token_id"`
}

func (s *Server) linkToken(w http.ResponseWriter, r *http.Request) {
	var req linkTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TokenID == "" {
		writeError(w, http.StatusBadRequest, "token_id is required")
		return
	}
	s.approvals.LinkToken(req.TokenID, r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// mintRequest is the JSON body for POST /v1/certificates.
type mintRequest struct {
	ProposalID string `json:"proposal_id"`
	RiskTier   string `json:"risk_tier"`
	Intent     string `json:"intent"`
	Proposal   string `json:"proposal"`
	Result     string `json:"result"`
	Token      string `json:"token"`
	Approver   string `json:"approver"`
	PolicyHash string `json:"policy_hash"`
}

func (s *Server) mintCertificate(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Minting requires a live approval for the proposal.
	session, ok := s.approvals.ValidateApproval(req.ProposalID)
	if !ok {
		writeError(w, http.StatusForbidden, "proposal has no valid approval")
		return
	}

	c, err := s.minter.Mint(r.Context(), cert.MintParams{
		RiskTier:   risk.Tier(req.RiskTier),
		Intent:     req.Intent,
		Proposal:   req.Proposal,
		Result:     req.Result,
		Token:      req.Token,
		Approver:   req.Approver,
		PolicyHash: req.PolicyHash,
	})
	if err != nil {
		s.logger.Error("certificate mint failed", "proposal_id", req.ProposalID, "error", err)
		writeError(w, http.StatusInternalServerError, "mint failed")
		return
	}

	s.approvals.LinkToken(c.ID, session.ID)
	if s.metrics != nil {
		s.metrics.CertificatesMinted.Inc()
	}
	s.audit(audit.Record{
		Timestamp:     c.Timestamp,
		EventType:     audit.EventTypeCertificateMinted,
		ProposalID:    req.ProposalID,
		SessionID:     session.ID,
		ActorID:       req.Approver,
		ActorType:     audit.ActorTypeApprover,
		PolicyHash:    req.PolicyHash,
		RiskTier:      req.RiskTier,
		CertificateID: c.ID,
	})
	writeJSON(w, http.StatusCreated, c)
}

// chainVerifyResponse is the JSON body for GET /v1/certificates/verify.
type chainVerifyResponse struct {
	Valid        bool                      `json:"valid"`
	Certificates int                       `json:"certificates"`
	Results      []cert.VerificationResult `json:"results"`
}

func (s *Server) verifyChain(w http.ResponseWriter, r *http.Request) {
	certs, err := s.ledger.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}

	results := s.verifier.VerifyChain(certs)
	valid := true
	for _, res := range results {
		if !res.IsValid() {
			valid = false
			break
		}
	}

	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	if s.metrics != nil {
		s.metrics.ChainVerificationsTotal.WithLabelValues(outcome).Inc()
	}
	s.audit(audit.Record{
		Timestamp: time.Now().UTC(),
		EventType: audit.EventTypeChainVerified,
		ActorType: audit.ActorTypeSystem,
		Outcome:   outcome,
		Detail:    map[string]interface{}{"certificates": len(certs)},
	})
	writeJSON(w, http.StatusOK, chainVerifyResponse{
		Valid:        valid,
		Certificates: len(certs),
		Results:      results,
	})
}

func (s *Server) recentAudit(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusNotFound, "audit log not available")
		return
	}
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "n must be between 1 and 1000")
			return
		}
		n = parsed
	}
	records := s.recent.GetRecent(n)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) updatePendingGauge() {
	if s.metrics != nil {
		s.metrics.PendingSessions.Set(float64(len(s.approvals.Pending())))
	}
}

func (s *Server) audit(r audit.Record) {
	if s.auditor != nil {
		s.auditor.Record(r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
