package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/execguard/execguard/internal/adapter/inbound/admin"
	auditfile "github.com/execguard/execguard/internal/adapter/outbound/audit"
	"github.com/execguard/execguard/internal/adapter/outbound/ledger"
	"github.com/execguard/execguard/internal/adapter/outbound/memory"
	"github.com/execguard/execguard/internal/config"
	"github.com/execguard/execguard/internal/domain/approval"
	"github.com/execguard/execguard/internal/domain/audit"
	"github.com/execguard/execguard/internal/domain/cert"
	"github.com/execguard/execguard/internal/domain/policy"
	"github.com/execguard/execguard/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the authorization daemon",
	Long: `Start the ExecGuard daemon: the admin HTTP API, the approval session
sweeper, and the async audit pipeline.

Examples:
  # Start with config file settings
  execguard start

  # Start with a specific config file
  execguard --config /path/to/config.yaml start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("execguard stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Audit pipeline first so every later component can record into it.
	auditStore, recent, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(cfg.Audit.FlushInterval),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// Active policy.
	pol, err := loadPolicy(cfg)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	authzService, err := service.NewAuthorizationService(logger,
		service.WithCacheSize(cfg.Policy.CacheSize),
		service.WithAuditor(auditService),
	)
	if err != nil {
		return fmt.Errorf("failed to create authorization service: %w", err)
	}
	if err := authzService.ActivatePolicy(ctx, pol); err != nil {
		return fmt.Errorf("failed to activate policy: %w", err)
	}
	logger.Info("policy activated",
		"policy_id", pol.ID,
		"version", pol.Version,
		"hash", pol.ContentHash(),
	)

	// Approval sessions and the expiry sweeper.
	sessionStore := approval.NewStore(approval.Config{
		Expiry:     cfg.Approval.Expiry,
		HistoryCap: cfg.Approval.HistoryCap,
	})
	approvalService := service.NewApprovalService(sessionStore, logger,
		service.WithSweepInterval(cfg.Approval.SweepInterval),
		service.WithApprovalAuditor(auditService),
	)
	approvalService.Start(ctx)
	defer approvalService.Stop()

	// Certificate signing and the ledger.
	signer, err := loadOrCreateSigner(cfg.Ledger.SignerKeyPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	ledgerStore, err := openLedger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = ledgerStore.Close() }()

	count, err := ledgerStore.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	logger.Info("ledger opened",
		"backend", cfg.Ledger.Backend,
		"path", cfg.Ledger.Path,
		"certificates", count,
	)

	minter := cert.NewMinter(signer, ledgerStore)
	verifier := cert.NewVerifier(cert.WithMaxAge(cfg.Ledger.MaxCertificateAge))

	// Admin API.
	registry := prometheus.NewRegistry()
	metrics := admin.NewMetrics(registry, func() float64 {
		return float64(auditService.DroppedRecords())
	})
	adminServer := admin.NewServer(admin.Config{
		Authorization: authzService,
		Approvals:     approvalService,
		Minter:        minter,
		Verifier:      verifier,
		Ledger:        ledgerStore,
		RecentAudit:   recent,
		Auditor:       auditService,
		Metrics:       metrics,
		Registry:      registry,
		APIKeyHashes:  cfg.Auth.APIKeyHashes,
		Logger:        logger,
	})
	if len(cfg.Auth.APIKeyHashes) == 0 {
		logger.Warn("admin API authentication disabled (no api_key_hashes configured)")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           adminServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", "error", err)
	}
	return nil
}

// createAuditStore returns the audit store plus the recent-records view
// served by the admin API.
func createAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, admin.RecentAuditSource, error) {
	if cfg.Audit.Dir == "" {
		logger.Debug("audit directory not configured, using in-memory store")
		store := memory.NewAuditStore(1000)
		return store, store, nil
	}

	store, err := auditfile.NewFileStore(auditfile.FileConfig{
		Dir:           cfg.Audit.Dir,
		RetentionDays: cfg.Audit.RetentionDays,
		MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

// loadPolicy resolves the configured policy file or built-in profile.
func loadPolicy(cfg *config.Config) (*policy.Policy, error) {
	if cfg.Policy.ProfilePath != "" {
		return policy.LoadProfile(cfg.Policy.ProfilePath)
	}
	return policy.NamedProfile(cfg.Policy.Profile)
}

// loadOrCreateSigner loads the signing key, generating one on first run.
func loadOrCreateSigner(path string, logger *slog.Logger) (*cert.Signer, error) {
	signer, err := cert.LoadSigner(path)
	if err == nil {
		logger.Info("signing key loaded", "path", path, "public_key", signer.PublicKeyHex())
		return signer, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	signer, err = cert.NewSigner()
	if err != nil {
		return nil, err
	}
	if err := signer.Save(path); err != nil {
		return nil, err
	}
	logger.Info("signing key generated", "path", path, "public_key", signer.PublicKeyHex())
	return signer, nil
}

func openLedger(cfg *config.Config) (cert.LedgerStore, error) {
	switch cfg.Ledger.Backend {
	case "file":
		return ledger.OpenFileStore(cfg.Ledger.Path)
	case "sqlite":
		return ledger.OpenSqliteStore(cfg.Ledger.Path)
	case "memory":
		return memory.NewLedgerStore(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
