package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/execguard/execguard/internal/adapter/outbound/ledger"
	"github.com/execguard/execguard/internal/config"
	"github.com/execguard/execguard/internal/domain/cert"
)

var (
	verifyBackend string
	verifyPath    string
	verifyVerbose bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the certificate chain in a ledger",
	Long: `Verify every certificate in the ledger: signatures, content hashes,
chain linkage, and timestamps. The ledger location defaults to the
configured backend and path; --backend and --path override it.

Exits non-zero when any certificate fails verification.

Example:
  execguard verify
  execguard verify --backend sqlite --path /var/lib/execguard/ledger.db`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyBackend, "backend", "", "ledger backend: file or sqlite (default: from config)")
	verifyCmd.Flags().StringVar(&verifyPath, "path", "", "ledger path (default: from config)")
	verifyCmd.Flags().BoolVarP(&verifyVerbose, "verbose", "v", false, "print every certificate, not just failures")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	backend := cfg.Ledger.Backend
	if verifyBackend != "" {
		backend = verifyBackend
	}
	path := cfg.Ledger.Path
	if verifyPath != "" {
		path = verifyPath
	}

	store, err := openLedgerReadOnly(backend, path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	certs, err := store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(certs) == 0 {
		fmt.Println("ledger is empty")
		return nil
	}

	verifier := cert.NewVerifier(cert.WithMaxAge(cfg.Ledger.MaxCertificateAge))
	results := verifier.VerifyChain(certs)

	invalid := 0
	for i, res := range results {
		if res.IsValid() {
			if verifyVerbose {
				fmt.Printf("  ok      %s\n", certs[i].ID)
			}
			continue
		}
		invalid++
		fmt.Printf("  INVALID %s: %s\n", certs[i].ID, strings.Join(res.Failures, "; "))
	}

	fmt.Printf("%d certificates, %d invalid\n", len(certs), invalid)
	if invalid > 0 {
		return fmt.Errorf("certificate chain verification failed")
	}
	fmt.Println("chain verified")
	return nil
}

// openLedgerReadOnly opens the ledger for verification. The memory
// backend has nothing to verify after a restart, so it is rejected.
func openLedgerReadOnly(backend, path string) (cert.LedgerStore, error) {
	switch backend {
	case "file":
		return ledger.OpenFileStore(path)
	case "sqlite":
		return ledger.OpenSqliteStore(path)
	default:
		return nil, fmt.Errorf("cannot verify ledger backend %q", backend)
	}
}
