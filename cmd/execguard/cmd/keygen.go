package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/execguard/execguard/internal/domain/cert"
)

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen [path]",
	Short: "Generate a signing key",
	Long: `Generate an ed25519 signing key and write the seed to the given path
(default: execguard-signer.key). The file is created with mode 0600.

The public key is printed so it can be distributed to external chain
verifiers.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "execguard-signer.key"
		if len(args) == 1 {
			path = args[0]
		}

		if !keygenForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("key file %s already exists (use --force to overwrite)", path)
			}
		}

		signer, err := cert.NewSigner()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		if err := signer.Save(path); err != nil {
			return fmt.Errorf("failed to write key file: %w", err)
		}

		fmt.Printf("wrote signing key to %s\n", path)
		fmt.Printf("public key: %s\n", signer.PublicKeyHex())
		return nil
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite an existing key file")
	rootCmd.AddCommand(keygenCmd)
}
