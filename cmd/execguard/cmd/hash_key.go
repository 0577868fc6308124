package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/execguard/execguard/internal/adapter/inbound/admin"
)

var hashKeyArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an admin API key",
	Long: `Generate a hash of an API key for use in auth.api_key_hashes.

By default the output is "sha256:<hex>". With --argon2id the output is
an Argon2id PHC string, which is slower to verify but resists offline
brute force if the config file leaks.

Example:
  execguard hash-key "my-secret-api-key"
  execguard hash-key --argon2id "my-secret-api-key"

Security note: the key will appear in shell history. Consider using an
environment variable:
  execguard hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if hashKeyArgon2id {
			hash, err := admin.HashKeyArgon2id(args[0])
			if err != nil {
				return fmt.Errorf("failed to hash key: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Printf("sha256:%s\n", admin.HashKey(args[0]))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2id, "argon2id", false, "emit an Argon2id PHC hash instead of sha256")
	rootCmd.AddCommand(hashKeyCmd)
}
