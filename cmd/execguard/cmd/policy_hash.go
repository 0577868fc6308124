package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/execguard/execguard/internal/domain/policy"
)

var policyHashCmd = &cobra.Command{
	Use:   "policy-hash [profile-or-path]",
	Short: "Print the content hash of a policy profile",
	Long: `Print the content hash of a policy profile. The argument is either a
built-in profile name (permissive, strict, lockdown) or the path to a
YAML policy file.

The hash covers the policy's semantic content, so it matches the
policy_hash recorded in decisions and certificates.

Example:
  execguard policy-hash strict
  execguard policy-hash ./policies/production.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := policy.NamedProfile(args[0])
		if err != nil {
			// Not a built-in name; treat the argument as a file path.
			pol, err = policy.LoadProfile(args[0])
			if err != nil {
				return fmt.Errorf("failed to load policy: %w", err)
			}
		}

		fmt.Printf("%s  (policy %s version %s)\n", pol.ContentHash(), pol.ID, pol.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(policyHashCmd)
}
