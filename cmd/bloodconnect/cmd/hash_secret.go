package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret [secret]",
	Short: "Hash a fixture secret with argon2id",
	Long: `Hash a secret with argon2id for use in a fixture identity file.

The output can be used as shared_secret_hash or as the secret_hash of a
single identity.

Example:
  bloodconnect hash-secret "correct horse battery staple"
  # Output: $argon2id$v=19$m=...

Security note: a secret passed as an argument appears in shell history.
Omit the argument to read the secret from stdin instead:
  printf '%s' "$SECRET" | bloodconnect hash-secret`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashSecret,
}

func init() {
	rootCmd.AddCommand(hashSecretCmd)
}

func runHashSecret(cmd *cobra.Command, args []string) error {
	var secret string
	if len(args) == 1 {
		secret = args[0]
	} else {
		var err error
		if secret, err = readSecret(cmd.InOrStdin()); err != nil {
			return err
		}
	}
	if secret == "" {
		return errors.New("secret must not be empty")
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
