package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/authz"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
)

var (
	authzRole  string
	authzEmail string
)

var authzCmd = &cobra.Command{
	Use:   "authz",
	Short: "Inspect the route table",
}

var authzCheckCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "Show the guard decision for a role and path",
	Long: `Evaluate the configured route table for a role and print the decision.

Examples:
  bloodconnect authz check --role guest /profile
  bloodconnect authz check --role staff /admin/users`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthzCheck,
}

var authzNavCmd = &cobra.Command{
	Use:   "nav",
	Short: "Show the navigation entries of a role",
	Args:  cobra.NoArgs,
	RunE:  runAuthzNav,
}

func init() {
	authzCheckCmd.Flags().StringVar(&authzRole, "role", string(auth.RoleGuest), "role to check: guest, member, staff or admin")
	authzCheckCmd.Flags().StringVar(&authzEmail, "email", "cli@example.com", "email seen by rule conditions")
	authzNavCmd.Flags().StringVar(&authzRole, "role", string(auth.RoleGuest), "role: guest, member, staff or admin")
	authzCmd.AddCommand(authzCheckCmd, authzNavCmd)
	rootCmd.AddCommand(authzCmd)
}

func runAuthzCheck(cmd *cobra.Command, args []string) error {
	role, err := parseCLIRole(authzRole)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	guard, err := buildGuard(cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	snap := session.Snapshot{
		Status: session.StatusReady,
		State:  session.StateGuest,
		Role:   auth.RoleGuest,
	}
	if role != auth.RoleGuest {
		snap.State = session.StateAuthenticated
		snap.Role = role
		snap.Identity = &auth.Identity{
			ID:            "cli",
			Email:         authzEmail,
			Role:          role,
			AccountStatus: auth.StatusActive,
		}
	}
	return printJSON(cmd.OutOrStdout(), guard.Decide(cmd.Context(), snap, args[0]))
}

func runAuthzNav(cmd *cobra.Command, args []string) error {
	role, err := parseCLIRole(authzRole)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), authz.Navigation(role))
}

func parseCLIRole(s string) (auth.Role, error) {
	role, err := auth.ParseRole(s)
	if err != nil {
		return "", fmt.Errorf("invalid --role: %w", err)
	}
	return role, nil
}
