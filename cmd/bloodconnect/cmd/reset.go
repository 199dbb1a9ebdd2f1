package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/enteecaay/BloodDonation-prototype/internal/config"
)

var (
	resetIncludeToken bool
	resetIncludeAudit bool
	resetForce        bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove persisted profiles and tokens",
	Long: `Reset BloodConnect by removing persisted state.

Removes the profile state file of the file backend and its backup. With
--include-token the command-line id token of the remote provider is removed
too, and --include-audit removes the audit file of a file:// audit output. SQLite databases are left alone; drop them with your database tools.

Examples:
  # Reset profiles (interactive confirmation)
  bloodconnect reset

  # Reset everything without prompting
  bloodconnect reset --include-token --include-audit --force`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeToken, "include-token", false, "Also remove the CLI id token")
	resetCmd.Flags().BoolVar(&resetIncludeAudit, "include-audit", false, "Also remove the audit log file")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

type resetTarget struct {
	path string
	desc string
}

// resetTargets lists the files reset would remove for cfg.
func resetTargets(cfg *config.Config, includeToken, includeAudit bool) []resetTarget {
	var targets []resetTarget
	if cfg.Profiles.Backend == config.BackendFile {
		targets = append(targets,
			resetTarget{cfg.Profiles.Path, "profile state"},
			resetTarget{cfg.Profiles.Path + ".bak", "profile state backup"},
		)
	}
	if includeToken {
		targets = append(targets, resetTarget{tokenFilePath(cfg), "CLI id token"})
	}
	if path := cfg.Audit.FilePath(); includeAudit && path != "" {
		targets = append(targets, resetTarget{path, "audit log"})
	}
	return targets
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.ErrOrStderr()

	// Validation is skipped so a broken config can still be reset.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var existing []resetTarget
	for _, t := range resetTargets(cfg, resetIncludeToken, resetIncludeAudit) {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(out, "Nothing to reset, no state files found.")
		return nil
	}

	fmt.Fprintln(out, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(out, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce {
		fmt.Fprint(out, "\nProceed? [y/N] ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var failed int
	for _, t := range existing {
		if err := os.Remove(t.path); err != nil {
			fmt.Fprintf(out, "  ERROR removing %s: %v\n", t.path, err)
			failed++
		} else {
			fmt.Fprintf(out, "  Removed %s\n", t.path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failed)
	}

	fmt.Fprintln(out, "\nReset complete.")
	return nil
}
