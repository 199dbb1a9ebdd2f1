package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/remote"
	"github.com/enteecaay/BloodDonation-prototype/internal/config"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
)

var (
	loginEmail    string
	loginPassword string
	loginToken    string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in from the command line",
	Long: `Log in with an email and password, or with a provider handoff token.

With the remote provider the id token is kept in provider.remote.token_file
(default ~/.bloodconnect/token) so later whoami and logout calls see the
session. The fixture provider keeps no session between invocations: login
only checks the credentials and prints the resolved identity.

When --password is omitted it is read from stdin.

Examples:
  bloodconnect login --email admin@example.com
  echo password | bloodconnect login --email staff@example.com`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the command-line session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the command-line session",
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (read from stdin when omitted)")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "provider handoff token instead of email and password")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

// cliSession is a single Manager bound to the configured provider and
// profile store.
type cliSession struct {
	manager *session.Manager
	close   func()
}

func openCLISession(ctx context.Context, cmd *cobra.Command) (*cliSession, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	var tokens func() remote.TokenStore
	if cfg.Provider.Mode == config.ProviderRemote {
		path := tokenFilePath(cfg)
		tokens = func() remote.TokenStore { return remote.NewFileTokenStore(path) }
	}
	providers, err := buildProviders(cfg, tokens, logger)
	if err != nil {
		return nil, err
	}

	profiles, closeProfiles, err := openProfileStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}

	m := session.NewManager(managerConfig(cfg, providers, profiles, nil, logger)())
	m.Restore(ctx)
	return &cliSession{
		manager: m,
		close: func() {
			m.Close()
			if err := closeProfiles(); err != nil {
				logger.Warn("failed to close profile store", "error", err)
			}
		},
	}, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	creds := auth.Credentials{Email: loginEmail, Secret: loginPassword, Token: loginToken}
	if creds.Token == "" && creds.Secret == "" {
		secret, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		creds.Secret = secret
	}

	s, err := openCLISession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.close()

	// A restored session is replaced rather than rejected.
	if s.manager.Snapshot().Authenticated() {
		s.manager.Logout(cmd.Context())
	}

	identity, err := s.manager.Login(cmd.Context(), creds)
	if err != nil {
		if kind := auth.Classify(err); kind != auth.FailureOther && kind != auth.FailureNone {
			return fmt.Errorf("login failed (%s): %w", kind, err)
		}
		return fmt.Errorf("login failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), identity)
}

func runLogout(cmd *cobra.Command, args []string) error {
	s, err := openCLISession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.close()

	s.manager.Logout(cmd.Context())
	return printJSON(cmd.OutOrStdout(), s.manager.Snapshot())
}

func runWhoami(cmd *cobra.Command, args []string) error {
	s, err := openCLISession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.close()

	return printJSON(cmd.OutOrStdout(), s.manager.Snapshot())
}

// readSecret reads one line from r, without the trailing newline.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	return secret, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
