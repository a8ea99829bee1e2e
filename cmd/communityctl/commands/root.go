// Package commands implements communityctl, a terminal client for the community
// portal's identity provider and backend. The CLI keeps its session in a state
// directory so successive invocations share one sign-in.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/benvon/community-portal/internal/backend"
	"github.com/benvon/community-portal/internal/config"
	"github.com/benvon/community-portal/internal/logger"
	"github.com/benvon/community-portal/internal/services/oidc"
	"github.com/benvon/community-portal/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	verbose  bool
	stateDir string
}

// NewRootCmd creates the communityctl command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "communityctl",
		Short:         "Command-line client for the community portal",
		Long:          "Sign in to the community identity provider and administer portal users from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flags.stateDir, "state-dir", "", "Directory holding the CLI session (default: user config dir)")

	rootCmd.AddCommand(newLoginCmd(flags))
	rootCmd.AddCommand(newLogoutCmd(flags))
	rootCmd.AddCommand(newWhoamiCmd(flags))
	rootCmd.AddCommand(newRefreshCmd(flags))
	rootCmd.AddCommand(newRoutesCmd())
	rootCmd.AddCommand(newUsersCmd(flags))
	rootCmd.AddCommand(newEventsCmd(flags))
	rootCmd.AddCommand(newCheckCmd(flags))

	return rootCmd
}

// cliEnv is what most commands need: configuration, a logger, the identity client
// and the persisted session.
type cliEnv struct {
	cfg        *config.Config
	log        *zap.Logger
	httpClient *http.Client
	idp        *oidc.Client
	store      *session.Store
}

func newEnv(cmd *cobra.Command, flags *globalFlags) (*cliEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewCLILogger(flags.verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dir := flags.stateDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config directory: %w", err)
		}
		dir = filepath.Join(base, "communityctl")
	}
	storage, err := session.NewFileStorage(dir)
	if err != nil {
		return nil, err
	}
	store := session.NewStore(storage, session.DefaultStorageKey)
	if _, err := store.Load(cmd.Context()); err != nil {
		return nil, fmt.Errorf("failed to read stored session: %w", err)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	idp, err := oidc.NewClient(oidc.Config{
		BaseURL:      cfg.IDPBaseURL,
		Realm:        cfg.IDPRealm,
		ClientID:     cfg.IDPClientID,
		ClientSecret: cfg.IDPClientSecret,
		RedirectURL:  cfg.CallbackURL(),
		HTTPClient:   httpClient,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("cli_environment_loaded", zap.String("state_dir", dir), zap.String("realm", cfg.IDPRealm))
	return &cliEnv{cfg: cfg, log: log, httpClient: httpClient, idp: idp, store: store}, nil
}

func (e *cliEnv) backend() (*backend.Client, error) {
	return backend.NewClient(e.cfg.BackendAPIURL, e.httpClient)
}

// token returns the stored token, refreshing it first when it has expired.
func (e *cliEnv) token(cmd *cobra.Command) (*session.Token, error) {
	tok := e.store.Current()
	if tok == nil {
		return nil, fmt.Errorf("not signed in, run 'communityctl login' first")
	}
	if !tok.Expired(time.Now()) {
		return tok, nil
	}
	e.log.Debug("access_token_expired_refreshing")
	fresh, err := e.idp.Refresh(cmd.Context(), tok.RefreshToken)
	if err != nil {
		_ = e.store.Clear(cmd.Context())
		return nil, fmt.Errorf("session expired, sign in again: %w", err)
	}
	if err := e.store.Save(cmd.Context(), fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}
