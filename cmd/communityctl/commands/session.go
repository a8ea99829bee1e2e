package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/authz"
	"github.com/benvon/community-portal/internal/services/oidc"
	"github.com/benvon/community-portal/internal/session"
	"github.com/benvon/community-portal/internal/validation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const passwordEnv = "COMMUNITYCTL_PASSWORD"

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var creds oidc.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with username and password",
		Long:  "Sign in with the password grant. The password may be given with --password or the " + passwordEnv + " environment variable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv(passwordEnv)
			}
			if err := validation.Struct(creds); err != nil {
				return err
			}

			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			tok, err := env.idp.Login(cmd.Context(), creds)
			if err != nil {
				code := autherr.CodeOf(err)
				env.log.Debug("login_failed", zap.String("code", string(code)), zap.Error(err))
				return fmt.Errorf("%s (%s)", autherr.Message(code, os.Getenv("LANG")), code)
			}
			if err := env.store.Save(cmd.Context(), tok); err != nil {
				return fmt.Errorf("failed to store session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", displayName(tok), env.store.Permission().Label())
			return nil
		},
	}

	cmd.Flags().StringVarP(&creds.Username, "username", "u", "", "Username or email (required)")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "Password (default: $"+passwordEnv+")")

	return cmd
}

func newLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			tok := env.store.Current()
			if tok == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			// The local session ends even when the provider cannot be reached.
			if err := env.idp.Logout(cmd.Context(), tok); err != nil {
				env.log.Warn("identity_provider_logout_failed", zap.Error(err))
			}
			if err := env.store.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(flags *globalFlags) *cobra.Command {
	var showProfile bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			tok, err := env.token(cmd)
			if err != nil {
				return err
			}
			printIdentity(cmd, tok, env.store.Permission())

			if showProfile {
				client, err := env.backend()
				if err != nil {
					return err
				}
				status, err := client.ProfileStatus(cmd.Context(), tok.AccessToken)
				if err != nil {
					return fmt.Errorf("profile check failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Profile:     %t\n", status.HasProfile)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProfile, "profile", false, "Also ask the backend whether a profile exists")

	return cmd
}

func newRefreshCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			tok := env.store.Current()
			if tok == nil {
				return fmt.Errorf("not signed in, run 'communityctl login' first")
			}
			fresh, err := env.idp.Refresh(cmd.Context(), tok.RefreshToken)
			if err != nil {
				if autherr.CodeOf(err) == autherr.CodeInvalidToken {
					_ = env.store.Clear(cmd.Context())
				}
				return err
			}
			if err := env.store.Save(cmd.Context(), fresh); err != nil {
				return fmt.Errorf("failed to store session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token renewed, expires %s\n", fresh.ExpiresAt().Format(time.RFC3339))
			return nil
		},
	}
}

func printIdentity(cmd *cobra.Command, tok *session.Token, p authz.Permission) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject:     %s\n", tok.Claims.Sub)
	fmt.Fprintf(out, "Name:        %s\n", displayName(tok))
	if tok.Claims.Email != "" {
		fmt.Fprintf(out, "Email:       %s\n", tok.Claims.Email)
	}
	fmt.Fprintf(out, "Permission:  %s\n", p.Label())
	if len(tok.Claims.Roles) > 0 {
		fmt.Fprintf(out, "Roles:       %s\n", strings.Join(tok.Claims.Roles, ", "))
	}
	fmt.Fprintf(out, "Expires:     %s\n", tok.ExpiresAt().Format(time.RFC3339))
}

func displayName(tok *session.Token) string {
	switch {
	case tok.Claims.Name != "":
		return tok.Claims.Name
	case tok.Claims.Username != "":
		return tok.Claims.Username
	default:
		return tok.Claims.Sub
	}
}
