package commands

import (
	"fmt"

	"github.com/benvon/community-portal/internal/services/oidc"
	"github.com/spf13/cobra"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check identity provider and backend connectivity",
		Long:  "Read the realm's discovery document, fetch its signing keys and ping the backend API",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			fallback := oidc.KeycloakEndpoints(env.cfg.IDPBaseURL, env.cfg.IDPRealm)
			fmt.Fprintf(out, "Testing discovery for issuer: %s\n", fallback.Issuer)
			endpoints, err := oidc.Discover(ctx, env.httpClient, fallback)
			if err != nil {
				return fmt.Errorf("failed to read discovery document: %w", err)
			}
			fmt.Fprintln(out, "✓ Discovery document is accessible")

			fmt.Fprintf(out, "\nTesting JWKS endpoint: %s\n", endpoints.JWKS)
			set, err := oidc.NewJWKSManager(env.httpClient).GetJWKS(ctx, endpoints.JWKS)
			if err != nil {
				return fmt.Errorf("failed to fetch signing keys: %w", err)
			}
			fmt.Fprintf(out, "✓ JWKS endpoint is accessible (%d keys)\n", set.Len())

			fmt.Fprintf(out, "\nTesting backend API: %s\n", env.cfg.BackendAPIURL)
			client, err := env.backend()
			if err != nil {
				return err
			}
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("backend API is unreachable: %w", err)
			}
			fmt.Fprintln(out, "✓ Backend API is reachable")

			fmt.Fprintln(out, "\n✓ Configuration check passed")
			return nil
		},
	}
}
