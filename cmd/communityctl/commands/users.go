package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/benvon/community-portal/internal/authz"
	"github.com/benvon/community-portal/internal/models"
	"github.com/benvon/community-portal/internal/validation"
	"github.com/spf13/cobra"
)

func newUsersCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Administer portal users",
	}
	cmd.AddCommand(newUsersListCmd(flags))
	cmd.AddCommand(newUsersRolesCmd(flags))
	cmd.AddCommand(newUsersBlockCmd(flags))
	return cmd
}

// requirePermission fails early when the stored session cannot do what the backend
// would reject anyway.
func requirePermission(env *cliEnv, p authz.Permission) error {
	if granted := env.store.Permission(); !authz.Allows(granted, p) {
		return fmt.Errorf("requires %s permission, signed in as %s", p.Label(), granted.Label())
	}
	return nil
}

func newUsersListCmd(flags *globalFlags) *cobra.Command {
	params := models.UserListParams{Page: 1, PerPage: 20}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Filter = validation.SanitizeText(params.Filter)
			if err := validation.Struct(params); err != nil {
				return err
			}
			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			tok, err := env.token(cmd)
			if err != nil {
				return err
			}
			if err := requirePermission(env, authz.Admin); err != nil {
				return err
			}
			client, err := env.backend()
			if err != nil {
				return err
			}
			page, err := client.ListUsers(cmd.Context(), tok.AccessToken, params)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tROLES\tBLOCKED")
			for _, u := range page.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", u.ID, u.Username, u.Email, strings.Join(u.Roles, ","), u.IsBlocked)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nPage %d, %d of %d users\n", page.Page, len(page.Items), page.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&params.Page, "page", params.Page, "Page number")
	cmd.Flags().IntVar(&params.PerPage, "per-page", params.PerPage, "Users per page (max 100)")
	cmd.Flags().StringVar(&params.Filter, "filter", "", "Filter by username or email")

	return cmd
}

func newUsersRolesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "roles <user-id> <role>...",
		Short: "Replace a user's roles",
		Long:  "Replace the roles of a user. Requires super-admin permission.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			update := models.RolesUpdate{Roles: args[1:]}
			if err := validation.Struct(update); err != nil {
				return err
			}
			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			tok, err := env.token(cmd)
			if err != nil {
				return err
			}
			if err := requirePermission(env, authz.SuperAdmin); err != nil {
				return err
			}
			client, err := env.backend()
			if err != nil {
				return err
			}
			user, err := client.UpdateRoles(cmd.Context(), tok.AccessToken, args[0], update)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated roles of %s: %s\n", user.ID, strings.Join(user.Roles, ", "))
			return nil
		},
	}
}

func newUsersBlockCmd(flags *globalFlags) *cobra.Command {
	var unblock bool

	cmd := &cobra.Command{
		Use:   "block <user-id>",
		Short: "Block or unblock a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd, flags)
			if err != nil {
				return err
			}
			tok, err := env.token(cmd)
			if err != nil {
				return err
			}
			if err := requirePermission(env, authz.Admin); err != nil {
				return err
			}
			client, err := env.backend()
			if err != nil {
				return err
			}
			blocked := !unblock
			user, err := client.UpdateUser(cmd.Context(), tok.AccessToken, args[0], models.UserUpdate{IsBlocked: &blocked})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s blocked: %t\n", user.ID, user.IsBlocked)
			return nil
		},
	}

	cmd.Flags().BoolVar(&unblock, "unblock", false, "Unblock instead of block")

	return cmd
}
