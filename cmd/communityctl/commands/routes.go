package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/benvon/community-portal/internal/authz"
	"github.com/benvon/community-portal/internal/gate"
	"github.com/spf13/cobra"
)

func newRoutesCmd() *cobra.Command {
	var file, permission string
	var sidebar bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Show the route table",
		Long:  "Print the portal's route table, or with --sidebar the entries a permission level sees",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := gate.DefaultTable()
			if file != "" {
				table, err = gate.LoadTable(file)
			}
			if err != nil {
				return err
			}

			routes := table.Routes()
			if sidebar {
				p, err := authz.Parse(permission)
				if err != nil {
					return err
				}
				routes = table.Sidebar(p)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tLABEL\tPERMISSION\tSIDEBAR")
			for _, r := range routes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.Path, r.Label, r.Required(), r.ShowInSidebar)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !sidebar {
				fmt.Fprintf(cmd.OutOrStdout(), "\nDefault route: %s\n", table.Default().Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Route table YAML (default: built-in table)")
	cmd.Flags().BoolVar(&sidebar, "sidebar", false, "Only show sidebar entries visible to --permission")
	cmd.Flags().StringVar(&permission, "permission", string(authz.Public), "Permission level for --sidebar")

	return cmd
}
