package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tuff-dev/tuff-sandbox/capability/grantstore"
)

func newGrantsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Manage remembered capability grants",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List remembered grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := grantstore.NewFileStore(grantstore.WithPath(o.cfg.Grants))
			grants, err := store.Grants()
			if err != nil {
				return err
			}
			plugins := make([]string, 0, len(grants))
			for p := range grants {
				plugins = append(plugins, p)
			}
			sort.Strings(plugins)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PLUGIN\tCAPABILITY")
			for _, p := range plugins {
				caps := append([]string(nil), grants[p]...)
				sort.Strings(caps)
				for _, c := range caps {
					fmt.Fprintf(w, "%s\t%s\n", p, c)
				}
			}
			return w.Flush()
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <plugin> <capability>",
		Short: "Forget a remembered grant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := grantstore.NewFileStore(grantstore.WithPath(o.cfg.Grants))
			if err := store.Revoke(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s for %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.AddCommand(list, revoke)
	return cmd
}
