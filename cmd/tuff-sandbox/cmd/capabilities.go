package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tuff-dev/tuff-sandbox/capability"
)

func newCapabilitiesCmd(_ *rootOptions) *cobra.Command {
	var (
		output string
		scope  string
		status string
	)
	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "List the capability catalog",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := capability.Query{Scope: capability.Scope(scope), Status: capability.Status(status)}
			if q.Scope != "" && !q.Scope.Valid() {
				return fmt.Errorf("invalid scope %q", scope)
			}
			if q.Status != "" && !q.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			reg := capability.NewRegistry()
			reg.RegisterDefaults()
			caps := reg.List(q)

			out := cmd.OutOrStdout()
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(caps)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(caps)
			case "table":
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSCOPE\tSTATUS\tSENSITIVE\tNAME")
				for _, c := range caps {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", c.ID, c.Scope, c.Status, c.Sensitive, c.Name)
				}
				return w.Flush()
			default:
				return fmt.Errorf("unknown output format %q (want table, yaml or json)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, yaml or json)")
	cmd.Flags().StringVar(&scope, "scope", "", "only list capabilities in this scope")
	cmd.Flags().StringVar(&status, "status", "", "only list capabilities with this status")
	return cmd
}
