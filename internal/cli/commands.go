package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/animus-labs/dispatch-gateway/internal/bindings"
	"github.com/animus-labs/dispatch-gateway/internal/domain"
)

func (a *app) registerCommand() *cobra.Command {
	var bindingsFile string
	cmd := &cobra.Command{
		Use:   "register NAME FILE",
		Short: "Deploy FILE as unit NAME (FILE may be - for stdin)",
		Long: `Deploy a JavaScript module as unit NAME and point the directory at it.

Registering an existing name replaces its code. Bindings default to the
gateway's configured set; --bindings replaces them for this registration.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]
			if err := domain.UnitName(name).Validate(); err != nil {
				return a.report(err, name)
			}
			code, err := a.readCode(path)
			if err != nil {
				return a.report(err, name)
			}
			var unitBindings []domain.Binding
			if bindingsFile != "" {
				unitBindings, err = bindings.Load(bindingsFile)
				if err != nil {
					return a.report(err, name)
				}
			}

			c, err := a.client()
			if err != nil {
				return a.report(err, name)
			}
			reg, err := c.Register(cmd.Context(), name, code, unitBindings)
			if err != nil {
				return a.report(err, name)
			}
			fmt.Fprintf(a.stdout, "registered %s\ndeployment: %s\nurl: %s\n", reg.Name, reg.DeploymentID, reg.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&bindingsFile, "bindings", "", "YAML bindings file to send with the code")
	return cmd
}

func (a *app) readCode(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(a.stdin)
	}
	return os.ReadFile(path)
}

func (a *app) listCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return a.report(err, "")
			}
			entries, err := c.List(cmd.Context())
			if err != nil {
				return a.report(err, "")
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDEPLOYMENT\tURL")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.DeploymentID, e.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func (a *app) repairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair NAME DEPLOYMENT_ID",
		Short: "Point NAME at an already deployed id without redeploying",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, id := args[0], args[1]
			c, err := a.client()
			if err != nil {
				return a.report(err, name)
			}
			if err := c.Repair(cmd.Context(), name, id); err != nil {
				return a.report(err, name)
			}
			fmt.Fprintf(a.stdout, "%s -> %s\n", name, id)
			return nil
		},
	}
}

func (a *app) sourceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "source NAME",
		Short: "Print the last archived code of NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			c, err := a.client()
			if err != nil {
				return a.report(err, name)
			}
			body, err := c.Source(cmd.Context(), name)
			if err != nil {
				return a.report(err, name)
			}
			defer body.Close()
			if _, err := io.Copy(a.stdout, body); err != nil {
				return a.report(err, name)
			}
			return nil
		},
	}
}
