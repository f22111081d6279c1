package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	var schemaDir string

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List declared tables",
		Long: `List the tables declared in a CUE schema directory, with their
primary key, columns, and whether they replicate.

Example:
  driftdb tables --schema ./schema
  driftdb tables --schema ./schema --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			decls, err := LoadTables(schemaDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load table declarations", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(decls)
			}

			for _, d := range decls {
				mode := "synced"
				if !d.Synced {
					mode = "local"
				}
				fmt.Fprintf(out, "%s\t(pk: %s, %s)\t%s\n",
					d.Name, d.PrimaryKey, mode, strings.Join(d.Columns, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaDir, "schema", "", "CUE schema directory (required)")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}
