package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftdb/driftdb/internal/oplog"
)

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath string
		since  uint64
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Dump the operation log",
		Long: `Dump the operation history of a replica database in ascending
clock order.

Example:
  driftdb log --db ./replica.db
  driftdb log --db ./replica.db --since 1756166400000000000 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := oplog.Open(dbPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer log.Close()

			ops, err := log.OpsSince(cmd.Context(), since)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read log", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ops)
			}

			for _, o := range ops {
				fmt.Fprintf(out, "%d.%d\t%s\t%s\t%s/%s\t%s\n",
					o.HLCTime, o.HLCCounter, shortID(o.NodeID),
					o.Kind, o.Table, o.PrimaryKey, o.OpID)
			}
			fmt.Fprintf(out, "%d operations\n", len(ops))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "replica database path (required)")
	cmd.Flags().Uint64Var(&since, "since", 0, "only entries with hlc_time greater than this")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// shortID abbreviates a node UUID for the text listing.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
