package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftdb/driftdb/internal/oplog"
)

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath string
		before uint64
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact the operation log",
		Long: `Delete history entries older than a clock time, keeping any entry
that is still a row's winning write. Peers that fall behind the
compaction point can no longer catch up incrementally and need a full
resync.

Example:
  driftdb compact --db ./replica.db --before 1756166400000000000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := oplog.Open(dbPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer log.Close()

			n, err := log.Compact(cmd.Context(), before)
			if err != nil {
				return WrapExitError(ExitFailure, "compaction failed", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d log entries\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "replica database path (required)")
	cmd.Flags().Uint64Var(&before, "before", 0, "delete entries with hlc_time less than this (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("before")

	return cmd
}
