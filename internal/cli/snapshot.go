package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-review-api/pkg/snapshot"
)

func newSnapshotCommand(st *state) *cobra.Command {
	var metricsOnly bool

	cmd := &cobra.Command{
		Use:   "snapshot <archive.zip|directory>",
		Short: "Render the project snapshot sent to the AI reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir, cleanup, err := prepareInput(st, args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := newSnapshotBuilder(st).Build(workDir)
			if err != nil {
				return err
			}

			if metricsOnly {
				return writeJSON(cmd.OutOrStdout(), snap.Metrics)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), snap.Text())
			return err
		},
	}

	cmd.Flags().BoolVar(&metricsOnly, "metrics", false, "print only the budget metrics as JSON")

	return cmd
}

func newSnapshotBuilder(st *state) *snapshot.Builder {
	return snapshot.NewBuilder(snapshot.Budget{
		MaxFiles:      st.cfg.SnapshotMaxFiles,
		MaxFileBytes:  st.cfg.SnapshotMaxFileBytes,
		MaxTotalBytes: st.cfg.SnapshotMaxTotalBytes,
		AllowedExts:   st.cfg.SnapshotAllowedExts,
		ExcludedDirs:  st.cfg.SnapshotExcludedDirs,
	}, st.logger)
}
