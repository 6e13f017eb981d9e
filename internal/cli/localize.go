package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-review-api/pkg/localizer"
)

func newLocalizeCommand(st *state) *cobra.Command {
	var reportPath string

	cmd := &cobra.Command{
		Use:   "localize <archive.zip|directory>",
		Short: "Map review report fragments onto file ranges",
		Long: `Parse the numbered error blocks of a review report and locate every
<<fragment>> in the project files.

The report is read from --report, or from stdin when --report is "-".

Examples:
  reviewctl localize ./project --report review.txt
  cat review.txt | reviewctl localize submission.zip --report -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := readReport(cmd, reportPath)
			if err != nil {
				return err
			}

			workDir, cleanup, err := prepareInput(st, args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := newSnapshotBuilder(st).Build(workDir)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), localizer.ExtractIssues(report, snap.Files))
		},
	}

	cmd.Flags().StringVarP(&reportPath, "report", "r", "", "report file, or - for stdin")
	_ = cmd.MarkFlagRequired("report")

	return cmd
}

func readReport(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	return string(data), nil
}
