// Package cli provides the reviewctl command-line interface, which runs the
// review pipeline stages against local inputs without the HTTP server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-review-api/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// state is shared by every subcommand of one root command.
type state struct {
	verbose bool
	cfg     config.Config
	logger  zerolog.Logger
}

// NewRootCommand builds the reviewctl command tree.
func NewRootCommand() *cobra.Command {
	st := &state{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "reviewctl",
		Short: "Run submission review checks locally",
		Long: `reviewctl runs the stages of the review pipeline against local inputs.

Use check to extract an archive (or read a directory) and run the static checks,
snapshot to render the text the AI reviewer receives, and localize to map the
fragments of a review report onto exact file ranges.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st.cfg = cfg

			if st.verbose {
				st.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
			}
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	root.AddCommand(newCheckCommand(st))
	root.AddCommand(newSnapshotCommand(st))
	root.AddCommand(newLocalizeCommand(st))

	return root
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
