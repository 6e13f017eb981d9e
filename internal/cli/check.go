package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/service"
	"github.com/noah-isme/gema-review-api/pkg/archive"
	"github.com/noah-isme/gema-review-api/pkg/checks"
	"github.com/noah-isme/gema-review-api/pkg/testrunner"
)

// ErrProblemsFound is returned by check --strict when the verdict is send_back.
var ErrProblemsFound = errors.New("problems found")

type checkOptions struct {
	tests   bool
	timeout time.Duration
	strict  bool
}

// checkOutput is printed by the check command.
type checkOutput struct {
	Detection   checks.Detection  `json:"detection"`
	StaticCheck checks.Result     `json:"staticCheck"`
	Feedback    models.Feedback   `json:"feedback"`
	Error       *models.ErrorInfo `json:"error,omitempty"`
}

func newCheckCommand(st *state) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check <archive.zip|directory>",
		Short: "Run static checks and synthesize feedback",
		Long: `Run the static checks on a ZIP archive or an already extracted directory.

Archives are unpacked into a temporary directory first. The output holds the
detected languages, the raw check result and the synthesized feedback.

Examples:
  reviewctl check submission.zip
  reviewctl check ./project --tests --timeout 60s
  reviewctl check submission.zip --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, st, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.tests, "tests", false, "run the pytest suite (local executor)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "test run timeout (defaults to the configured checks.test_timeout)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit with an error when the verdict is send_back")

	return cmd
}

func runCheck(cmd *cobra.Command, st *state, opts *checkOptions, input string) error {
	workDir, cleanup, err := prepareInput(st, input)
	if err != nil {
		return err
	}
	defer cleanup()

	var runner checks.TestRunner
	if opts.tests {
		timeout := opts.timeout
		if timeout <= 0 {
			timeout = st.cfg.TestTimeout
		}
		runner = testrunner.NewRunner(testrunner.NewLocalExecutor(), testrunner.Config{Timeout: timeout, Logger: st.logger})
	}
	engine := checks.NewEngine(runner, checks.Config{EnableTests: opts.tests, Logger: st.logger})

	tree, err := engine.Walk(workDir)
	if err != nil {
		return fmt.Errorf("walk %s: %w", input, err)
	}

	out := checkOutput{Detection: checks.Detect(tree)}
	out.StaticCheck, err = engine.RunTree(cmd.Context(), tree)
	if err != nil {
		info := service.ClassifyError(err)
		out.Error = &info
	}
	out.Feedback = service.SynthesizeFeedback(out.StaticCheck)

	if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}

	if out.Error != nil {
		return fmt.Errorf("%s: %s", out.Error.Type, out.Error.UserMessage)
	}
	if opts.strict && out.Feedback.Verdict == models.VerdictSendBack {
		return ErrProblemsFound
	}
	return nil
}

// prepareInput returns a directory to check. Archives are extracted into a
// temporary directory removed by cleanup.
func prepareInput(st *state, input string) (string, func(), error) {
	noop := func() {}

	dir, err := isDir(input)
	if err != nil {
		return "", noop, err
	}
	if dir {
		return input, noop, nil
	}

	tmp, err := os.MkdirTemp("", "reviewctl-*")
	if err != nil {
		return "", noop, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	extractor := archive.NewExtractor(archive.Config{
		WorkRoot:          tmp,
		MaxArchiveBytes:   st.cfg.MaxUploadBytes,
		MaxExtractedBytes: st.cfg.MaxExtractedBytes,
		Logger:            st.logger,
	})
	workDir, err := extractor.Extract(input, "local", "archive")
	if err != nil {
		cleanup()
		return "", noop, err
	}
	return workDir, cleanup, nil
}
