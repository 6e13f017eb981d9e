package checks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-api/pkg/testrunner"
)

// TestRunner executes the project's test suite.
type TestRunner interface {
	Run(ctx context.Context, dir string) (testrunner.Result, error)
}

// Config groups engine configuration values.
type Config struct {
	EnableTests  bool
	ExcludedDirs []string
	LintRules    []LintRule
	Requirements []RequirementCheck
	Logger       zerolog.Logger
}

// Engine runs lint heuristics, requirement checks and the optional test suite.
type Engine struct {
	cfg    Config
	runner TestRunner
	logger zerolog.Logger
}

// NewEngine builds an engine. runner may be nil when tests are disabled.
func NewEngine(runner TestRunner, cfg Config) *Engine {
	if cfg.LintRules == nil {
		cfg.LintRules = DefaultLintRules()
	}
	if cfg.Requirements == nil {
		cfg.Requirements = DefaultRequirementChecks()
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Engine{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("component", "static_check").Logger(),
	}
}

// Walk performs the single directory walk shared by detection and checks.
func (e *Engine) Walk(workDir string) (*Tree, error) {
	return Walk(workDir, e.cfg.ExcludedDirs)
}

// Run walks workDir and evaluates every analysis.
//
// Only a test-runner timeout is returned as an error; the partial result is
// returned alongside it.
func (e *Engine) Run(ctx context.Context, workDir string) (Result, error) {
	tree, err := e.Walk(workDir)
	if err != nil {
		return EmptyResult(), fmt.Errorf("walk work dir: %w", err)
	}
	return e.RunTree(ctx, tree)
}

// RunTree evaluates an already walked tree.
func (e *Engine) RunTree(ctx context.Context, tree *Tree) (Result, error) {
	result := EmptyResult()

	for _, file := range tree.Files {
		ext := file.Ext()
		isPython := ext == ".py"
		isScript := ext == ".js" || ext == ".jsx" || ext == ".ts" || ext == ".tsx"
		if !isPython && !isScript {
			continue
		}
		if isPython {
			result.Metrics.PyFiles++
		} else {
			result.Metrics.JSFiles++
		}

		content := tree.Content(file)
		result.Metrics.Lines += len(SplitLines(content))

		findings, todos := LintFile(file.Path, content, e.cfg.LintRules)
		result.Lint.Errors = append(result.Lint.Errors, findings...)
		result.Metrics.Todos += todos
	}

	for _, check := range e.cfg.Requirements {
		result.Requirements = append(result.Requirements, check.Run(tree))
	}

	reviewConfig, err := LoadReviewConfig(tree.Root)
	if err != nil {
		e.logger.Warn().Err(err).Msg("review config rejected")
		result.Requirements = append(result.Requirements, InvalidConfigRequirement(err))
	} else {
		result.Requirements = append(result.Requirements, reviewConfig.Evaluate(tree)...)
	}

	if e.cfg.EnableTests && e.runner != nil && tree.HasExt(".py") {
		if err := e.runTests(ctx, tree.Root, &result); err != nil {
			return result, err
		}
	}

	e.logger.Debug().
		Int("files", len(tree.Files)).
		Int("lint_errors", len(result.Lint.Errors)).
		Int("tests_failed", result.Tests.Failed).
		Msg("static check completed")

	return result, nil
}

// runTests merges the runner outcome into result. Only failed tests count as
// failures; collection errors and a runner that never started are reported as
// a pytest-error item, unparseable output as a pytest-raw item.
func (e *Engine) runTests(ctx context.Context, dir string, result *Result) error {
	run, err := e.runner.Run(ctx, dir)
	result.Tests.Passed += run.Passed
	result.Tests.Failed += run.Failed
	for _, id := range run.FailedIDs {
		result.Tests.Items = append(result.Tests.Items, TestItem{ID: id, Status: StatusFailed})
	}

	if err != nil {
		return fmt.Errorf("run tests: %w", err)
	}

	switch {
	case run.Errors > 0:
		result.Tests.Items = append(result.Tests.Items, TestItem{
			ID:      "pytest-error",
			Status:  StatusFailed,
			Message: fmt.Sprintf("%d error(s) during test collection or setup", run.Errors),
		})
	case len(run.Attempts) > 0 && !anyStarted(run.Attempts):
		result.Tests.Items = append(result.Tests.Items, TestItem{
			ID:      "pytest-error",
			Status:  StatusFailed,
			Message: run.RawOutput(),
		})
	case !run.Recognized && len(run.Attempts) > 0:
		result.Tests.Items = append(result.Tests.Items, TestItem{
			ID:      "pytest-raw",
			Status:  StatusFailed,
			Message: run.RawOutput(),
		})
	}

	return nil
}

func anyStarted(attempts []testrunner.Attempt) bool {
	for _, attempt := range attempts {
		if attempt.Error == "" {
			return true
		}
	}
	return false
}
