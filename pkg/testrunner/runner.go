package testrunner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrTimeout is returned when the test process exceeded its deadline and was killed.
	ErrTimeout = errors.New("test run timed out")
	// ErrNotStarted signals that an invocation could not be launched at all.
	ErrNotStarted = errors.New("test runner could not be started")
)

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gema",
	Subsystem: "testrunner",
	Name:      "attempts_total",
	Help:      "Test runner invocation attempts by outcome",
}, []string{"invocation", "outcome"})

var (
	flagRejectedRe  = regexp.MustCompile(`(?i)unrecognized arguments: --disable-socket`)
	moduleMissingRe = regexp.MustCompile(`(?i)no module named pytest`)
)

const (
	defaultTimeout   = 120 * time.Second
	rawOutputLimit   = 2000
	attemptSeparator = "\n----\n"
)

// Invocation is one way of launching the test runner.
type Invocation struct {
	Command string
	Args    []string
}

// String renders the invocation as a shell-like command line.
func (i Invocation) String() string {
	return strings.TrimSpace(i.Command + " " + strings.Join(i.Args, " "))
}

// DefaultInvocations returns the pytest invocations in the order they are tried.
func DefaultInvocations() []Invocation {
	base := []string{"--maxfail=1", "-q", "-rA"}
	withSocketGuard := append(append([]string{}, base...), "--disable-socket")

	return []Invocation{
		{Command: "pytest", Args: withSocketGuard},
		{Command: "python3", Args: append([]string{"-m", "pytest"}, withSocketGuard...)},
		{Command: "pytest", Args: base},
		{Command: "python3", Args: append([]string{"-m", "pytest"}, base...)},
	}
}

// Execution is the raw outcome of running one invocation.
type Execution struct {
	Output   string
	ExitCode int
	TimedOut bool
}

// Executor launches a single invocation inside dir.
type Executor interface {
	Execute(ctx context.Context, dir string, inv Invocation, timeout time.Duration) (Execution, error)
}

// Attempt records one tried invocation for diagnostics.
type Attempt struct {
	Invocation string `json:"invocation"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of a test run across all attempted invocations.
type Result struct {
	Summary
	Invocation string
	Output     string
	Attempts   []Attempt
}

// RawOutput returns the combined output of every attempt, truncated for reports.
func (r Result) RawOutput() string {
	parts := make([]string, 0, len(r.Attempts))
	for _, attempt := range r.Attempts {
		text := attempt.Output
		if attempt.Error != "" {
			text = strings.TrimSpace(text + "\n" + attempt.Error)
		}
		parts = append(parts, fmt.Sprintf("$ %s\n%s", attempt.Invocation, text))
	}

	combined := strings.Join(parts, attemptSeparator)
	if len(combined) > rawOutputLimit {
		combined = combined[:rawOutputLimit]
	}
	return combined
}

// Config groups runner configuration values.
type Config struct {
	Timeout     time.Duration
	Invocations []Invocation
	Logger      zerolog.Logger
}

// Runner tries each invocation in order until one produces parseable output.
type Runner struct {
	executor Executor
	cfg      Config
	logger   zerolog.Logger
}

// NewRunner builds a runner on top of the provided executor.
func NewRunner(executor Executor, cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.Invocations) == 0 {
		cfg.Invocations = DefaultInvocations()
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Runner{
		executor: executor,
		cfg:      cfg,
		logger:   logger.With().Str("component", "test_runner").Logger(),
	}
}

// Run executes the test suite found in dir.
//
// A timeout returns the partial result together with ErrTimeout. Every other
// failure, including a runner that never starts, yields a result without error.
func (r *Runner) Run(ctx context.Context, dir string) (Result, error) {
	result := Result{}

	for _, inv := range r.cfg.Invocations {
		name := inv.String()
		execution, err := r.executor.Execute(ctx, dir, inv, r.cfg.Timeout)
		if err != nil {
			attemptsTotal.WithLabelValues(inv.Command, "not_started").Inc()
			result.Attempts = append(result.Attempts, Attempt{Invocation: name, ExitCode: -1, Error: err.Error()})
			r.logger.Debug().Err(err).Str("invocation", name).Msg("test invocation failed to start")
			continue
		}

		result.Attempts = append(result.Attempts, Attempt{Invocation: name, ExitCode: execution.ExitCode, Output: execution.Output})

		if execution.TimedOut {
			attemptsTotal.WithLabelValues(inv.Command, "timeout").Inc()
			result.Summary = Parse(execution.Output)
			result.Invocation = name
			result.Output = execution.Output
			return result, fmt.Errorf("%w after %s (%s)", ErrTimeout, r.cfg.Timeout, name)
		}

		if flagRejectedRe.MatchString(execution.Output) || moduleMissingRe.MatchString(execution.Output) {
			attemptsTotal.WithLabelValues(inv.Command, "rejected").Inc()
			continue
		}

		summary := Parse(execution.Output)
		if summary.Recognized {
			attemptsTotal.WithLabelValues(inv.Command, "parsed").Inc()
			result.Summary = summary
			result.Invocation = name
			result.Output = execution.Output
			r.logger.Info().
				Str("invocation", name).
				Int("passed", summary.Passed).
				Int("failed", summary.Failed).
				Msg("test run parsed")
			return result, nil
		}

		attemptsTotal.WithLabelValues(inv.Command, "unparsed").Inc()
	}

	if n := len(result.Attempts); n > 0 {
		result.Output = result.Attempts[n-1].Output
		result.Summary = Parse(result.Output)
	}

	r.logger.Warn().Int("attempts", len(result.Attempts)).Msg("no test invocation produced parseable output")
	return result, nil
}
