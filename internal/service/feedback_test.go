package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/pkg/checks"
)

func lintErrors(n int) []checks.LintError {
	errs := make([]checks.LintError, n)
	for i := range errs {
		errs[i] = checks.LintError{File: "app.py", Line: i + 1, Code: "PY001", Message: "print"}
	}
	return errs
}

func TestSynthesizeFeedback_Clean(t *testing.T) {
	result := checks.EmptyResult()
	result.Tests.Passed = 4
	result.Requirements = []checks.Requirement{
		{ID: "django:models.py", Title: "models.py present", Status: checks.StatusPassed},
		{ID: "js:eslint", Title: "ESLint", Status: checks.StatusSkipped},
	}

	feedback := SynthesizeFeedback(result)
	require.Equal(t, 100, feedback.Score)
	require.Equal(t, models.VerdictToReviewer, feedback.Verdict)
	require.Empty(t, feedback.Problems)
	require.Equal(t, []string{"models.py present: passed", "ESLint: skipped"}, feedback.Requirements)
	require.Equal(t, []string{"Hand the work over for review"}, feedback.NextSteps)
	require.Equal(t, "Score: 100/100; Tests: passed=4, failed=0; Lint findings: 0; Requirements: passed=1, failed=0", feedback.Summary)
}

func TestSynthesizeFeedback_Problems(t *testing.T) {
	result := checks.EmptyResult()
	result.Tests.Failed = 2
	result.Lint.Errors = lintErrors(3)

	feedback := SynthesizeFeedback(result)
	require.Equal(t, 77, feedback.Score)
	require.Equal(t, models.VerdictSendBack, feedback.Verdict)
	require.Equal(t, []string{"Failed tests: 2", "Lint findings: 3"}, feedback.Problems)
	require.Len(t, feedback.NextSteps, 2)
}

func TestScoreBounds(t *testing.T) {
	result := checks.EmptyResult()
	result.Tests.Failed = 20
	require.Equal(t, 0, Score(result))

	result = checks.EmptyResult()
	result.Lint.Errors = lintErrors(1)
	require.Equal(t, 99, Score(result))
	require.Equal(t, models.VerdictSendBack, SynthesizeFeedback(result).Verdict)
}
