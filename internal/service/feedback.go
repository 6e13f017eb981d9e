package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/pkg/checks"
)

// HasProblems reports whether a static check result blocks the submission.
func HasProblems(result checks.Result) bool {
	return result.Tests.Failed > 0 || len(result.Lint.Errors) > 0
}

// Score is 100 minus 10 per failed test and 1 per lint error, clamped to 0..100.
func Score(result checks.Result) int {
	score := 100 - 10*result.Tests.Failed - len(result.Lint.Errors)
	return min(100, max(0, score))
}

// SynthesizeFeedback derives the student-facing feedback from static checks.
func SynthesizeFeedback(result checks.Result) models.Feedback {
	failedTests := result.Tests.Failed
	lintCount := len(result.Lint.Errors)
	score := Score(result)

	verdict := models.VerdictToReviewer
	if HasProblems(result) {
		verdict = models.VerdictSendBack
	}

	problems := []string{}
	if failedTests > 0 {
		problems = append(problems, fmt.Sprintf("Failed tests: %d", failedTests))
	}
	if lintCount > 0 {
		problems = append(problems, fmt.Sprintf("Lint findings: %d", lintCount))
	}

	var passedReqs, failedReqs int
	requirements := make([]string, 0, len(result.Requirements))
	for _, req := range result.Requirements {
		switch req.Status {
		case checks.StatusPassed:
			passedReqs++
		case checks.StatusFailed:
			failedReqs++
		}
		requirements = append(requirements, fmt.Sprintf("%s: %s", req.Title, req.Status))
	}

	summary := strings.Join([]string{
		fmt.Sprintf("Score: %d/100", score),
		fmt.Sprintf("Tests: passed=%d, failed=%d", result.Tests.Passed, failedTests),
		fmt.Sprintf("Lint findings: %d", lintCount),
		fmt.Sprintf("Requirements: passed=%d, failed=%d", passedReqs, failedReqs),
	}, "; ")

	nextSteps := []string{}
	if failedTests > 0 {
		nextSteps = append(nextSteps, "Fix the failing tests and run the check again")
	}
	if lintCount > 0 {
		nextSteps = append(nextSteps, "Resolve the lint findings (print calls, TODOs, long lines)")
	}
	if len(nextSteps) == 0 {
		nextSteps = append(nextSteps, "Hand the work over for review")
	}

	return models.Feedback{
		Summary:      summary,
		Score:        score,
		Verdict:      verdict,
		Requirements: requirements,
		Problems:     problems,
		NextSteps:    nextSteps,
	}
}
