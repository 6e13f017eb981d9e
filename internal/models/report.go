package models

import (
	"time"

	"github.com/noah-isme/gema-review-api/pkg/checks"
	"github.com/noah-isme/gema-review-api/pkg/localizer"
)

// Report statuses.
const (
	ReportStatusSuccess = "success"
	ReportStatusWarning = "warning"
	ReportStatusError   = "error"
)

// Report detail kinds.
const (
	ReportKindStudent  = "student"
	ReportKindReviewer = "reviewer"
)

// Report is a student- or reviewer-facing run summary.
type Report struct {
	ID        string        `json:"id"`
	RunID     string        `json:"runId"`
	CreatedAt time.Time     `json:"createdAt"`
	Summary   string        `json:"summary"`
	Status    string        `json:"status"`
	Details   ReportDetails `json:"details"`
}

// StudentReportID returns the id of a run's student report.
func StudentReportID(runID string) string {
	return runID + ":student"
}

// ReviewerReportID returns the id of a run's reviewer report.
func ReviewerReportID(runID string) string {
	return runID + ":reviewer"
}

// ReportDetails is discriminated by Kind. Student reports carry Feedback,
// reviewer reports carry the grouped check results; failed runs carry Error.
type ReportDetails struct {
	Kind         string               `json:"kind"`
	Feedback     *Feedback            `json:"feedback,omitempty"`
	Tests        *ReviewerTests       `json:"tests,omitempty"`
	Lint         *ReviewerLint        `json:"lint,omitempty"`
	Metrics      *checks.Metrics      `json:"metrics,omitempty"`
	Requirements []checks.Requirement `json:"requirements,omitempty"`
	Issues       []localizer.Issue    `json:"issues,omitempty"`
	Error        *ErrorDetails        `json:"error,omitempty"`
}

// ReviewerTests summarizes test results for reviewers.
type ReviewerTests struct {
	Passed      int               `json:"passed"`
	Failed      int               `json:"failed"`
	FailedItems []checks.TestItem `json:"failedItems"`
}

// LintFinding is a lint error without its file, grouped under ReviewerLint.
type LintFinding struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReviewerLint groups lint findings by file.
type ReviewerLint struct {
	ByFile map[string][]LintFinding `json:"byFile"`
}

// ErrorDetails describes a failure inside reports and fallback artifacts.
type ErrorDetails struct {
	Type       string        `json:"type"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
	Technical  string        `json:"technical,omitempty"`
	Context    *ErrorContext `json:"context,omitempty"`
}

// ErrorContext identifies where a run failed.
type ErrorContext struct {
	Toolchain  string `json:"toolchain,omitempty"`
	Operation  string `json:"operation,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}
