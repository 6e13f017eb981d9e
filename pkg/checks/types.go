package checks

// Requirement statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// LintError is a single rule violation on a single line.
type LintError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Requirement is the evaluated state of one built-in or configured check.
type Requirement struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Evidence string `json:"evidence,omitempty"`
}

// TestItem describes one failing test or a runner diagnostic.
type TestItem struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// TestSummary aggregates the external test run.
type TestSummary struct {
	Passed int        `json:"passed"`
	Failed int        `json:"failed"`
	Items  []TestItem `json:"items"`
}

// LintSummary groups lint findings.
type LintSummary struct {
	Errors []LintError `json:"errors"`
}

// Metrics are simple size counters over the working tree.
type Metrics struct {
	PyFiles int `json:"pyFiles"`
	JSFiles int `json:"jsFiles"`
	Lines   int `json:"lines"`
	Todos   int `json:"todos"`
}

// Result is the output of one static check run.
type Result struct {
	Tests        TestSummary   `json:"tests"`
	Lint         LintSummary   `json:"lint"`
	Metrics      Metrics       `json:"metrics"`
	Requirements []Requirement `json:"requirements"`
}

// EmptyResult returns a result with non-nil collections, suitable for fallback artifacts.
func EmptyResult() Result {
	return Result{
		Tests:        TestSummary{Items: []TestItem{}},
		Lint:         LintSummary{Errors: []LintError{}},
		Requirements: []Requirement{},
	}
}

// Detection describes which languages and tooling a working tree uses.
type Detection struct {
	Languages []string `json:"languages"`
	HasPytest bool     `json:"hasPytest"`
}
