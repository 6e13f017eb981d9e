package testrunner

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	summaryLinePattern = regexp.MustCompile(`^\d+ (passed|failed|errors?|skipped|deselected|xfailed|xpassed|warnings?)\b`)
	summaryCountRe     = regexp.MustCompile(`(\d+) (passed|failed|errors?)\b`)
	failedLineRe       = regexp.MustCompile(`(?m)^(?:=+\s*)?FAILED\s+(\S.*?)(?:\s+-\s+.*)?$`)
	progressLineRe     = regexp.MustCompile(`^[.FEsxX]+(\s+\[\s*\d+%\])?$`)
	noTestsRe          = regexp.MustCompile(`(?i)no tests ran`)
)

// Summary is the structured view of a pytest run's output.
type Summary struct {
	Passed     int
	Failed     int
	Errors     int
	FailedIDs  []string
	Recognized bool
}

// Parse extracts counts and failing test identifiers from pytest output.
func Parse(output string) Summary {
	text := strings.ReplaceAll(output, "\r", "")
	summary := Summary{}

	sawSummary := false
	progressPassed, progressFailed := 0, 0
	sawProgress := false

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "="))
		if line == "" {
			continue
		}

		if summaryLinePattern.MatchString(line) {
			sawSummary = true
			for _, match := range summaryCountRe.FindAllStringSubmatch(line, -1) {
				n, err := strconv.Atoi(match[1])
				if err != nil {
					continue
				}
				switch {
				case match[2] == "passed":
					summary.Passed = max(summary.Passed, n)
				case match[2] == "failed":
					summary.Failed = max(summary.Failed, n)
				default:
					summary.Errors = max(summary.Errors, n)
				}
			}
			continue
		}

		if progressLineRe.MatchString(line) {
			sawProgress = true
			marks := strings.Fields(line)[0]
			progressPassed += strings.Count(marks, ".")
			progressFailed += strings.Count(marks, "F")
		}
	}

	seen := make(map[string]struct{})
	for _, match := range failedLineRe.FindAllStringSubmatch(text, -1) {
		id := strings.TrimSpace(match[1])
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		summary.FailedIDs = append(summary.FailedIDs, id)
	}

	if !sawSummary && sawProgress {
		summary.Passed = progressPassed
		summary.Failed = progressFailed
	}

	if len(summary.FailedIDs) > summary.Failed {
		summary.Failed = len(summary.FailedIDs)
	}

	summary.Recognized = sawSummary || sawProgress || len(summary.FailedIDs) > 0 || noTestsRe.MatchString(text)
	return summary
}
