package checks

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// LintRule is one line-level heuristic applied to files with matching extensions.
//
// A rule matches either by Pattern or by MaxLineLength; both may be set.
type LintRule struct {
	Code          string
	Message       string
	Extensions    []string
	Pattern       *regexp.Regexp
	MaxLineLength int
	CountsTodo    bool
}

var (
	pythonExts = []string{".py"}
	scriptExts = []string{".js", ".jsx", ".ts", ".tsx"}
	todoRe     = regexp.MustCompile(`(?i)TODO`)
)

// DefaultLintRules returns the built-in Python and JavaScript/TypeScript rules.
func DefaultLintRules() []LintRule {
	return []LintRule{
		{Code: "PY001", Message: "print() call found in Python code", Extensions: pythonExts, Pattern: regexp.MustCompile(`\bprint\s*\(`)},
		{Code: "PY002", Message: "TODO found in code", Extensions: pythonExts, Pattern: todoRe, CountsTodo: true},
		{Code: "PY003", Message: "line too long (>120)", Extensions: pythonExts, MaxLineLength: 120},
		{Code: "JS001", Message: "TODO found in code", Extensions: scriptExts, Pattern: todoRe, CountsTodo: true},
		{Code: "JS002", Message: "line too long (>140)", Extensions: scriptExts, MaxLineLength: 140},
	}
}

// Applies reports whether the rule covers files with the given extension.
func (r LintRule) Applies(ext string) bool {
	ext = strings.ToLower(ext)
	for _, candidate := range r.Extensions {
		if candidate == ext {
			return true
		}
	}
	return false
}

// Match reports whether line violates the rule.
func (r LintRule) Match(line string) bool {
	if r.Pattern != nil && r.Pattern.MatchString(line) {
		return true
	}
	return r.MaxLineLength > 0 && utf8.RuneCountInString(line) > r.MaxLineLength
}

// SplitLines splits content on LF or CRLF line endings.
func SplitLines(content string) []string {
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
}

// LintFile applies every applicable rule to every line of content.
func LintFile(path, content string, rules []LintRule) ([]LintError, int) {
	ext := extOf(path)
	applicable := make([]LintRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Applies(ext) {
			applicable = append(applicable, rule)
		}
	}
	if len(applicable) == 0 {
		return nil, 0
	}

	var (
		findings []LintError
		todos    int
	)
	for idx, line := range SplitLines(content) {
		for _, rule := range applicable {
			if !rule.Match(line) {
				continue
			}
			if rule.CountsTodo {
				todos++
			}
			findings = append(findings, LintError{
				File:    path,
				Line:    idx + 1,
				Code:    rule.Code,
				Message: rule.Message,
			})
		}
	}

	return findings, todos
}

func extOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || strings.Contains(path[idx:], "/") {
		return ""
	}
	return strings.ToLower(path[idx:])
}
