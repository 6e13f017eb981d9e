package checks

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// RequirementCheck evaluates one built-in requirement against a tree.
type RequirementCheck struct {
	ID       string
	Title    string
	Evaluate func(tree *Tree) (status, evidence string)
}

// Run evaluates the check and returns its requirement record.
func (c RequirementCheck) Run(tree *Tree) Requirement {
	status, evidence := c.Evaluate(tree)
	return Requirement{ID: c.ID, Title: c.Title, Status: status, Evidence: evidence}
}

var modelFieldRe = regexp.MustCompile(`models\.(CharField|TextField|IntegerField|Date(Time)?Field|ForeignKey)`)

// DefaultRequirementChecks returns the built-in framework and test heuristics.
func DefaultRequirementChecks() []RequirementCheck {
	return []RequirementCheck{
		fileRequirement("django:models.py", "Django: models.py present", "models.py"),
		fileRequirement("django:urls.py", "Django: urls.py present", "urls.py"),
		fileRequirement("django:views.py", "Django: views.py present", "views.py"),
		{
			ID:       "django:basic-model-fields",
			Title:    "Django: basic model fields",
			Evaluate: evaluateModelFields,
		},
		{
			ID:       "tests:present",
			Title:    "Tests: test files present",
			Evaluate: evaluateTestFiles,
		},
		{
			ID:       "js:eslint",
			Title:    "JS: ESLint (optional)",
			Evaluate: evaluateESLint,
		},
	}
}

func fileRequirement(id, title, name string) RequirementCheck {
	return RequirementCheck{
		ID:    id,
		Title: title,
		Evaluate: func(tree *Tree) (string, string) {
			matches := tree.FindSuffix(name)
			if len(matches) == 0 {
				return StatusFailed, fmt.Sprintf("%s not found", name)
			}
			return StatusPassed, fmt.Sprintf("found %s", matches[0].Path)
		},
	}
}

func evaluateModelFields(tree *Tree) (string, string) {
	for _, file := range tree.Files {
		if !strings.HasSuffix(strings.ToLower(file.Path), "models.py") {
			continue
		}
		if modelFieldRe.MatchString(tree.Content(file)) {
			return StatusPassed, fmt.Sprintf("basic model fields found in %s", file.Path)
		}
	}
	return StatusFailed, "no model fields detected"
}

func evaluateTestFiles(tree *Tree) (string, string) {
	files := tree.TestFiles()
	if len(files) == 0 {
		return StatusFailed, "no test files found"
	}
	return StatusPassed, "test files: " + joinBaseNames(files)
}

// ESLint is never executed; the requirement is always reported skipped.
func evaluateESLint(tree *Tree) (string, string) {
	if info, err := os.Stat(filepath.Join(tree.Root, "node_modules")); err == nil && info.IsDir() {
		return StatusSkipped, "node_modules present, ESLint was not run"
	}
	return StatusSkipped, "node_modules absent"
}

func joinBaseNames(files []File) string {
	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, path.Base(file.Path))
	}
	return strings.Join(names, ", ")
}
