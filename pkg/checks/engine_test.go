package checks_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/pkg/checks"
	"github.com/noah-isme/gema-review-api/pkg/testrunner"
)

type stubRunner struct {
	result testrunner.Result
	err    error
	calls  int
}

func (s *stubRunner) Run(context.Context, string) (testrunner.Result, error) {
	s.calls++
	return s.result, s.err
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func requirementByID(t *testing.T, result checks.Result, id string) checks.Requirement {
	t.Helper()
	for _, req := range result.Requirements {
		if req.ID == id {
			return req
		}
	}
	t.Fatalf("requirement %s not found", id)
	return checks.Requirement{}
}

func TestEngine_DjangoModelFieldsPassed(t *testing.T) {
	root := writeTree(t, map[string]string{
		"shop/models.py": "from django.db import models\n\nclass Item(models.Model):\n    name = models.CharField(max_length=10)\n",
		"shop/urls.py":   "urlpatterns = []\n",
	})

	engine := checks.NewEngine(nil, checks.Config{})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)

	require.Equal(t, checks.StatusPassed, requirementByID(t, result, "django:basic-model-fields").Status)
	require.Equal(t, checks.StatusPassed, requirementByID(t, result, "django:models.py").Status)
	require.Equal(t, checks.StatusPassed, requirementByID(t, result, "django:urls.py").Status)
	require.Equal(t, checks.StatusFailed, requirementByID(t, result, "django:views.py").Status)
	require.Equal(t, checks.StatusSkipped, requirementByID(t, result, "js:eslint").Status)
}

func TestEngine_LintRulesDoNotShortCircuit(t *testing.T) {
	longLine := "x = '" + strings.Repeat("a", 130) + "'  # TODO shorten"
	root := writeTree(t, map[string]string{
		"app.py":            "print('a')  # todo\n" + longLine + "\n",
		"web/index.ts":      "// TODO wire api\nconst s = '" + strings.Repeat("b", 150) + "';\n",
		"node_modules/x.js": "// TODO ignored\n",
		"notes.txt":         "TODO not linted\n",
	})

	engine := checks.NewEngine(nil, checks.Config{})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)

	codes := make([]string, 0, len(result.Lint.Errors))
	for _, finding := range result.Lint.Errors {
		codes = append(codes, fmt.Sprintf("%s:%d:%s", finding.File, finding.Line, finding.Code))
	}
	require.ElementsMatch(t, []string{
		"app.py:1:PY001",
		"app.py:1:PY002",
		"app.py:2:PY002",
		"app.py:2:PY003",
		"web/index.ts:1:JS001",
		"web/index.ts:2:JS002",
	}, codes)

	require.Equal(t, 1, result.Metrics.PyFiles)
	require.Equal(t, 1, result.Metrics.JSFiles)
	require.Equal(t, 3, result.Metrics.Todos)
	require.Equal(t, 6, result.Metrics.Lines)
}

func TestEngine_ReviewConfigRequirements(t *testing.T) {
	root := writeTree(t, map[string]string{
		"app/settings.py":   "DEBUG = False\n",
		"tests/test_app.py": "def test_ok():\n    assert True\n",
		"review.yaml": `requirements:
  - id: settings
    title: Settings module
    type: file
    check: app/settings.py
  - id: debug-off
    title: Debug disabled
    type: content
    check: 'debug\s*=\s*false'
  - id: docs
    title: Docs present
    type: file
    check: README.md
    required: false
  - id: tests
    title: Has tests
    type: test
  - id: manual
    title: Manual review
    type: custom
    description: Reviewer checks UX by hand
`,
	})

	engine := checks.NewEngine(nil, checks.Config{})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)

	require.Equal(t, checks.StatusPassed, requirementByID(t, result, "config:settings").Status)

	debug := requirementByID(t, result, "config:debug-off")
	require.Equal(t, checks.StatusPassed, debug.Status)
	require.Equal(t, "found in files: settings.py", debug.Evidence)

	require.Equal(t, checks.StatusSkipped, requirementByID(t, result, "config:docs").Status)
	require.Equal(t, checks.StatusPassed, requirementByID(t, result, "config:tests").Status)

	manual := requirementByID(t, result, "config:manual")
	require.Equal(t, checks.StatusFailed, manual.Status)
	require.Equal(t, "Reviewer checks UX by hand", manual.Evidence)
}

func TestEngine_ContentCheckSearchesEveryFile(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":     "x = 1\n",
		"review.yaml": "# owner: course-team\nrequirements:\n  - id: owner\n    title: Owner noted\n    type: content\n    check: 'owner:\\s*course'\n",
	})

	engine := checks.NewEngine(nil, checks.Config{})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)

	owner := requirementByID(t, result, "config:owner")
	require.Equal(t, checks.StatusPassed, owner.Status)
	require.Equal(t, "found in files: review.yaml", owner.Evidence)
}

func TestEngine_InvalidReviewConfigBecomesFailedRequirement(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":     "x = 1\n",
		"review.json": `{"requirements": [{"id": "a", "title": "A", "type": "unknown"}]}`,
	})

	engine := checks.NewEngine(nil, checks.Config{})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)

	req := requirementByID(t, result, "config:review-file")
	require.Equal(t, checks.StatusFailed, req.Status)
	require.Contains(t, req.Evidence, "review.json")
}

func TestEngine_ReviewConfigLookupOrder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"review.yml":  "requirements:\n  - id: from-yml\n    title: YML\n    type: custom\n",
		"review.json": `{"requirements": [{"id": "from-json", "title": "JSON"}]}`,
	})

	cfg, err := checks.LoadReviewConfig(root)
	require.NoError(t, err)
	require.Equal(t, "review.yml", cfg.Path)
	require.Len(t, cfg.Requirements, 1)
	require.Equal(t, "from-yml", cfg.Requirements[0].ID)
}

func TestEngine_TestRunnerResultsMerged(t *testing.T) {
	root := writeTree(t, map[string]string{"test_app.py": "def test_x():\n    assert False\n"})
	runner := &stubRunner{result: testrunner.Result{
		Summary:  testrunner.Summary{Passed: 2, Failed: 1, FailedIDs: []string{"test_app.py::test_x"}, Recognized: true},
		Attempts: []testrunner.Attempt{{Invocation: "pytest"}},
	}}

	engine := checks.NewEngine(runner, checks.Config{EnableTests: true})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, runner.calls)
	require.Equal(t, 2, result.Tests.Passed)
	require.Equal(t, 1, result.Tests.Failed)
	require.Equal(t, []checks.TestItem{{ID: "test_app.py::test_x", Status: checks.StatusFailed}}, result.Tests.Items)
}

func TestEngine_UnparsedTestOutputAttachesRawItem(t *testing.T) {
	root := writeTree(t, map[string]string{"main.py": "x = 1\n"})
	runner := &stubRunner{result: testrunner.Result{
		Attempts: []testrunner.Attempt{{Invocation: "pytest", Output: "Traceback: boom"}},
	}}

	engine := checks.NewEngine(runner, checks.Config{EnableTests: true})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)
	require.Zero(t, result.Tests.Failed)
	require.Len(t, result.Tests.Items, 1)
	require.Equal(t, "pytest-raw", result.Tests.Items[0].ID)
	require.Contains(t, result.Tests.Items[0].Message, "Traceback: boom")
}

func TestEngine_CollectionErrorsAreNotFailedTests(t *testing.T) {
	root := writeTree(t, map[string]string{"test_app.py": "import missing\n"})
	runner := &stubRunner{result: testrunner.Result{
		Summary:  testrunner.Summary{Passed: 1, Errors: 2, Recognized: true},
		Attempts: []testrunner.Attempt{{Invocation: "pytest"}},
	}}

	engine := checks.NewEngine(runner, checks.Config{EnableTests: true})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, result.Tests.Passed)
	require.Zero(t, result.Tests.Failed)
	require.Len(t, result.Tests.Items, 1)
	require.Equal(t, "pytest-error", result.Tests.Items[0].ID)
	require.Contains(t, result.Tests.Items[0].Message, "2 error(s)")
}

func TestEngine_RunnerNeverStartedAttachesErrorItem(t *testing.T) {
	root := writeTree(t, map[string]string{"main.py": "x = 1\n"})
	runner := &stubRunner{result: testrunner.Result{
		Attempts: []testrunner.Attempt{
			{Invocation: "pytest", ExitCode: -1, Error: "exec: \"pytest\": executable file not found"},
			{Invocation: "python3 -m pytest", ExitCode: -1, Error: "exec: \"python3\": executable file not found"},
		},
	}}

	engine := checks.NewEngine(runner, checks.Config{EnableTests: true})
	result, err := engine.Run(context.Background(), root)
	require.NoError(t, err)
	require.Zero(t, result.Tests.Failed)
	require.Len(t, result.Tests.Items, 1)
	require.Equal(t, "pytest-error", result.Tests.Items[0].ID)
	require.Contains(t, result.Tests.Items[0].Message, "executable file not found")
}

func TestEngine_TestTimeoutEscalates(t *testing.T) {
	root := writeTree(t, map[string]string{"main.py": "x = 1\n"})
	runner := &stubRunner{err: fmt.Errorf("%w after 1s", testrunner.ErrTimeout)}

	engine := checks.NewEngine(runner, checks.Config{EnableTests: true})
	_, err := engine.Run(context.Background(), root)
	require.ErrorIs(t, err, testrunner.ErrTimeout)
}

func TestEngine_SkipsTestsWithoutPython(t *testing.T) {
	root := writeTree(t, map[string]string{"index.js": "console.log(1)\n"})
	runner := &stubRunner{}

	engine := checks.NewEngine(runner, checks.Config{EnableTests: true})
	_, err := engine.Run(context.Background(), root)
	require.NoError(t, err)
	require.Zero(t, runner.calls)
}

func TestDetect(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/app.py":        "x = 1\n",
		"src/test_app.py":   "def test(): pass\n",
		"web/main.tsx":      "export {}\n",
		"node_modules/a.js": "x\n",
	})

	tree, err := checks.Walk(root, nil)
	require.NoError(t, err)

	detection := checks.Detect(tree)
	require.Equal(t, []string{"python", "typescript"}, detection.Languages)
	require.True(t, detection.HasPytest)
}

func TestEngine_MissingWorkDir(t *testing.T) {
	engine := checks.NewEngine(nil, checks.Config{})
	_, err := engine.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
