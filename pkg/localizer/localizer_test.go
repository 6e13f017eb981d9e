package localizer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/pkg/localizer"
	"github.com/noah-isme/gema-review-api/pkg/snapshot"
)

func appFile() snapshot.File {
	lines := make([]string, 0, 12)
	for i := 1; i <= 9; i++ {
		lines = append(lines, "# line")
	}
	lines = append(lines, "x = 1", "print(x)")
	return snapshot.File{Path: "app.py", Content: strings.Join(lines, "\n")}
}

func TestExtractIssues_LocatesFragment(t *testing.T) {
	report := "Ошибка №1\nФайл: app.py\nФрагмент: <<x = 1>>\nКомментарий: avoid magic value\n"

	issues := localizer.ExtractIssues(report, []snapshot.File{appFile()})
	require.Len(t, issues, 1)

	issue := issues[0]
	require.Equal(t, "app.py", issue.FilePath)
	require.Equal(t, "x = 1", issue.Snippet)
	require.Equal(t, "avoid magic value", issue.Message)
	require.Equal(t, 1, issue.ErrorNumber)
	require.Equal(t, []localizer.Range{{StartLine: 10, StartCol: 1, EndLine: 10, EndCol: 6}}, issue.Ranges)
}

func TestExtractIssues_Idempotent(t *testing.T) {
	report := "Ошибка №1\nФайл: app.py\nФрагмент:\n<<<x = 1>>>\n<<print(x)>>\nКомментарий: two spans\n\nОшибка №2\nФайл: app.py\nФрагмент: <<missing>>\nКомментарий: dropped\n"
	files := []snapshot.File{appFile()}

	first := localizer.ExtractIssues(report, files)
	second := localizer.ExtractIssues(report, files)
	require.Equal(t, first, second)
	require.Len(t, first, 2)
	require.Equal(t, "x = 1", first[0].Snippet)
	require.Equal(t, "print(x)", first[1].Snippet)
	require.Equal(t, "two spans", first[1].Message)
}

func TestExtractIssues_EveryOccurrence(t *testing.T) {
	files := []snapshot.File{{Path: "pkg/util.py", Content: "a = 1\r\nb = a\r\nc = a"}}
	report := "Error #3\nFile: util.py\nFragment: <<a>>\nComment: rename"

	issues := localizer.ExtractIssues(report, files)
	require.Len(t, issues, 1)
	require.Equal(t, "pkg/util.py", issues[0].FilePath)
	require.Equal(t, 3, issues[0].ErrorNumber)
	require.Equal(t, []localizer.Range{
		{StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 2},
		{StartLine: 2, StartCol: 5, EndLine: 2, EndCol: 6},
		{StartLine: 3, StartCol: 5, EndLine: 3, EndCol: 6},
	}, issues[0].Ranges)
}

func TestExtractIssues_FileResolution(t *testing.T) {
	files := []snapshot.File{
		{Path: "shop/views.py", Content: "def index():\n    pass"},
		{Path: "blog/views.py", Content: "def index():\n    return 1"},
		{Path: "blog/models.py", Content: "class Post: pass"},
	}

	cases := []struct {
		name      string
		requested string
		snippet   string
		want      string
	}{
		{name: "exact", requested: "blog/views.py", snippet: "def index", want: "blog/views.py"},
		{name: "unique basename", requested: "src/models.py", snippet: "class Post", want: "blog/models.py"},
		{name: "longest suffix", requested: "app/shop/views.py", snippet: "pass", want: "shop/views.py"},
		{name: "backslashes", requested: `blog\views.py`, snippet: "return 1", want: "blog/views.py"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := "Ошибка №1\nФайл: " + tc.requested + "\nФрагмент: <<" + tc.snippet + ">>\nКомментарий: note"
			issues := localizer.ExtractIssues(report, files)
			require.Len(t, issues, 1)
			require.Equal(t, tc.want, issues[0].FilePath)
		})
	}
}

func TestExtractIssues_MultiLineSnippet(t *testing.T) {
	files := []snapshot.File{{Path: "main.py", Content: "def f():\n    return 1\n"}}
	report := "Ошибка №4\nФайл: main.py\nФрагмент:\n<<def f():\n    return 1>>\nКомментарий: inline it"

	issues := localizer.ExtractIssues(report, files)
	require.Len(t, issues, 1)
	require.Equal(t, []localizer.Range{{StartLine: 1, StartCol: 1, EndLine: 2, EndCol: 13}}, issues[0].Ranges)
}

func TestExtractIssues_NoBlocks(t *testing.T) {
	require.Empty(t, localizer.ExtractIssues("All good, nothing to report.", []snapshot.File{appFile()}))
	require.Empty(t, localizer.ExtractIssues("Ошибка №1\nФайл: app.py\nКомментарий: no fragment", []snapshot.File{appFile()}))
	require.Empty(t, localizer.ExtractIssues("Ошибка №1\nФайл: app.py\nФрагмент: <<x = 1>>", nil))
}

func TestExtractIssues_LabelWordsInsideFragment(t *testing.T) {
	files := []snapshot.File{{Path: "app/models.py", Content: "class Post:\n    comment: str = \"\"\n    title: str\n"}}

	cases := []struct {
		name   string
		report string
		want   localizer.Range
	}{
		{
			name:   "inline span",
			report: "Ошибка №1\nФайл: app/models.py\nФрагмент:\n<<comment: str = \"\">>\nКомментарий: use Optional",
			want:   localizer.Range{StartLine: 2, StartCol: 5, EndLine: 2, EndCol: 22},
		},
		{
			name:   "span line starts with the label",
			report: "Error #1\nFile: app/models.py\nFragment:\n<<class Post:\n    comment: str = \"\">>\nComment: use Optional",
			want:   localizer.Range{StartLine: 1, StartCol: 1, EndLine: 2, EndCol: 22},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issues := localizer.ExtractIssues(tc.report, files)
			require.Len(t, issues, 1)
			require.Equal(t, "use Optional", issues[0].Message)
			require.Equal(t, []localizer.Range{tc.want}, issues[0].Ranges)
		})
	}
}

func TestExtractIssues_HeaderMentionedInComment(t *testing.T) {
	report := "Error #1\nFile: app.py\nFragment: <<x = 1>>\nComment: same problem as Error #2 below\n\n" +
		"Error #2\nFile: app.py\nFragment: <<print(x)>>\nComment: remove debug output\n"

	issues := localizer.ExtractIssues(report, []snapshot.File{appFile()})
	require.Len(t, issues, 2)
	require.Equal(t, 1, issues[0].ErrorNumber)
	require.Equal(t, "same problem as Error #2 below", issues[0].Message)
	require.Equal(t, 2, issues[1].ErrorNumber)
	require.Equal(t, "remove debug output", issues[1].Message)
}

func TestExtractIssues_DecoratedFileLabel(t *testing.T) {
	files := []snapshot.File{
		{Path: "app.py", Content: "x = 1"},
		{Path: "lib/app.py", Content: "x = 1"},
	}
	report := "Ошибка №1\n**Файл:** app.py\nФрагмент: <<x = 1>>\nКомментарий: note"

	issues := localizer.ExtractIssues(report, files)
	require.Len(t, issues, 1)
	require.Equal(t, "app.py", issues[0].FilePath)
}
