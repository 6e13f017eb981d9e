package snapshot_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/pkg/snapshot"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func paths(files []snapshot.File) []string {
	out := make([]string, 0, len(files))
	for _, file := range files {
		out = append(out, file.Path)
	}
	return out
}

func TestBuild_RespectsBudget(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.py":        strings.Repeat("a", 10),
		"b.py":        strings.Repeat("b", 20),
		"c.py":        strings.Repeat("c", 30),
		"d.py":        strings.Repeat("d", 40),
		"pkg/e.py":    strings.Repeat("e", 5),
		"pkg/big.py":  strings.Repeat("x", 200),
		"settings.md": "x",
	})

	builder := snapshot.NewBuilder(snapshot.Budget{
		MaxFiles:      3,
		MaxFileBytes:  100,
		MaxTotalBytes: 40,
		AllowedExts:   []string{".py"},
	}, zerolog.Nop())

	snap, err := builder.Build(root)
	require.NoError(t, err)

	require.Equal(t, []string{"pkg/e.py", "a.py", "b.py"}, paths(snap.Files))
	require.LessOrEqual(t, len(snap.Files), 3)
	require.Equal(t, int64(35), snap.Metrics.TotalBytes)
	require.LessOrEqual(t, snap.Metrics.TotalBytes, snap.Metrics.MaxTotalBytes)
	require.Equal(t, 3, snap.Metrics.FileCount)
	// big.py over the per-file ceiling, c.py and d.py over the total budget
	require.Equal(t, 3, snap.Metrics.SkippedFiles)
}

func TestBuild_TotalBudgetStopsBeforeFileLimit(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.py": strings.Repeat("a", 30),
		"b.py": strings.Repeat("b", 30),
		"c.py": strings.Repeat("c", 30),
	})

	builder := snapshot.NewBuilder(snapshot.Budget{MaxFiles: 10, MaxFileBytes: 100, MaxTotalBytes: 70}, zerolog.Nop())
	snap, err := builder.Build(root)
	require.NoError(t, err)
	require.Equal(t, []string{"a.py", "b.py"}, paths(snap.Files))
	require.Equal(t, int64(60), snap.Metrics.TotalBytes)
}

func TestBuild_SkipsBinaryAndEmptyFiles(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"main.py":   "print('hi')\n",
		"blob.py":   "abc\x00def",
		"noise.py":  "\x01\x02\x03\x04ab",
		"blank.py":  "   \n\n\t\n",
		"readme.md": "hello",
	})

	builder := snapshot.NewBuilder(snapshot.Budget{AllowedExts: []string{"py"}}, zerolog.Nop())
	snap, err := builder.Build(root)
	require.NoError(t, err)
	require.Equal(t, []string{"main.py"}, paths(snap.Files))
	require.Equal(t, 3, snap.Metrics.SkippedFiles)
}

func TestBuild_NormalizesContent(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"app.py": "\uFEFFimport os  \r\n\r\n\r\n\r\nx = 1\t\r\ny = 2\r\n\n",
	})

	builder := snapshot.NewBuilder(snapshot.DefaultBudget(), zerolog.Nop())
	snap, err := builder.Build(root)
	require.NoError(t, err)
	require.Len(t, snap.Files, 1)
	require.Equal(t, "import os\n\nx = 1\ny = 2", snap.Files[0].Content)
	require.Equal(t, int64(len("import os\n\nx = 1\ny = 2")), snap.Metrics.TotalBytes)
}

func TestBuild_RendersTree(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"b.py":              "b = 1",
		"a/z.py":            "z = 1",
		"a/notes.bin":       "skip",
		"node_modules/x.py": "x = 1",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	builder := snapshot.NewBuilder(snapshot.Budget{AllowedExts: []string{".py"}}, zerolog.Nop())
	snap, err := builder.Build(root)
	require.NoError(t, err)

	require.Equal(t, "project-root\n  a\n    z.py\n  empty\n  b.py", snap.Tree)
	require.ElementsMatch(t, []string{"a/z.py", "b.py"}, paths(snap.Files))
}

func TestBuild_MissingDir(t *testing.T) {
	builder := snapshot.NewBuilder(snapshot.DefaultBudget(), zerolog.Nop())
	_, err := builder.Build(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLooksBinary(t *testing.T) {
	require.False(t, snapshot.LooksBinary([]byte("plain text\n\twith tabs\r\n")))
	require.True(t, snapshot.LooksBinary([]byte{'a', 0, 'b'}))
	require.True(t, snapshot.LooksBinary([]byte{1, 2, 'a'}))
	require.False(t, snapshot.LooksBinary(nil))
}

func TestSnapshot_Text(t *testing.T) {
	snap := snapshot.Snapshot{
		Tree:  "project-root\n  a.py",
		Files: []snapshot.File{{Path: "a.py", Content: "print(1)"}},
	}
	require.Equal(t, "PROJECT TREE:\nproject-root\n  a.py\n\nFILES:\n\n### a.py\n```\nprint(1)\n```\n", snap.Text())
}
