package archive_test

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/pkg/archive"
)

type zipEntry struct {
	Name    string
	Content []byte
	Mode    os.FileMode
}

func writeZip(t *testing.T, dir string, entries []zipEntry) string {
	t.Helper()

	buf := &bytes.Buffer{}
	writer := zip.NewWriter(buf)
	for _, entry := range entries {
		header := &zip.FileHeader{Name: entry.Name, Method: zip.Deflate}
		if entry.Mode != 0 {
			header.SetMode(entry.Mode)
		}
		w, err := writer.CreateHeader(header)
		require.NoError(t, err)
		if len(entry.Content) > 0 {
			_, err = w.Write(entry.Content)
			require.NoError(t, err)
		}
	}
	require.NoError(t, writer.Close())

	archivePath := filepath.Join(dir, "submission.zip")
	require.NoError(t, os.WriteFile(archivePath, buf.Bytes(), 0o644))
	return archivePath
}

func newExtractor(t *testing.T) (*archive.Extractor, string) {
	t.Helper()
	root := t.TempDir()
	return archive.NewExtractor(archive.Config{WorkRoot: root, Logger: zerolog.Nop()}), root
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func TestExtract_FlattensSingleRootDirectory(t *testing.T) {
	extractor, _ := newExtractor(t)
	archivePath := writeZip(t, t.TempDir(), []zipEntry{
		{Name: "repo/"},
		{Name: "repo/app.py", Content: []byte("print('hi')\n")},
		{Name: "repo/pkg/models.py", Content: []byte("x = 1\n")},
	})

	workDir, err := extractor.Extract(archivePath, "p1", "s1")
	require.NoError(t, err)
	require.Equal(t, []string{"app.py", "pkg"}, listNames(t, workDir))

	content, err := os.ReadFile(filepath.Join(workDir, "pkg", "models.py"))
	require.NoError(t, err)
	require.Equal(t, "x = 1\n", string(content))
}

func TestExtract_FlattenHandlesSameNamedChild(t *testing.T) {
	extractor, _ := newExtractor(t)
	archivePath := writeZip(t, t.TempDir(), []zipEntry{
		{Name: "src/src/main.py", Content: []byte("pass\n")},
		{Name: "src/README.md", Content: []byte("readme\n")},
	})

	workDir, err := extractor.Extract(archivePath, "p1", "s1")
	require.NoError(t, err)
	require.Equal(t, []string{"README.md", "src"}, listNames(t, workDir))
	require.FileExists(t, filepath.Join(workDir, "src", "main.py"))
}

func TestExtract_KeepsLayoutWithTopLevelFiles(t *testing.T) {
	extractor, _ := newExtractor(t)
	archivePath := writeZip(t, t.TempDir(), []zipEntry{
		{Name: "repo/app.py", Content: []byte("pass\n")},
		{Name: "setup.cfg", Content: []byte("[metadata]\n")},
	})

	workDir, err := extractor.Extract(archivePath, "p1", "s1")
	require.NoError(t, err)
	require.Equal(t, []string{"repo", "setup.cfg"}, listNames(t, workDir))
}

func TestExtract_RejectsParentSegments(t *testing.T) {
	extractor, root := newExtractor(t)
	archivePath := writeZip(t, t.TempDir(), []zipEntry{
		{Name: "ok.py", Content: []byte("pass\n")},
		{Name: "../evil.py", Content: []byte("boom\n")},
	})

	_, err := extractor.Extract(archivePath, "p1", "s1")
	require.ErrorIs(t, err, archive.ErrUnsafeEntry)
	require.NoFileExists(t, filepath.Join(root, "p1", "evil.py"))
	require.NoDirExists(t, filepath.Join(root, "p1", "s1"))
}

func TestExtract_RejectsSymlinks(t *testing.T) {
	extractor, _ := newExtractor(t)
	archivePath := writeZip(t, t.TempDir(), []zipEntry{
		{Name: "link", Content: []byte("/etc/passwd"), Mode: os.ModeSymlink | 0o777},
	})

	_, err := extractor.Extract(archivePath, "p1", "s1")
	require.ErrorIs(t, err, archive.ErrUnsafeEntry)
}

func TestExtract_RejectsNonZip(t *testing.T) {
	extractor, _ := newExtractor(t)
	path := filepath.Join(t.TempDir(), "notes.zip")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not an archive"), 0o644))

	_, err := extractor.Extract(path, "p1", "s1")
	require.ErrorIs(t, err, archive.ErrInvalidArchive)
}

func TestIsZip_AcceptsZipBasedFormats(t *testing.T) {
	path := writeZip(t, t.TempDir(), []zipEntry{
		{Name: "META-INF/MANIFEST.MF", Content: []byte("Manifest-Version: 1.0\n")},
		{Name: "app/main.py", Content: []byte("print('x')\n")},
	})

	mime, err := mimetype.DetectFile(path)
	require.NoError(t, err)
	require.True(t, archive.IsZip(mime), "detected %s", mime.String())
	require.False(t, archive.IsZip(mimetype.Detect([]byte("plain text"))))

	extractor, _ := newExtractor(t)
	workDir, err := extractor.Extract(path, "p1", "s1")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(workDir, "app", "main.py"))
}

func TestExtract_EnforcesExtractedCeiling(t *testing.T) {
	root := t.TempDir()
	extractor := archive.NewExtractor(archive.Config{WorkRoot: root, MaxExtractedBytes: 16})
	archivePath := writeZip(t, t.TempDir(), []zipEntry{
		{Name: "big.txt", Content: bytes.Repeat([]byte("a"), 64)},
	})

	_, err := extractor.Extract(archivePath, "p1", "s1")
	require.ErrorIs(t, err, archive.ErrArchiveTooLarge)
}

func TestExtract_EnforcesArchiveCeiling(t *testing.T) {
	root := t.TempDir()
	extractor := archive.NewExtractor(archive.Config{WorkRoot: root, MaxArchiveBytes: 8})
	archivePath := writeZip(t, t.TempDir(), []zipEntry{
		{Name: "a.txt", Content: []byte("hello world")},
	})

	_, err := extractor.Extract(archivePath, "p1", "s1")
	require.ErrorIs(t, err, archive.ErrArchiveTooLarge)
}

func TestExtract_RefusesPopulatedWorkDir(t *testing.T) {
	extractor, _ := newExtractor(t)
	archivePath := writeZip(t, t.TempDir(), []zipEntry{{Name: "a.py", Content: []byte("pass\n")}})

	_, err := extractor.Extract(archivePath, "p1", "s1")
	require.NoError(t, err)

	_, err = extractor.Extract(archivePath, "p1", "s1")
	require.ErrorIs(t, err, archive.ErrWorkDirNotEmpty)
}

func TestWorkDir_RejectsSeparators(t *testing.T) {
	extractor, _ := newExtractor(t)

	_, err := extractor.WorkDir("p1", "../s1")
	require.ErrorIs(t, err, archive.ErrInvalidIdentifier)

	_, err = extractor.WorkDir("..", "s1")
	require.ErrorIs(t, err, archive.ErrInvalidIdentifier)
}

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()

	cases := []string{"..", "../x", "a/../../x", `a\..\..\x`, "a/.."}
	for _, rel := range cases {
		_, err := archive.ResolveWithin(root, rel)
		require.ErrorIs(t, err, archive.ErrPathEscape, rel)
	}

	target, err := archive.ResolveWithin(root, "/src/app.py")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "src", "app.py"), target)

	self, err := archive.ResolveWithin(root, "")
	require.NoError(t, err)
	require.Equal(t, root, self)
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("content"), 0o644))

	data, err := archive.ReadFile(root, "a.txt")
	require.NoError(t, err)
	require.Equal(t, "content", string(data))

	_, err = archive.ReadFile(root, "../a.txt")
	require.ErrorIs(t, err, archive.ErrPathEscape)
}
