package snapshot

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// RootName labels the top of the rendered tree.
const RootName = "project-root"

var snapshotBytes = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "gema",
	Subsystem: "snapshot",
	Name:      "content_bytes",
	Help:      "Total normalized content bytes included in snapshots.",
	Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
})

// Budget bounds what a snapshot may contain.
type Budget struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
	AllowedExts   []string
	ExcludedDirs  []string
}

// DefaultBudget returns the budget used when none is configured.
func DefaultBudget() Budget {
	return Budget{
		MaxFiles:      200,
		MaxFileBytes:  64 * 1024,
		MaxTotalBytes: 512 * 1024,
		AllowedExts: []string{
			".py", ".js", ".jsx", ".ts", ".tsx", ".json", ".md", ".txt",
			".yml", ".yaml", ".toml", ".cfg", ".ini", ".html", ".css",
		},
		ExcludedDirs: []string{"node_modules", ".git", "__pycache__", ".venv", "venv", "dist", "build"},
	}
}

// File is one accepted file with normalized content.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Metrics describes how the budget was applied.
type Metrics struct {
	FileCount     int   `json:"fileCount"`
	TotalBytes    int64 `json:"totalBytes"`
	MaxFiles      int   `json:"maxFiles"`
	MaxFileBytes  int64 `json:"maxFileBytes"`
	MaxTotalBytes int64 `json:"maxTotalBytes"`
	SkippedFiles  int   `json:"skippedFiles"`
}

// Snapshot is the textual representation of a working tree.
type Snapshot struct {
	Tree    string  `json:"tree"`
	Files   []File  `json:"files"`
	Metrics Metrics `json:"metrics"`
}

// Builder renders working trees into budgeted snapshots.
type Builder struct {
	budget   Budget
	allowed  map[string]struct{}
	excluded map[string]struct{}
	logger   zerolog.Logger
}

// NewBuilder constructs a builder. Non-positive limits fall back to DefaultBudget.
func NewBuilder(budget Budget, logger zerolog.Logger) *Builder {
	defaults := DefaultBudget()
	if budget.MaxFiles <= 0 {
		budget.MaxFiles = defaults.MaxFiles
	}
	if budget.MaxFileBytes <= 0 {
		budget.MaxFileBytes = defaults.MaxFileBytes
	}
	if budget.MaxTotalBytes <= 0 {
		budget.MaxTotalBytes = defaults.MaxTotalBytes
	}
	if budget.ExcludedDirs == nil {
		budget.ExcludedDirs = defaults.ExcludedDirs
	}

	allowed := make(map[string]struct{}, len(budget.AllowedExts))
	for _, ext := range budget.AllowedExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	excluded := make(map[string]struct{}, len(budget.ExcludedDirs))
	for _, dir := range budget.ExcludedDirs {
		excluded[dir] = struct{}{}
	}

	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Builder{
		budget:   budget,
		allowed:  allowed,
		excluded: excluded,
		logger:   logger.With().Str("component", "snapshot").Logger(),
	}
}

// Budget returns the effective budget.
func (b *Builder) Budget() Budget {
	return b.budget
}

type candidate struct {
	path    string
	content string
	bytes   int64
}

type node struct {
	name     string
	dir      bool
	children []*node
}

// Build walks workDir and returns its snapshot.
func (b *Builder) Build(workDir string) (Snapshot, error) {
	info, err := os.Stat(workDir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stat work dir: %w", err)
	}
	if !info.IsDir() {
		return Snapshot{}, fmt.Errorf("work dir %s is not a directory", workDir)
	}

	root := &node{name: RootName, dir: true}
	var candidates []candidate
	skipped := 0
	if err := b.walk(workDir, "", root, &candidates, &skipped); err != nil {
		return Snapshot{}, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].bytes != candidates[j].bytes {
			return candidates[i].bytes < candidates[j].bytes
		}
		return candidates[i].path < candidates[j].path
	})

	files := make([]File, 0, len(candidates))
	var total int64
	for _, c := range candidates {
		if len(files) >= b.budget.MaxFiles || total+c.bytes > b.budget.MaxTotalBytes {
			skipped++
			continue
		}
		files = append(files, File{Path: c.path, Content: c.content})
		total += c.bytes
	}

	var tree strings.Builder
	render(&tree, root, "")

	snapshotBytes.Observe(float64(total))
	b.logger.Debug().
		Int("files", len(files)).
		Int64("total_bytes", total).
		Int("skipped", skipped).
		Msg("snapshot built")

	return Snapshot{
		Tree:  tree.String(),
		Files: files,
		Metrics: Metrics{
			FileCount:     len(files),
			TotalBytes:    total,
			MaxFiles:      b.budget.MaxFiles,
			MaxFileBytes:  b.budget.MaxFileBytes,
			MaxTotalBytes: b.budget.MaxTotalBytes,
			SkippedFiles:  skipped,
		},
	}, nil
}

func (b *Builder) walk(root, rel string, parent *node, candidates *[]candidate, skipped *int) error {
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("read dir %q: %w", rel, err)
	}

	var dirs, files []*node
	for _, entry := range entries {
		name := entry.Name()
		childRel := path.Join(rel, name)

		if entry.IsDir() {
			if _, skip := b.excluded[name]; skip {
				continue
			}
			child := &node{name: name, dir: true}
			if err := b.walk(root, childRel, child, candidates, skipped); err != nil {
				return err
			}
			dirs = append(dirs, child)
			continue
		}
		if !entry.Type().IsRegular() || !b.allowedExt(name) {
			continue
		}
		files = append(files, &node{name: name})

		if c, ok := b.load(root, childRel); ok {
			*candidates = append(*candidates, c)
		} else {
			*skipped++
		}
	}

	parent.children = append(dirs, files...)
	return nil
}

func (b *Builder) allowedExt(name string) bool {
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (b *Builder) load(root, rel string) (candidate, bool) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil || info.Size() > b.budget.MaxFileBytes {
		return candidate{}, false
	}
	data, err := os.ReadFile(abs)
	if err != nil || int64(len(data)) > b.budget.MaxFileBytes || LooksBinary(data) {
		return candidate{}, false
	}
	text := Normalize(string(data))
	if text == "" {
		return candidate{}, false
	}
	return candidate{path: rel, content: text, bytes: int64(len(text))}, true
}

func render(out *strings.Builder, n *node, prefix string) {
	if out.Len() > 0 {
		out.WriteByte('\n')
	}
	out.WriteString(prefix)
	out.WriteString(n.name)
	for _, child := range n.children {
		render(out, child, prefix+"  ")
	}
}

// LooksBinary reports content with a NUL byte or more than 30% control bytes.
func LooksBinary(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	if len(data) == 0 {
		return false
	}
	control := 0
	for _, c := range data {
		if c < 9 || (c > 13 && c < 32) {
			control++
		}
	}
	return float64(control)/float64(len(data)) > 0.3
}

var (
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// Normalize strips a BOM, unifies line endings, trims trailing whitespace and
// collapses runs of blank lines.
func Normalize(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingSpaceRe.ReplaceAllString(s, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Text renders the snapshot as a single prompt block: the tree followed by
// every file under a "### <path>" heading.
func (s Snapshot) Text() string {
	var out strings.Builder
	out.WriteString("PROJECT TREE:\n")
	out.WriteString(s.Tree)
	out.WriteString("\n\nFILES:\n")
	for _, file := range s.Files {
		fmt.Fprintf(&out, "\n### %s\n```\n%s\n```\n", file.Path, file.Content)
	}
	return out.String()
}
