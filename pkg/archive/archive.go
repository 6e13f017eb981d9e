package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidArchive signals that the archive could not be read as a ZIP file.
	ErrInvalidArchive = errors.New("archive is invalid or corrupted")
	// ErrArchiveTooLarge is returned when the archive or its extracted content exceeds the configured ceiling.
	ErrArchiveTooLarge = errors.New("archive exceeds the configured size limit")
	// ErrUnsafeEntry indicates an entry with an absolute path, a parent segment or a symlink.
	ErrUnsafeEntry = errors.New("archive contains an unsafe entry")
	// ErrWorkDirNotEmpty is returned when extraction targets a populated directory.
	ErrWorkDirNotEmpty = errors.New("working directory is not empty")
	// ErrPathEscape signals a path that resolves outside of its root.
	ErrPathEscape = errors.New("path escapes the working directory")
	// ErrInvalidIdentifier is returned for project or submission ids that are not a single path segment.
	ErrInvalidIdentifier = errors.New("identifier is not a valid path segment")
)

var extractedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "gema",
	Subsystem: "archive",
	Name:      "extracted_bytes",
	Help:      "Uncompressed size of extracted submissions",
	Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
})

const (
	defaultMaxArchiveBytes   int64 = 100 * 1024 * 1024
	defaultMaxExtractedBytes int64 = 500 * 1024 * 1024
)

// Config groups extractor configuration values.
type Config struct {
	WorkRoot          string
	MaxArchiveBytes   int64
	MaxExtractedBytes int64
	Logger            zerolog.Logger
}

// Extractor unpacks submission archives into per-submission working directories.
type Extractor struct {
	cfg    Config
	logger zerolog.Logger
}

// NewExtractor constructs an extractor rooted at cfg.WorkRoot.
func NewExtractor(cfg Config) *Extractor {
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = defaultMaxArchiveBytes
	}
	if cfg.MaxExtractedBytes <= 0 {
		cfg.MaxExtractedBytes = defaultMaxExtractedBytes
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Extractor{
		cfg:    cfg,
		logger: logger.With().Str("component", "archive_extractor").Logger(),
	}
}

// WorkDir returns the working directory assigned to a submission.
func (e *Extractor) WorkDir(projectID, submissionID string) (string, error) {
	for _, id := range []string{projectID, submissionID} {
		if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
		}
	}

	root, err := filepath.Abs(e.cfg.WorkRoot)
	if err != nil {
		return "", fmt.Errorf("resolve work root: %w", err)
	}

	return filepath.Join(root, projectID, submissionID), nil
}

// Extract unpacks archivePath into the submission working directory and returns its path.
func (e *Extractor) Extract(archivePath, projectID, submissionID string) (string, error) {
	workDir, err := e.WorkDir(projectID, submissionID)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}
	if info.Size() > e.cfg.MaxArchiveBytes {
		return "", ErrArchiveTooLarge
	}

	if err := ensureZip(archivePath); err != nil {
		return "", err
	}

	populated, err := IsPopulated(workDir)
	if err != nil {
		return "", err
	}
	if populated {
		return "", ErrWorkDirNotEmpty
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	total, err := e.unpack(archivePath, workDir)
	if err != nil {
		if removeErr := os.RemoveAll(workDir); removeErr != nil {
			e.logger.Warn().Err(removeErr).Str("work_dir", workDir).Msg("failed to clean up partial extraction")
		}
		return "", err
	}

	if err := flattenSingleRoot(workDir); err != nil {
		return "", fmt.Errorf("flatten archive root: %w", err)
	}

	extractedBytes.Observe(float64(total))
	e.logger.Info().
		Str("project_id", projectID).
		Str("submission_id", submissionID).
		Int64("bytes", total).
		Msg("archive extracted")

	return workDir, nil
}

func (e *Extractor) unpack(archivePath, workDir string) (int64, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer reader.Close()

	var total int64
	for _, file := range reader.File {
		if err := validateEntry(file); err != nil {
			return total, err
		}

		target, err := ResolveWithin(workDir, entryName(file))
		if err != nil {
			return total, fmt.Errorf("%w: %s", ErrUnsafeEntry, file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return total, fmt.Errorf("create directory: %w", err)
			}
			continue
		}

		written, err := writeEntry(file, target, e.cfg.MaxExtractedBytes-total)
		total += written
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func writeEntry(file *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.LimitReader(src, budget+1))
	if err != nil {
		return written, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if written > budget {
		return written, ErrArchiveTooLarge
	}

	return written, nil
}

func ensureZip(archivePath string) error {
	mime, err := mimetype.DetectFile(archivePath)
	if err != nil {
		return fmt.Errorf("detect archive type: %w", err)
	}

	if IsZip(mime) {
		return nil
	}
	return fmt.Errorf("%w: detected %s", ErrInvalidArchive, mime.String())
}

// IsZip reports whether mime is ZIP or a ZIP based format such as JAR or DOCX.
// Projects whose first entries resemble those formats are still plain ZIPs.
func IsZip(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("application/zip") || m.Is("application/x-zip-compressed") {
			return true
		}
	}
	return false
}

func entryName(file *zip.File) string {
	return strings.ReplaceAll(file.Name, `\`, "/")
}

func validateEntry(file *zip.File) error {
	name := entryName(file)
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("%w: %s", ErrUnsafeEntry, file.Name)
	}

	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: %s", ErrUnsafeEntry, file.Name)
		}
	}

	if file.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: %s", ErrUnsafeEntry, file.Name)
	}

	return nil
}

// flattenSingleRoot moves the children of a lone top-level directory up one level.
func flattenSingleRoot(workDir string) error {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	// Rename first so a grandchild sharing the wrapper's name cannot collide.
	wrapper := filepath.Join(workDir, entries[0].Name())
	staging := filepath.Join(workDir, ".flatten-"+entries[0].Name())
	if err := os.Rename(wrapper, staging); err != nil {
		return err
	}

	children, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := os.Rename(filepath.Join(staging, child.Name()), filepath.Join(workDir, child.Name())); err != nil {
			return err
		}
	}

	return os.RemoveAll(staging)
}

// IsPopulated reports whether dir exists and has at least one entry.
func IsPopulated(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read work dir: %w", err)
	}
	return len(entries) > 0, nil
}

// ResolveWithin joins rel onto root and guarantees the result stays inside root.
func ResolveWithin(root, rel string) (string, error) {
	normalized := strings.ReplaceAll(rel, `\`, "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return "", ErrPathEscape
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	cleaned := path.Clean("/" + normalized)
	target := filepath.Join(absRoot, filepath.FromSlash(cleaned))

	relative, err := filepath.Rel(absRoot, target)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	return target, nil
}

// ReadFile returns the content of rel inside root.
func ReadFile(root, rel string) ([]byte, error) {
	target, err := ResolveWithin(root, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(target)
}
