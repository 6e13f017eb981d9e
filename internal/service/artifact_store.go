package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/pkg/archive"
)

var (
	// ErrArtifactNotFound indicates the run has not written the artifact.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrArtifactNotReadable indicates the artifact name is not exposed.
	ErrArtifactNotReadable = errors.New("artifact is not readable")
)

// ArtifactStore writes per-run JSON artifacts under <root>/<runId>/.
type ArtifactStore struct {
	root     string
	readable map[string]struct{}
}

// NewArtifactStore creates a store rooted at root.
func NewArtifactStore(root string) *ArtifactStore {
	readable := make(map[string]struct{}, len(models.ReadableArtifacts))
	for _, name := range models.ReadableArtifacts {
		readable[name] = struct{}{}
	}
	return &ArtifactStore{root: root, readable: readable}
}

// Dir returns the artifact directory of a run.
func (s *ArtifactStore) Dir(runID string) (string, error) {
	return archive.ResolveWithin(s.root, runID)
}

// WriteJSON replaces name with the indented JSON encoding of v.
// The file is written to a temporary sibling first and renamed into place.
func (s *ArtifactStore) WriteJSON(runID, name string, v any) error {
	dir, err := s.Dir(runID)
	if err != nil {
		return err
	}
	target, err := archive.ResolveWithin(dir, name)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the run already wrote name.
func (s *ArtifactStore) Exists(runID, name string) bool {
	dir, err := s.Dir(runID)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, name))
	return err == nil
}

// Read returns a whitelisted artifact of a run.
func (s *ArtifactStore) Read(runID, name string) ([]byte, error) {
	if _, ok := s.readable[name]; !ok {
		return nil, ErrArtifactNotReadable
	}
	dir, err := s.Dir(runID)
	if err != nil {
		return nil, ErrArtifactNotFound
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
