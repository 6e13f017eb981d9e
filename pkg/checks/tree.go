package checks

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExcludedDirs are never descended into while walking a working tree.
var DefaultExcludedDirs = []string{"node_modules", ".git", "__pycache__"}

// File is a regular file found while walking a working tree.
type File struct {
	// Path is slash separated and relative to the tree root.
	Path    string
	AbsPath string
}

// Ext returns the lower-cased extension of the file including the dot.
func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Path))
}

// Tree is the result of a single walk over a working directory.
type Tree struct {
	Root     string
	Files    []File
	contents map[string]string
}

// Walk collects every regular file below root, skipping excluded directories.
func Walk(root string, excluded []string) (*Tree, error) {
	if excluded == nil {
		excluded = DefaultExcludedDirs
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[name] = struct{}{}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "walk", Path: root, Err: errors.New("not a directory")}
	}

	tree := &Tree{Root: root, contents: make(map[string]string)}
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if _, excluded := skip[entry.Name()]; excluded && path != root {
				return fs.SkipDir
			}
			return nil
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		tree.Files = append(tree.Files, File{Path: filepath.ToSlash(rel), AbsPath: path})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tree, nil
}

// Content returns the file's text, or an empty string when it cannot be read.
func (t *Tree) Content(file File) string {
	if content, ok := t.contents[file.Path]; ok {
		return content
	}
	data, err := os.ReadFile(file.AbsPath)
	if err != nil {
		data = nil
	}
	content := string(data)
	t.contents[file.Path] = content
	return content
}

// FindSuffix returns the files whose lower-cased relative path equals name or ends in "/"+name.
func (t *Tree) FindSuffix(name string) []File {
	name = strings.ToLower(strings.TrimPrefix(filepath.ToSlash(name), "/"))
	if name == "" {
		return nil
	}

	var matches []File
	for _, file := range t.Files {
		lower := strings.ToLower(file.Path)
		if lower == name || strings.HasSuffix(lower, "/"+name) {
			matches = append(matches, file)
		}
	}
	return matches
}

// TestFiles returns files whose path looks like a test module.
func (t *Tree) TestFiles() []File {
	var matches []File
	for _, file := range t.Files {
		lower := strings.ToLower(file.Path)
		if strings.Contains(lower, "test") || strings.Contains(lower, "spec") {
			matches = append(matches, file)
		}
	}
	return matches
}

// HasExt reports whether any file has one of the given extensions.
func (t *Tree) HasExt(exts ...string) bool {
	for _, file := range t.Files {
		ext := file.Ext()
		for _, candidate := range exts {
			if ext == candidate {
				return true
			}
		}
	}
	return false
}
