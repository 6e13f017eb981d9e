package checks

import (
	"path"
	"sort"
	"strings"
)

var languageByExt = map[string]string{
	".py":  "python",
	".ts":  "typescript",
	".tsx": "typescript",
	".js":  "javascript",
	".jsx": "javascript",
}

// Detect reports the languages used in the tree and whether it carries a pytest suite.
func Detect(tree *Tree) Detection {
	seen := make(map[string]struct{})
	detection := Detection{Languages: []string{}}

	for _, file := range tree.Files {
		if language, ok := languageByExt[file.Ext()]; ok {
			if _, dup := seen[language]; !dup {
				seen[language] = struct{}{}
				detection.Languages = append(detection.Languages, language)
			}
		}

		base := strings.ToLower(path.Base(file.Path))
		if (strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py")) ||
			strings.HasSuffix(base, "_test.py") ||
			strings.HasSuffix(base, "pytest.ini") ||
			base == "conftest.py" {
			detection.HasPytest = true
		}
	}

	sort.Strings(detection.Languages)
	return detection
}
