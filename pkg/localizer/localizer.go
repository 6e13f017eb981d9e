package localizer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-review-api/pkg/snapshot"
)

// Range is a 1-based line/column span. Columns count bytes and End is exclusive.
type Range struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// Issue is a report fragment located in a project file.
type Issue struct {
	FilePath    string  `json:"filePath"`
	Snippet     string  `json:"snippet"`
	Ranges      []Range `json:"ranges"`
	Message     string  `json:"message,omitempty"`
	ErrorNumber int     `json:"errorNumber,omitempty"`
}

type block struct {
	number   int
	file     string
	fragment string
	comment  string
}

// Labels only count at the start of a line so code inside a fragment, such as
// `comment: str`, never ends it.
var (
	headerRe   = regexp.MustCompile(`(?im)^[ \t#*_-]*(?:Ошибка\s*№|Error\s*#)\s*(\d+)`)
	fileRe     = regexp.MustCompile(`(?im)^[ \t*_-]*(?:Файл|File)[*_]*[ \t]*:[ \t]*(.+)$`)
	fragmentRe = regexp.MustCompile(`(?im)^[ \t*_-]*(?:Фрагмент|Fragment)[*_]*[ \t]*:`)
	commentRe  = regexp.MustCompile(`(?im)^[ \t*_-]*(?:Комментарий|Comment)[*_]*[ \t]*:`)
	markerRe   = regexp.MustCompile(`(?s)<<(.*?)>>`)
)

// ExtractIssues parses numbered error blocks from report and maps every marked
// fragment onto exact ranges in files. Fragments with no exact occurrence are
// dropped.
func ExtractIssues(report string, files []snapshot.File) []Issue {
	report = strings.ReplaceAll(report, "<<<", "<<")
	report = strings.ReplaceAll(report, ">>>", ">>")

	issues := []Issue{}
	for _, b := range splitBlocks(report) {
		markers := extractMarkers(b.fragment)
		if len(markers) == 0 {
			continue
		}
		file, ok := resolveFile(files, b.file)
		if !ok {
			continue
		}
		content := normalizeNewlines(file.Content)
		for _, snippet := range markers {
			ranges := findRanges(content, snippet)
			if len(ranges) == 0 {
				continue
			}
			issues = append(issues, Issue{
				FilePath:    file.Path,
				Snippet:     snippet,
				Ranges:      ranges,
				Message:     b.comment,
				ErrorNumber: b.number,
			})
		}
	}
	return issues
}

func splitBlocks(report string) []block {
	headers := headerRe.FindAllStringSubmatchIndex(report, -1)
	blocks := make([]block, 0, len(headers))
	for i, loc := range headers {
		end := len(report)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		text := report[loc[1]:end]

		b := block{}
		b.number, _ = strconv.Atoi(report[loc[2]:loc[3]])
		if m := fileRe.FindStringSubmatch(text); m != nil {
			b.file = cleanPath(m[1])
		}
		b.fragment, b.comment = splitFields(text)
		blocks = append(blocks, b)
	}
	return blocks
}

// splitFields returns the fragment and comment of a block. The fragment ends at
// the first comment label that is not inside an open <<...>> span.
func splitFields(text string) (fragment, comment string) {
	if loc := fragmentRe.FindStringIndex(text); loc != nil {
		rest := text[loc[1]:]
		end := len(rest)
		for _, c := range commentRe.FindAllStringIndex(rest, -1) {
			if insideMarker(rest[:c[0]]) {
				continue
			}
			end = c[0]
			comment = rest[c[1]:]
			break
		}
		return strings.TrimSpace(rest[:end]), strings.TrimSpace(comment)
	}

	if loc := commentRe.FindStringIndex(text); loc != nil {
		comment = text[loc[1]:]
	}
	return "", strings.TrimSpace(comment)
}

func insideMarker(prefix string) bool {
	return strings.Count(prefix, "<<") > strings.Count(prefix, ">>")
}

func extractMarkers(fragment string) []string {
	var markers []string
	for _, m := range markerRe.FindAllStringSubmatch(fragment, -1) {
		snippet := strings.TrimSpace(m[1])
		if snippet != "" {
			markers = append(markers, snippet)
		}
	}
	return markers
}

func cleanPath(raw string) string {
	p := strings.Trim(strings.TrimSpace(raw), "`\"'*")
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "./")
}

// resolveFile tries an exact path, then a unique basename, then the longest
// common suffix.
func resolveFile(files []snapshot.File, requested string) (snapshot.File, bool) {
	if requested == "" || len(files) == 0 {
		return snapshot.File{}, false
	}

	for _, f := range files {
		if cleanPath(f.Path) == requested {
			return f, true
		}
	}

	base := requested
	if idx := strings.LastIndex(requested, "/"); idx >= 0 {
		base = requested[idx+1:]
	}
	var candidates []snapshot.File
	for _, f := range files {
		p := cleanPath(f.Path)
		if p == base || strings.HasSuffix(p, "/"+base) {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}

	best, bestScore := 0, -1
	for i, f := range files {
		if score := commonSuffix(cleanPath(f.Path), requested); score > bestScore {
			best, bestScore = i, score
		}
	}
	return files[best], true
}

func commonSuffix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func findRanges(content, snippet string) []Range {
	needle := normalizeNewlines(snippet)
	if needle == "" {
		return nil
	}

	var ranges []Range
	var lines []int
	for from := 0; from <= len(content); {
		idx := strings.Index(content[from:], needle)
		if idx < 0 {
			break
		}
		if lines == nil {
			lines = lineStarts(content)
		}
		start := from + idx
		end := start + len(needle)
		startLine, startCol := position(lines, start)
		endLine, endCol := position(lines, end)
		ranges = append(ranges, Range{StartLine: startLine, StartCol: startCol, EndLine: endLine, EndCol: endCol})
		from = end
	}
	return ranges
}

func lineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func position(starts []int, offset int) (line, col int) {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
	return i + 1, offset - starts[i] + 1
}
