package ai

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultReportPrompt is used when no report prompt file is configured.
const DefaultReportPrompt = `You review a student's code submission.
For every problem you find write a block in exactly this form:

Ошибка №<number>
Файл: <relative file path>
Фрагмент:
<<exact code copied from the file>>
Комментарий: <what is wrong and how to fix it>

Copy fragments verbatim so they can be located in the source. If there are no problems, say so.`

// DefaultClassifierPrompt is used when no classifier prompt file is configured.
const DefaultClassifierPrompt = `You receive a review report for a student submission.
Answer with a single word: send_back if the report lists problems that must be fixed, otherwise to_reviewer.`

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)>`)
	breakRe       = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockTagRe    = regexp.MustCompile(`(?i)</?(p|div|section|article|header|footer|main|aside|nav|table|thead|tbody|tfoot|tr|td|th|h[1-6]|ul|ol)\b[^>]*>`)
	listItemRe    = regexp.MustCompile(`(?i)<li\b[^>]*>`)
	listItemEndRe = regexp.MustCompile(`(?i)</li>`)
	preRe         = regexp.MustCompile(`(?i)</?pre\b[^>]*>`)
	codeRe        = regexp.MustCompile(`(?i)</?code\b[^>]*>`)
	spaceEOLRe    = regexp.MustCompile(`[ \t]+\n`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// PromptLoader reads HTML prompt files as plain text and caches the result.
type PromptLoader struct {
	reportPath     string
	classifierPath string
	policy         *bluemonday.Policy
	cache          *lru.Cache[string, string]
}

// NewPromptLoader builds a loader. Empty paths fall back to the built-in prompts.
func NewPromptLoader(reportPath, classifierPath string) (*PromptLoader, error) {
	cache, err := lru.New[string, string](32)
	if err != nil {
		return nil, fmt.Errorf("create prompt cache: %w", err)
	}
	return &PromptLoader{
		reportPath:     reportPath,
		classifierPath: classifierPath,
		policy:         bluemonday.StrictPolicy(),
		cache:          cache,
	}, nil
}

// ReportPrompt returns the system prompt for report generation.
func (l *PromptLoader) ReportPrompt() (string, error) {
	if l.reportPath == "" {
		return DefaultReportPrompt, nil
	}
	return l.Load(l.reportPath)
}

// ClassifierPrompt returns the system prompt for verdict classification.
func (l *PromptLoader) ClassifierPrompt() (string, error) {
	if l.classifierPath == "" {
		return DefaultClassifierPrompt, nil
	}
	return l.Load(l.classifierPath)
}

// Load reads path once and returns its text rendering.
func (l *PromptLoader) Load(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve prompt path: %w", err)
	}
	if text, ok := l.cache.Get(abs); ok {
		return text, nil
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", filepath.Base(abs), err)
	}

	text := string(raw)
	if ext := strings.ToLower(filepath.Ext(abs)); ext == ".html" || ext == ".htm" {
		text = l.HTMLToText(text)
	} else {
		text = normalizePromptText(text)
	}

	l.cache.Add(abs, text)
	return text, nil
}

// HTMLToText flattens prompt markup: block tags become newlines, list items
// become dashes, code becomes backticks and entities are decoded.
func (l *PromptLoader) HTMLToText(markup string) string {
	markup = scriptStyleRe.ReplaceAllString(markup, "")
	markup = breakRe.ReplaceAllString(markup, "\n")
	markup = preRe.ReplaceAllString(markup, "\n```\n")
	markup = codeRe.ReplaceAllString(markup, "`")
	markup = listItemRe.ReplaceAllString(markup, "\n- ")
	markup = listItemEndRe.ReplaceAllString(markup, "")
	markup = blockTagRe.ReplaceAllString(markup, "\n")

	text := html.UnescapeString(l.policy.Sanitize(markup))
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return normalizePromptText(text)
}

func normalizePromptText(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = spaceEOLRe.ReplaceAllString(text, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "<<<", "<<")
	return strings.ReplaceAll(text, ">>>", ">>")
}
