package ai

import (
	"context"
	"fmt"
	"strings"
)

// Verdicts produced by classification.
const (
	VerdictSendBack   = "send_back"
	VerdictToReviewer = "to_reviewer"
)

// Reviewer drives report generation and verdict classification.
type Reviewer struct {
	generator TextGenerator
	prompts   *PromptLoader
}

// NewReviewer wires a generator with its prompt source.
func NewReviewer(generator TextGenerator, prompts *PromptLoader) *Reviewer {
	return &Reviewer{generator: generator, prompts: prompts}
}

// GenerateReport asks the model for a numbered error report on input.
func (r *Reviewer) GenerateReport(ctx context.Context, input string) (string, error) {
	system, err := r.prompts.ReportPrompt()
	if err != nil {
		return "", err
	}
	completion, err := r.generator.Complete(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: input},
	}, CompletionOptions{Temperature: 0.1, MaxTokens: 3000})
	if err != nil {
		return "", fmt.Errorf("generate report: %w", err)
	}
	return completion.Text, nil
}

// Classify maps a report onto a verdict. Unrecognized answers yield send_back.
func (r *Reviewer) Classify(ctx context.Context, report string) (string, error) {
	system, err := r.prompts.ClassifierPrompt()
	if err != nil {
		return "", err
	}
	completion, err := r.generator.Complete(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: report},
	}, CompletionOptions{Temperature: 0, MaxTokens: 20})
	if err != nil {
		return "", fmt.Errorf("classify report: %w", err)
	}
	return ParseVerdict(completion.Text), nil
}

// ParseVerdict normalizes a free-text classifier answer.
func ParseVerdict(answer string) string {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	if strings.Contains(normalized, VerdictToReviewer) {
		return VerdictToReviewer
	}
	return VerdictSendBack
}
