package ai

import "context"

// Chat roles understood by the generator.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tunes a single completion request.
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// Completion is the generated text with token usage.
type Completion struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
}

// TextGenerator produces a completion for a chat transcript.
type TextGenerator interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (Completion, error)
}
