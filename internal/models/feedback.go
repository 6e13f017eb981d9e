package models

// Feedback verdicts.
const (
	VerdictSendBack   = "send_back"
	VerdictToReviewer = "to_reviewer"
)

// Feedback is the synthesized student-facing assessment written to feedback.json.
type Feedback struct {
	Summary      string   `json:"summary"`
	Score        int      `json:"score"`
	Verdict      string   `json:"verdict"`
	Requirements []string `json:"requirements"`
	Problems     []string `json:"problems"`
	NextSteps    []string `json:"next_steps"`
}

// FeedbackFallback replaces feedback.json when a run fails.
type FeedbackFallback struct {
	Kind  string       `json:"kind"`
	Error ErrorDetails `json:"error"`
}

// ErrorInfo is a classified failure with user-facing guidance.
type ErrorInfo struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	UserMessage string `json:"userMessage"`
	Suggestion  string `json:"suggestion"`
	Technical   string `json:"technical,omitempty"`
}
