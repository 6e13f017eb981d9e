package models

import "time"

// Timeline event types.
const (
	EventUploaded      = "uploaded"
	EventRunStarted    = "run_started"
	EventChecksReady   = "checks_ready"
	EventFeedbackReady = "feedback_ready"
	EventRunFinished   = "run_finished"
	EventError         = "error"
)

// TimelineEvent records a lifecycle step of a submission.
type TimelineEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	ProjectID    string          `json:"projectId,omitempty"`
	SubmissionID string          `json:"submissionId,omitempty"`
	RunID        string          `json:"runId,omitempty"`
	Message      string          `json:"message"`
	Details      TimelineDetails `json:"details"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// TimelineDetails holds the optional structured payload of an event.
type TimelineDetails struct {
	Toolchain        string `json:"toolchain,omitempty"`
	Status           string `json:"status,omitempty"`
	DurationMs       int64  `json:"durationMs,omitempty"`
	Source           string `json:"source,omitempty"`
	Filename         string `json:"filename,omitempty"`
	ErrorType        string `json:"errorType,omitempty"`
	TechnicalMessage string `json:"technicalMessage,omitempty"`
	Suggestion       string `json:"suggestion,omitempty"`
	Operation        string `json:"operation,omitempty"`
}
