package models

import "time"

// Submission is an uploaded archive awaiting or having undergone review runs.
type Submission struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"projectId"`
	CreatedAt    time.Time       `json:"createdAt"`
	Author       string          `json:"author,omitempty"`
	Message      string          `json:"message,omitempty"`
	ArtifactPath string          `json:"artifactPath"`
	MirrorURL    string          `json:"mirrorUrl,omitempty"`
	Runs         []SubmissionRun `json:"runs"`
}

// SubmissionRun is one execution of the review pipeline.
type SubmissionRun struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submissionId"`
	CreatedAt    time.Time `json:"createdAt"`
	Toolchain    string    `json:"toolchain"`
	Status       string    `json:"status"`
	DurationMs   *int64    `json:"durationMs,omitempty"`
	ReportID     string    `json:"reportId,omitempty"`
}

const (
	// RunStatusQueued marks a run accepted by the queue.
	RunStatusQueued = "queued"
	// RunStatusRunning marks the single run currently executing.
	RunStatusRunning = "running"
	// RunStatusReady marks a run that produced reports.
	RunStatusReady = "ready"
	// RunStatusErrors marks a run that failed.
	RunStatusErrors = "errors"
)

// DefaultToolchain is used when a run is enqueued without one.
const DefaultToolchain = "tests"

// IsTerminal reports whether the run reached ready or errors.
func (r SubmissionRun) IsTerminal() bool {
	return r.Status == RunStatusReady || r.Status == RunStatusErrors
}

// FindRun returns a pointer to the run with the given id.
func (s *Submission) FindRun(runID string) *SubmissionRun {
	for i := range s.Runs {
		if s.Runs[i].ID == runID {
			return &s.Runs[i]
		}
	}
	return nil
}

// RunIndex maps a run id back to its submission.
type RunIndex struct {
	RunID        string `json:"runId"`
	SubmissionID string `json:"submissionId"`
	ProjectID    string `json:"projectId"`
}
