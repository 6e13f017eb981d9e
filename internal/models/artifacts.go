package models

import (
	"time"

	"github.com/noah-isme/gema-review-api/pkg/checks"
	"github.com/noah-isme/gema-review-api/pkg/localizer"
)

// Artifact file names written under a run's artifact directory.
const (
	ArtifactChecks          = "checks.json"
	ArtifactFeedback        = "feedback.json"
	ArtifactDetection       = "detection.json"
	ArtifactLLMResults      = "llm_results.json"
	ArtifactSnapshotMetrics = "llm_snapshot.metrics.json"
)

// ReadableArtifacts lists the artifacts served over HTTP.
var ReadableArtifacts = []string{
	ArtifactChecks,
	ArtifactFeedback,
	ArtifactDetection,
	ArtifactLLMResults,
	ArtifactSnapshotMetrics,
}

// ChecksArtifact is the content of checks.json.
type ChecksArtifact struct {
	RunID       string        `json:"runId"`
	CreatedAt   time.Time     `json:"createdAt"`
	StaticCheck checks.Result `json:"staticCheck"`
	Error       *ErrorDetails `json:"error,omitempty"`
}

// LLMResults is the content of llm_results.json.
type LLMResults struct {
	Report    string            `json:"report"`
	Verdict   string            `json:"verdict"`
	Issues    []localizer.Issue `json:"issues"`
	Timestamp time.Time         `json:"timestamp"`
}
