package dto

import (
	"time"

	"github.com/noah-isme/gema-review-api/internal/models"
)

// SubmissionCreateRequest describes the multipart fields accompanying an archive upload.
type SubmissionCreateRequest struct {
	ProjectID string `form:"-" validate:"required,max=64,excludesall=/\\,ne=.,ne=.."`
	Author    string `form:"author" validate:"omitempty,max=128"`
	Message   string `form:"message" validate:"omitempty,max=1000"`
}

// SubmissionRunResponse serializes a run inside a submission.
type SubmissionRunResponse struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	Toolchain  string    `json:"toolchain"`
	Status     string    `json:"status"`
	DurationMs *int64    `json:"durationMs,omitempty"`
	ReportID   string    `json:"reportId,omitempty"`
}

// SubmissionResponse is returned to API clients. The stored archive path is not exposed.
type SubmissionResponse struct {
	ID        string                  `json:"id"`
	ProjectID string                  `json:"projectId"`
	CreatedAt time.Time               `json:"createdAt"`
	Author    string                  `json:"author,omitempty"`
	Message   string                  `json:"message,omitempty"`
	MirrorURL string                  `json:"mirrorUrl,omitempty"`
	Runs      []SubmissionRunResponse `json:"runs"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	runs := make([]SubmissionRunResponse, 0, len(model.Runs))
	for _, run := range model.Runs {
		runs = append(runs, SubmissionRunResponse{
			ID:         run.ID,
			CreatedAt:  run.CreatedAt,
			Toolchain:  run.Toolchain,
			Status:     run.Status,
			DurationMs: run.DurationMs,
			ReportID:   run.ReportID,
		})
	}

	return SubmissionResponse{
		ID:        model.ID,
		ProjectID: model.ProjectID,
		CreatedAt: model.CreatedAt,
		Author:    model.Author,
		Message:   model.Message,
		MirrorURL: model.MirrorURL,
		Runs:      runs,
	}
}

// NewSubmissionResponseSlice converts a slice of submissions.
func NewSubmissionResponseSlice(items []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewSubmissionResponse(item))
	}
	return responses
}
