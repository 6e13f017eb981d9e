package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/observability"
	"github.com/noah-isme/gema-review-api/internal/repository"
	"github.com/noah-isme/gema-review-api/pkg/checks"
)

const hiddenTechnicalDetails = "Technical details are available to the reviewer"

// RunFailure describes where a run failed.
type RunFailure struct {
	ProjectID    string
	SubmissionID string
	RunID        string
	Toolchain    string
	Operation    string
	Duration     time.Duration
}

// RunErrorHandler records failed runs: run status, fallback artifacts, error
// reports and a timeline event. Every step is attempted even if one fails.
type RunErrorHandler struct {
	stores    repository.Stores
	artifacts *ArtifactStore
	timeline  TimelineService
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRunErrorHandler constructs a run error handler.
func NewRunErrorHandler(stores repository.Stores, artifacts *ArtifactStore, timeline TimelineService, logger zerolog.Logger) *RunErrorHandler {
	return &RunErrorHandler{
		stores:    stores,
		artifacts: artifacts,
		timeline:  timeline,
		logger:    logger.With().Str("component", "run_error_handler").Logger(),
		now:       time.Now,
	}
}

// HandleRunError classifies err and records the failure. The operation
// defaults to the failing stage carried by err.
func (h *RunErrorHandler) HandleRunError(ctx context.Context, err error, failure RunFailure) models.ErrorInfo {
	info := ClassifyError(err)
	if failure.Operation == "" {
		failure.Operation = StageOf(err)
	}
	durationMs := failure.Duration.Milliseconds()

	logger := h.logger.With().
		Str("run_id", failure.RunID).
		Str("submission_id", failure.SubmissionID).
		Str("project_id", failure.ProjectID).
		Str("stage", failure.Operation).
		Str("error_type", info.Type).
		Logger()
	logger.Error().Err(err).Int64("duration_ms", durationMs).Msg("run failed")

	observability.StageFailures().WithLabelValues(failure.Operation, info.Type).Inc()

	if failure.SubmissionID != "" && failure.RunID != "" {
		_, updateErr := h.stores.Submissions.Update(ctx, failure.SubmissionID, func(s *models.Submission) error {
			run := s.FindRun(failure.RunID)
			if run == nil {
				return fmt.Errorf("run %s: %w", failure.RunID, repository.ErrNotFound)
			}
			run.Status = models.RunStatusErrors
			run.DurationMs = &durationMs
			return nil
		})
		if updateErr != nil {
			logger.Warn().Err(updateErr).Msg("failed to mark run as errored")
		}
	}

	if failure.RunID != "" {
		if err := h.writeErrorReports(ctx, info, failure); err != nil {
			logger.Warn().Err(err).Msg("failed to save error reports")
		}
		if err := h.writeFallbackArtifacts(info, failure.RunID); err != nil {
			logger.Warn().Err(err).Msg("failed to write fallback artifacts")
		}
	}

	if h.timeline != nil {
		operation := failure.Operation
		if operation == "" {
			operation = "the check"
		}
		_, emitErr := h.timeline.Emit(ctx, models.TimelineEvent{
			Type:         models.EventError,
			ProjectID:    failure.ProjectID,
			SubmissionID: failure.SubmissionID,
			RunID:        failure.RunID,
			Message:      fmt.Sprintf("Error during %s: %s", operation, info.UserMessage),
			Details: models.TimelineDetails{
				Toolchain:        failure.Toolchain,
				DurationMs:       durationMs,
				ErrorType:        info.Type,
				TechnicalMessage: info.Technical,
				Suggestion:       info.Suggestion,
				Operation:        failure.Operation,
			},
		})
		if emitErr != nil {
			logger.Warn().Err(emitErr).Msg("failed to emit error event")
		}
	}

	return info
}

func (h *RunErrorHandler) writeErrorReports(ctx context.Context, info models.ErrorInfo, failure RunFailure) error {
	now := h.now().UTC()

	student := models.Report{
		ID:        models.StudentReportID(failure.RunID),
		RunID:     failure.RunID,
		CreatedAt: now,
		Summary:   info.UserMessage,
		Status:    models.ReportStatusError,
		Details: models.ReportDetails{
			Kind:  models.ReportKindStudent,
			Error: studentErrorDetails(info),
		},
	}

	reviewer := models.Report{
		ID:        models.ReviewerReportID(failure.RunID),
		RunID:     failure.RunID,
		CreatedAt: now,
		Summary:   "Execution error: " + info.Message,
		Status:    models.ReportStatusError,
		Details: models.ReportDetails{
			Kind: models.ReportKindReviewer,
			Error: &models.ErrorDetails{
				Type:      info.Type,
				Message:   info.Message,
				Technical: technicalOrMessage(info),
				Context: &models.ErrorContext{
					Toolchain:  failure.Toolchain,
					Operation:  failure.Operation,
					DurationMs: failure.Duration.Milliseconds(),
				},
			},
		},
	}

	return h.stores.Reports.UpsertMany(ctx, student, reviewer)
}

// writeFallbackArtifacts always replaces feedback.json. checks.json is only
// written when the static-check stage did not produce one.
func (h *RunErrorHandler) writeFallbackArtifacts(info models.ErrorInfo, runID string) error {
	if err := h.artifacts.WriteJSON(runID, models.ArtifactFeedback, models.FeedbackFallback{
		Kind:  models.ReportKindStudent,
		Error: *studentErrorDetails(info),
	}); err != nil {
		return err
	}

	if h.artifacts.Exists(runID, models.ArtifactChecks) {
		return nil
	}
	return h.artifacts.WriteJSON(runID, models.ArtifactChecks, models.ChecksArtifact{
		RunID:       runID,
		CreatedAt:   h.now().UTC(),
		StaticCheck: checks.EmptyResult(),
		Error: &models.ErrorDetails{
			Type:      info.Type,
			Message:   info.Message,
			Technical: technicalOrMessage(info),
		},
	})
}

func studentErrorDetails(info models.ErrorInfo) *models.ErrorDetails {
	return &models.ErrorDetails{
		Type:       info.Type,
		Message:    info.UserMessage,
		Suggestion: info.Suggestion,
		Technical:  hiddenTechnicalDetails,
	}
}

func technicalOrMessage(info models.ErrorInfo) string {
	if info.Technical != "" {
		return info.Technical
	}
	return info.Message
}
