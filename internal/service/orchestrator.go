package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/repository"
	"github.com/noah-isme/gema-review-api/pkg/archive"
	"github.com/noah-isme/gema-review-api/pkg/checks"
	"github.com/noah-isme/gema-review-api/pkg/localizer"
	"github.com/noah-isme/gema-review-api/pkg/snapshot"
)

// Pipeline stage names, used in wrapped errors and metrics.
const (
	StageExtract         = "extract"
	StageDetect          = "detect-languages"
	StageStaticCheck     = "static-check"
	StageFeedback        = "synthesize-feedback"
	StageSnapshot        = "snapshot"
	StageAIReport        = "ai-report"
	StageAIClassify      = "ai-classify"
	StageLocalize        = "localize-issues"
	StageAssembleReports = "assemble-reports"
)

// StageError ties a failure to the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, if any.
func StageOf(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

// ArchiveExtractor unpacks a submission archive into its working directory.
type ArchiveExtractor interface {
	WorkDir(projectID, submissionID string) (string, error)
	Extract(archivePath, projectID, submissionID string) (string, error)
}

// StaticChecker walks a working tree and runs static checks over it.
type StaticChecker interface {
	Walk(workDir string) (*checks.Tree, error)
	RunTree(ctx context.Context, tree *checks.Tree) (checks.Result, error)
}

// SnapshotBuilder renders a working tree for the AI reviewer.
type SnapshotBuilder interface {
	Build(workDir string) (snapshot.Snapshot, error)
}

// AIReviewer produces a free-text report and a verdict for it.
type AIReviewer interface {
	GenerateReport(ctx context.Context, input string) (string, error)
	Classify(ctx context.Context, report string) (string, error)
}

// RunRequest identifies one run of the pipeline.
type RunRequest struct {
	ProjectID    string
	SubmissionID string
	RunID        string
	Toolchain    string
}

// OrchestratorConfig wires the pipeline collaborators. Reviewer and Snapshots
// are optional; the AI stages run only when both are set.
type OrchestratorConfig struct {
	Submissions *repository.Store[models.Submission]
	Reports     *repository.Store[models.Report]
	Artifacts   *ArtifactStore
	Extractor   ArchiveExtractor
	Checker     StaticChecker
	Snapshots   SnapshotBuilder
	Reviewer    AIReviewer
	Logger      zerolog.Logger
}

// Orchestrator executes the fixed stage sequence for a single run.
type Orchestrator struct {
	cfg    OrchestratorConfig
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "orchestrator").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-review-api/internal/service/orchestrator"),
		now:    time.Now,
	}
}

// Run executes every stage for req and returns the reviewer report id.
// The first failing stage aborts the run with a *StageError.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (string, error) {
	ctx, span := o.tracer.Start(ctx, "review.run", trace.WithAttributes(
		attribute.String("review.run_id", req.RunID),
		attribute.String("review.submission_id", req.SubmissionID),
		attribute.String("review.toolchain", req.Toolchain),
	))
	defer span.End()

	logger := o.logger.With().
		Str("run_id", req.RunID).
		Str("submission_id", req.SubmissionID).
		Str("project_id", req.ProjectID).
		Logger()

	var workDir string
	if err := o.stage(ctx, StageExtract, func(ctx context.Context) error {
		var err error
		workDir, err = o.prepareWorkDir(ctx, req)
		return err
	}); err != nil {
		return "", o.fail(span, err)
	}

	var tree *checks.Tree
	if err := o.stage(ctx, StageDetect, func(context.Context) error {
		var err error
		tree, err = o.cfg.Checker.Walk(workDir)
		if err != nil {
			return err
		}
		return o.cfg.Artifacts.WriteJSON(req.RunID, models.ArtifactDetection, checks.Detect(tree))
	}); err != nil {
		return "", o.fail(span, err)
	}

	var result checks.Result
	if err := o.stage(ctx, StageStaticCheck, func(ctx context.Context) error {
		var err error
		result, err = o.cfg.Checker.RunTree(ctx, tree)
		if err != nil {
			return err
		}
		return o.cfg.Artifacts.WriteJSON(req.RunID, models.ArtifactChecks, models.ChecksArtifact{
			RunID:       req.RunID,
			CreatedAt:   o.now().UTC(),
			StaticCheck: result,
		})
	}); err != nil {
		return "", o.fail(span, err)
	}

	var feedback models.Feedback
	if err := o.stage(ctx, StageFeedback, func(context.Context) error {
		feedback = SynthesizeFeedback(result)
		return o.cfg.Artifacts.WriteJSON(req.RunID, models.ArtifactFeedback, feedback)
	}); err != nil {
		return "", o.fail(span, err)
	}

	var issues []localizer.Issue
	if o.aiEnabled() {
		aiResult, err := o.runAI(ctx, req.RunID, workDir)
		if err != nil {
			logger.Warn().Err(err).Str("stage", StageOf(err)).Msg("ai review skipped")
		} else {
			issues = aiResult
		}
	}

	var reviewerID string
	if err := o.stage(ctx, StageAssembleReports, func(ctx context.Context) error {
		student, reviewer := buildReports(req.RunID, o.now().UTC(), result, feedback, issues)
		reviewerID = reviewer.ID
		return o.cfg.Reports.UpsertMany(ctx, student, reviewer)
	}); err != nil {
		return "", o.fail(span, err)
	}

	logger.Info().
		Int("score", feedback.Score).
		Str("verdict", feedback.Verdict).
		Int("issues", len(issues)).
		Msg("run completed")

	return reviewerID, nil
}

func (o *Orchestrator) aiEnabled() bool {
	return o.cfg.Reviewer != nil && o.cfg.Snapshots != nil
}

// prepareWorkDir reuses an already extracted tree or unpacks the archive.
func (o *Orchestrator) prepareWorkDir(ctx context.Context, req RunRequest) (string, error) {
	submission, err := o.cfg.Submissions.Get(ctx, req.SubmissionID)
	if err != nil {
		return "", fmt.Errorf("load submission: %w", err)
	}

	workDir, err := o.cfg.Extractor.WorkDir(req.ProjectID, req.SubmissionID)
	if err != nil {
		return "", err
	}
	populated, err := archive.IsPopulated(workDir)
	if err != nil {
		return "", err
	}
	if populated {
		return workDir, nil
	}

	if submission.ArtifactPath == "" {
		return "", fmt.Errorf("submission %s has no archive: %w", submission.ID, repository.ErrNotFound)
	}
	return o.cfg.Extractor.Extract(submission.ArtifactPath, req.ProjectID, req.SubmissionID)
}

// runAI builds the snapshot, asks for a report and verdict, and localizes the
// flagged fragments. Any error is returned for logging only.
func (o *Orchestrator) runAI(ctx context.Context, runID, workDir string) ([]localizer.Issue, error) {
	var snap snapshot.Snapshot
	if err := o.stage(ctx, StageSnapshot, func(context.Context) error {
		var err error
		snap, err = o.cfg.Snapshots.Build(workDir)
		if err != nil {
			return err
		}
		return o.cfg.Artifacts.WriteJSON(runID, models.ArtifactSnapshotMetrics, snap.Metrics)
	}); err != nil {
		return nil, err
	}

	var report string
	if err := o.stage(ctx, StageAIReport, func(ctx context.Context) error {
		var err error
		report, err = o.cfg.Reviewer.GenerateReport(ctx, snap.Text())
		return err
	}); err != nil {
		return nil, err
	}

	var verdict string
	if err := o.stage(ctx, StageAIClassify, func(ctx context.Context) error {
		var err error
		verdict, err = o.cfg.Reviewer.Classify(ctx, report)
		return err
	}); err != nil {
		return nil, err
	}

	var issues []localizer.Issue
	if err := o.stage(ctx, StageLocalize, func(context.Context) error {
		issues = localizer.ExtractIssues(report, snap.Files)
		return o.cfg.Artifacts.WriteJSON(runID, models.ArtifactLLMResults, models.LLMResults{
			Report:    report,
			Verdict:   verdict,
			Issues:    issues,
			Timestamp: o.now().UTC(),
		})
	}); err != nil {
		return nil, err
	}

	return issues, nil
}

// stage runs fn inside its own span and wraps any failure as a *StageError.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "review.stage."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "run failed")
	return err
}

func buildReports(runID string, now time.Time, result checks.Result, feedback models.Feedback, issues []localizer.Issue) (models.Report, models.Report) {
	problems := HasProblems(result)

	studentStatus := models.ReportStatusSuccess
	reviewerStatus := models.ReportStatusSuccess
	reviewerSummary := "No problems found"
	if problems {
		studentStatus = models.ReportStatusWarning
		reviewerStatus = models.ReportStatusError
		reviewerSummary = "Problems found, reviewer attention required"
	}

	student := models.Report{
		ID:        models.StudentReportID(runID),
		RunID:     runID,
		CreatedAt: now,
		Summary:   feedback.Summary,
		Status:    studentStatus,
		Details: models.ReportDetails{
			Kind:     models.ReportKindStudent,
			Feedback: &feedback,
		},
	}

	byFile := make(map[string][]models.LintFinding)
	for _, lintErr := range result.Lint.Errors {
		byFile[lintErr.File] = append(byFile[lintErr.File], models.LintFinding{
			Line:    lintErr.Line,
			Code:    lintErr.Code,
			Message: lintErr.Message,
		})
	}
	metrics := result.Metrics

	reviewer := models.Report{
		ID:        models.ReviewerReportID(runID),
		RunID:     runID,
		CreatedAt: now,
		Summary:   reviewerSummary,
		Status:    reviewerStatus,
		Details: models.ReportDetails{
			Kind: models.ReportKindReviewer,
			Tests: &models.ReviewerTests{
				Passed:      result.Tests.Passed,
				Failed:      result.Tests.Failed,
				FailedItems: result.Tests.Items,
			},
			Lint:         &models.ReviewerLint{ByFile: byFile},
			Metrics:      &metrics,
			Requirements: result.Requirements,
			Issues:       issues,
		},
	}

	return student, reviewer
}
