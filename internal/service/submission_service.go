package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review-api/internal/dto"
	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/observability"
	"github.com/noah-isme/gema-review-api/internal/repository"
	"github.com/noah-isme/gema-review-api/pkg/archive"
)

const defaultMaxUploadBytes int64 = 50 * 1024 * 1024

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionFileRequired signals that the request did not include an archive.
	ErrSubmissionFileRequired = errors.New("submission file is required")
	// ErrSubmissionTooLarge is returned when the upload exceeds the configured limit.
	ErrSubmissionTooLarge = fmt.Errorf("submission %w", archive.ErrArchiveTooLarge)
	// ErrSubmissionNotZip is returned when the upload is not a ZIP archive.
	ErrSubmissionNotZip = fmt.Errorf("submission is not a ZIP archive: %w", archive.ErrInvalidArchive)
)

// ArchiveMirror copies an uploaded archive to remote storage and returns its URL.
type ArchiveMirror interface {
	MirrorArchive(ctx context.Context, projectID, submissionID string, archive io.Reader) (string, error)
}

// SubmissionService accepts archive uploads and exposes stored submissions.
type SubmissionService interface {
	Create(ctx context.Context, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id string) (dto.SubmissionResponse, error)
	ListByProject(ctx context.Context, projectID string) ([]dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions *repository.Store[models.Submission]
	timeline    TimelineService
	mirror      ArchiveMirror
	validator   *validator.Validate
	uploadDir   string
	maxSize     int64
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService. mirror may be nil.
func NewSubmissionService(
	submissions *repository.Store[models.Submission],
	timeline TimelineService,
	mirror ArchiveMirror,
	validate *validator.Validate,
	uploadDir string,
	maxSize int64,
	logger zerolog.Logger,
) SubmissionService {
	if maxSize <= 0 {
		maxSize = defaultMaxUploadBytes
	}
	return &submissionService{
		submissions: submissions,
		timeline:    timeline,
		mirror:      mirror,
		validator:   validate,
		uploadDir:   uploadDir,
		maxSize:     maxSize,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-review-api/internal/service/submission"),
		now:         time.Now,
	}
}

func (s *submissionService) Create(ctx context.Context, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("submission.project_id", payload.ProjectID),
		attribute.Int64("submission.max_bytes", s.maxSize),
	)

	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if file == nil {
		return dto.SubmissionResponse{}, ErrSubmissionFileRequired
	}
	if file.Size > s.maxSize {
		observability.Submissions().WithLabelValues("too_large").Inc()
		span.SetStatus(codes.Error, "payload too large")
		return dto.SubmissionResponse{}, ErrSubmissionTooLarge
	}

	data, err := s.readUpload(file)
	if err != nil {
		if errors.Is(err, ErrSubmissionTooLarge) {
			observability.Submissions().WithLabelValues("too_large").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return dto.SubmissionResponse{}, err
	}

	mime := mimetype.Detect(data)
	span.SetAttributes(attribute.String("submission.detected_mime", mime.String()))
	if !archive.IsZip(mime) {
		observability.Submissions().WithLabelValues("not_zip").Inc()
		span.SetStatus(codes.Error, "type not allowed")
		return dto.SubmissionResponse{}, ErrSubmissionNotZip
	}

	submission := models.Submission{
		ID:        uuid.NewString(),
		ProjectID: payload.ProjectID,
		CreatedAt: s.now().UTC(),
		Author:    strings.TrimSpace(payload.Author),
		Message:   strings.TrimSpace(payload.Message),
		Runs:      []models.SubmissionRun{},
	}

	submission.ArtifactPath, err = s.store(submission.ProjectID, submission.ID, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.SubmissionResponse{}, err
	}

	if s.mirror != nil {
		url, err := s.mirror.MirrorArchive(ctx, submission.ProjectID, submission.ID, bytes.NewReader(data))
		if err != nil {
			s.logger.Warn().Err(err).Str("submission_id", submission.ID).Msg("archive mirror failed")
		} else {
			submission.MirrorURL = url
		}
	}

	if err := s.submissions.Save(ctx, submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.SubmissionResponse{}, err
	}

	if s.timeline != nil {
		if _, err := s.timeline.Emit(ctx, models.TimelineEvent{
			Type:         models.EventUploaded,
			ProjectID:    submission.ProjectID,
			SubmissionID: submission.ID,
			Message:      fmt.Sprintf("Archive %s uploaded", filepath.Base(file.Filename)),
			Details: models.TimelineDetails{
				Filename: filepath.Base(file.Filename),
				Source:   "upload",
			},
		}); err != nil {
			s.logger.Warn().Err(err).Str("submission_id", submission.ID).Msg("failed to emit upload event")
		}
	}

	observability.Submissions().WithLabelValues("accepted").Inc()
	span.SetStatus(codes.Ok, "stored")
	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("project_id", submission.ProjectID).
		Int("bytes", len(data)).
		Msg("submission stored")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Get(ctx context.Context, id string) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission), nil
}

// ListByProject returns a project's submissions, newest first.
func (s *submissionService) ListByProject(ctx context.Context, projectID string) ([]dto.SubmissionResponse, error) {
	all, err := s.submissions.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]models.Submission, 0, len(all))
	for _, submission := range all {
		if submission.ProjectID == projectID {
			matched = append(matched, submission)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return dto.NewSubmissionResponseSlice(matched), nil
}

func (s *submissionService) readUpload(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrSubmissionTooLarge
	}
	if len(data) == 0 {
		return nil, ErrSubmissionNotZip
	}
	return data, nil
}

// store writes the archive to <uploadDir>/<projectId>/<submissionId>.zip.
func (s *submissionService) store(projectID, submissionID string, data []byte) (string, error) {
	target, err := archive.ResolveWithin(s.uploadDir, filepath.Join(projectID, submissionID+".zip"))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish archive: %w", err)
	}
	return target, nil
}
