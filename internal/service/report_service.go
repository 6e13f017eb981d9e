package service

import (
	"context"
	"errors"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/repository"
)

var (
	// ErrReportNotFound indicates the run has no report of the requested kind yet.
	ErrReportNotFound = errors.New("report not found")
	// ErrUnknownReportKind is returned for kinds other than student and reviewer.
	ErrUnknownReportKind = errors.New("unknown report kind")
)

// ReportService exposes the student and reviewer reports of a run.
type ReportService interface {
	Get(ctx context.Context, runID, kind string) (models.Report, error)
}

type reportService struct {
	reports *repository.Store[models.Report]
}

// NewReportService constructs a ReportService.
func NewReportService(reports *repository.Store[models.Report]) ReportService {
	return &reportService{reports: reports}
}

func (s *reportService) Get(ctx context.Context, runID, kind string) (models.Report, error) {
	var id string
	switch kind {
	case models.ReportKindStudent:
		id = models.StudentReportID(runID)
	case models.ReportKindReviewer:
		id = models.ReviewerReportID(runID)
	default:
		return models.Report{}, ErrUnknownReportKind
	}

	report, err := s.reports.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Report{}, ErrReportNotFound
	}
	return report, err
}
