package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-api/internal/dto"
	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/service"
	"github.com/noah-isme/gema-review-api/internal/utils"
)

// RunHandler enqueues review runs and serves their status, reports and artifacts.
type RunHandler struct {
	queue       service.RunQueue
	submissions service.SubmissionService
	reports     service.ReportService
	artifacts   *service.ArtifactStore
	validator   *validator.Validate
	logger      zerolog.Logger
}

// RunRouteGuards are extra handlers placed in front of selected routes.
type RunRouteGuards struct {
	Enqueue  []fiber.Handler
	Reviewer []fiber.Handler
}

// NewRunHandler constructs a run handler.
func NewRunHandler(
	queue service.RunQueue,
	submissions service.SubmissionService,
	reports service.ReportService,
	artifacts *service.ArtifactStore,
	validator *validator.Validate,
	logger zerolog.Logger,
) *RunHandler {
	return &RunHandler{
		queue:       queue,
		submissions: submissions,
		reports:     reports,
		artifacts:   artifacts,
		validator:   validator,
		logger:      logger.With().Str("component", "run_handler").Logger(),
	}
}

// Register binds run routes on the API root group.
func (h *RunHandler) Register(router fiber.Router, guards RunRouteGuards) {
	router.Post("/projects/:projectId/submissions/:submissionId/runs", withGuards(guards.Enqueue, h.enqueue)...)
	router.Get("/runs/:runId", h.status)
	router.Get("/runs/:runId/artifacts/:name", h.artifact)
	router.Get("/runs/:runId/reports/student", h.report(models.ReportKindStudent))
	router.Get("/runs/:runId/reports/reviewer", withGuards(guards.Reviewer, h.report(models.ReportKindReviewer))...)
}

func (h *RunHandler) enqueue(c *fiber.Ctx) error {
	var payload dto.RunCreateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	payload.Toolchain = strings.TrimSpace(payload.Toolchain)
	if err := h.validator.Struct(payload); err != nil {
		return h.handleError(c, err)
	}

	ctx := requestContext(c)
	projectID := c.Params("projectId")
	submission, err := h.submissions.Get(ctx, c.Params("submissionId"))
	if err != nil {
		return h.handleError(c, err)
	}
	if submission.ProjectID != projectID {
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	}

	result, err := h.queue.Enqueue(ctx, projectID, submission.ID, payload.Toolchain)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "run queued", result)
}

func (h *RunHandler) status(c *fiber.Ctx) error {
	status, err := h.queue.Status(requestContext(c), c.Params("runId"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "run status", status)
}

func (h *RunHandler) artifact(c *fiber.Ctx) error {
	data, err := h.artifacts.Read(c.Params("runId"), c.Params("name"))
	if err != nil {
		return h.handleError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Send(data)
}

func (h *RunHandler) report(kind string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report, err := h.reports.Get(requestContext(c), c.Params("runId"), kind)
		if err != nil {
			return h.handleError(c, err)
		}
		return utils.SendSuccess(c, kind+" report", report)
	}
}

func (h *RunHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrRunNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "run not found")
	case errors.Is(err, service.ErrReportNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "report not found")
	case errors.Is(err, service.ErrArtifactNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "artifact not found")
	case errors.Is(err, service.ErrArtifactNotReadable):
		return utils.SendError(c, fiber.StatusBadRequest, "artifact is not readable")
	case errors.Is(err, service.ErrInvalidRunRequest):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrQueueFull):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "run queue is full, try again later")
	default:
		return sendClassifiedError(c, h.logger, err)
	}
}
