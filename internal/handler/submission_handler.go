package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-api/internal/dto"
	"github.com/noah-isme/gema-review-api/internal/service"
	"github.com/noah-isme/gema-review-api/internal/utils"
)

// SubmissionHandler manages archive uploads and submission lookups.
type SubmissionHandler struct {
	service   service.SubmissionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, validator *validator.Validate, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to a group mounted at /projects/:projectId/submissions.
// Extra handlers run before the upload, e.g. a rate limiter.
func (h *SubmissionHandler) Register(router fiber.Router, uploadGuards ...fiber.Handler) {
	router.Get("", h.list)
	router.Post("", withGuards(uploadGuards, h.create)...)
	router.Get("/:submissionId", h.get)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	submissions, err := h.service.ListByProject(requestContext(c), c.Params("projectId"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	payload := dto.SubmissionCreateRequest{
		ProjectID: strings.TrimSpace(c.Params("projectId")),
		Author:    strings.TrimSpace(c.FormValue("author")),
		Message:   strings.TrimSpace(c.FormValue("message")),
	}
	if payload.Author == "" {
		payload.Author = userIDStringFromContext(c)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	submission, err := h.service.Create(requestContext(c), payload, file)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission created", submission)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	submission, err := h.service.Get(requestContext(c), c.Params("submissionId"))
	if err != nil {
		return h.handleError(c, err)
	}
	if submission.ProjectID != c.Params("projectId") {
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrSubmissionFileRequired):
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		return sendClassifiedError(c, h.logger, err)
	}
}
