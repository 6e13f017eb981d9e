package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-api/internal/dto"
	"github.com/noah-isme/gema-review-api/internal/middleware"
	"github.com/noah-isme/gema-review-api/internal/service"
	"github.com/noah-isme/gema-review-api/internal/utils"
)

func userIDStringFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_id"); v != nil {
		switch id := v.(type) {
		case uint:
			return strconv.FormatUint(uint64(id), 10)
		case int:
			if id < 0 {
				return ""
			}
			return strconv.Itoa(id)
		case string:
			return strings.TrimSpace(id)
		case fmt.Stringer:
			return strings.TrimSpace(id.String())
		}
	}
	return ""
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// sendClassifiedError maps err through the review error taxonomy. Clients only
// see the user message and suggestion; the technical message is logged.
func sendClassifiedError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	info := service.ClassifyError(err)
	status := service.HTTPStatusFor(info.Type)

	event := requestLogger(logger, c).Warn()
	if status >= fiber.StatusInternalServerError {
		event = requestLogger(logger, c).Error()
	}
	event.Err(err).Str("error_type", info.Type).Int("status", status).Msg("request failed")

	return utils.Fail(c, status, info.UserMessage, dto.ErrorResponse{
		UserMessage: info.UserMessage,
		Suggestion:  info.Suggestion,
	})
}

func withGuards(guards []fiber.Handler, h fiber.Handler) []fiber.Handler {
	chain := make([]fiber.Handler, 0, len(guards)+1)
	chain = append(chain, guards...)
	return append(chain, h)
}
