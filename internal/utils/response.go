package utils

import "github.com/gofiber/fiber/v2"

// correlationHeader mirrors the header set by the correlation middleware.
const correlationHeader = "X-Correlation-ID"

// APIResponse is the envelope returned by every JSON endpoint of the review API.
type APIResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Data          any    `json:"data,omitempty"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// SendSuccess responds 200 with data.
func SendSuccess(c *fiber.Ctx, message string, data any) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus responds with a success envelope and the given status.
// Non-2xx codes are allowed so degraded health checks can still carry data.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data any) error {
	if status == 0 {
		status = fiber.StatusOK
	}
	return respond(c, status, APIResponse{Success: true, Message: orDefault(message, "success"), Data: data})
}

// SendError responds with a failure envelope and no details.
func SendError(c *fiber.Ctx, status int, message string) error {
	return Fail(c, status, message, nil)
}

// Fail responds with a failure envelope carrying structured details, such as
// the user facing message and suggestion of a classified review error.
func Fail(c *fiber.Ctx, status int, message string, details any) error {
	return respond(c, status, APIResponse{Success: false, Message: orDefault(message, "error"), Details: details})
}

func respond(c *fiber.Ctx, status int, body APIResponse) error {
	body.CorrelationID = string(c.Response().Header.Peek(correlationHeader))
	return c.Status(status).JSON(body)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
