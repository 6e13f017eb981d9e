package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-review-api/internal/config"
	"github.com/noah-isme/gema-review-api/internal/handler"
	"github.com/noah-isme/gema-review-api/internal/middleware"
	"github.com/noah-isme/gema-review-api/internal/observability"
)

// Roles allowed to read reviewer reports when authentication is enabled.
var reviewerRoles = []string{"reviewer", "teacher", "admin"}

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionHandler
	RunHandler        *handler.RunHandler
	TimelineHandler   *handler.TimelineHandler
	HealthProbes      map[string]handler.HealthProbe
	// JWTMiddleware guards the API when set; nil leaves it open.
	JWTMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	var protected fiber.Router = api
	var reviewerGuards []fiber.Handler
	if deps.JWTMiddleware != nil {
		protected = api.Group("", deps.JWTMiddleware)
		reviewerGuards = append(reviewerGuards, middleware.RequireRole(reviewerRoles...))
	}

	if deps.SubmissionHandler != nil {
		submissions := protected.Group("/projects/:projectId/submissions")
		deps.SubmissionHandler.Register(submissions, middleware.RateLimit("upload", cfg.UploadRatePerMinute, time.Minute))
	}

	if deps.RunHandler != nil {
		deps.RunHandler.Register(protected, handler.RunRouteGuards{
			Enqueue:  []fiber.Handler{middleware.RateLimit("runs", cfg.RunRatePerMinute, time.Minute)},
			Reviewer: reviewerGuards,
		})
	}

	if deps.TimelineHandler != nil {
		deps.TimelineHandler.Register(protected.Group("/timeline"))
	}
}
