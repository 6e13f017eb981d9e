package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-api/internal/service"
	"github.com/noah-isme/gema-review-api/internal/utils"
)

const timelinePingInterval = 30 * time.Second

// TimelineHandler lists timeline events and streams them over a websocket.
type TimelineHandler struct {
	service service.TimelineService
	logger  zerolog.Logger
}

// NewTimelineHandler creates a timeline handler instance.
func NewTimelineHandler(service service.TimelineService, logger zerolog.Logger) *TimelineHandler {
	return &TimelineHandler{
		service: service,
		logger:  logger.With().Str("component", "timeline_handler").Logger(),
	}
}

// Register binds timeline routes under the provided router group.
func (h *TimelineHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.stream))
	router.Get("", h.list)
}

func (h *TimelineHandler) list(c *fiber.Ctx) error {
	filter := service.TimelineFilter{
		ProjectID:    strings.TrimSpace(c.Query("project_id")),
		SubmissionID: strings.TrimSpace(c.Query("submission_id")),
		RunID:        strings.TrimSpace(c.Query("run_id")),
	}
	if filter == (service.TimelineFilter{}) {
		return utils.SendError(c, fiber.StatusBadRequest, "project_id, submission_id or run_id required")
	}

	events, err := h.service.List(requestContext(c), filter)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list timeline")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	return utils.SendSuccess(c, "timeline retrieved", events)
}

func (h *TimelineHandler) stream(conn *websocket.Conn) {
	filter := service.TimelineFilter{
		ProjectID:    strings.TrimSpace(conn.Query("project_id")),
		SubmissionID: strings.TrimSpace(conn.Query("submission_id")),
		RunID:        strings.TrimSpace(conn.Query("run_id")),
	}

	events, cleanup := h.service.Subscribe(filter)
	defer cleanup()
	defer func() { _ = conn.Close() }()

	logger := h.logger.With().
		Str("project_id", filter.ProjectID).
		Str("submission_id", filter.SubmissionID).
		Str("run_id", filter.RunID).
		Logger()
	logger.Info().Msg("timeline websocket connected")

	// Clients only listen; the read loop detects disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(timelinePingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("timeline write loop terminated")
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				logger.Debug().Err(err).Msg("timeline ping failed")
				return
			}
		case <-closed:
			logger.Info().Msg("timeline websocket disconnected")
			return
		}
	}
}
