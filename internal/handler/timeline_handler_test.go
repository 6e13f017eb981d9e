package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/internal/models"
)

func startFiberServer(t *testing.T, app *fiber.App) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	t.Cleanup(func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	})

	return "http://" + listener.Addr().String()
}

func TestTimelineHandlerRequiresFilter(t *testing.T) {
	env := setupReviewApp(t, nil)
	submissionID := uploadSubmission(t, env, "p1")

	resp, _ := doRequest(t, env.app, httptest.NewRequest(http.MethodGet, "/api/v1/timeline", nil))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body := doRequest(t, env.app, httptest.NewRequest(http.MethodGet, "/api/v1/timeline?submission_id="+submissionID, nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var events []struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &events))
	require.Len(t, events, 1)
	require.Equal(t, models.EventUploaded, events[0].Type)

	resp, _ = doRequest(t, env.app, httptest.NewRequest(http.MethodGet, "/api/v1/timeline/ws", nil))
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestTimelineWebsocketStreamsMatchingEvents(t *testing.T) {
	env := setupReviewApp(t, nil)
	baseURL := startFiberServer(t, env.app)

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/timeline/ws?run_id=r1"
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	// The subscription is registered after the upgrade, so keep emitting
	// until the client has seen one event.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			_, _ = env.timeline.Emit(ctx, models.TimelineEvent{Type: models.EventRunStarted, RunID: "other", Message: "ignored"})
			_, _ = env.timeline.Emit(ctx, models.TimelineEvent{Type: models.EventRunStarted, RunID: "r1", Message: "Run started"})
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var event models.TimelineEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, "r1", event.RunID)
	require.Equal(t, models.EventRunStarted, event.Type)
	require.NotEmpty(t, event.ID)
}
