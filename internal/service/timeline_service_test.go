package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/internal/models"
)

func TestTimelineEmitPersistsAndBroadcasts(t *testing.T) {
	stores := newTestStores()
	svc := NewTimelineService(stores.Timeline, nil, "", nil, testLogger())

	runEvents, cleanupRun := svc.Subscribe(TimelineFilter{RunID: "r1"})
	defer cleanupRun()
	otherEvents, cleanupOther := svc.Subscribe(TimelineFilter{ProjectID: "other"})
	defer cleanupOther()

	emitted, err := svc.Emit(context.Background(), models.TimelineEvent{
		Type:      models.EventRunStarted,
		ProjectID: "p1",
		RunID:     "r1",
		Message:   "<b>Check</b> started",
	})
	require.NoError(t, err)
	require.NotEmpty(t, emitted.ID)
	require.False(t, emitted.CreatedAt.IsZero())
	require.Equal(t, "Check started", emitted.Message)

	select {
	case got := <-runEvents:
		require.Equal(t, emitted.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case got := <-otherEvents:
		t.Fatalf("unexpected event for other project: %+v", got)
	default:
	}

	stored, err := stores.Timeline.Get(context.Background(), emitted.ID)
	require.NoError(t, err)
	require.Equal(t, models.EventRunStarted, stored.Type)
}

func TestTimelineRejectsUnknownType(t *testing.T) {
	svc := NewTimelineService(newTestStores().Timeline, nil, "", nil, testLogger())
	_, err := svc.Emit(context.Background(), models.TimelineEvent{Type: "deployed"})
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestTimelineListNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := NewTimelineService(newTestStores().Timeline, nil, "", nil, testLogger())
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, submissionID := range []string{"s1", "s2", "s1"} {
		_, err := svc.Emit(ctx, models.TimelineEvent{
			Type:         models.EventUploaded,
			ProjectID:    "p1",
			SubmissionID: submissionID,
			Message:      "uploaded",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	events, err := svc.List(ctx, TimelineFilter{SubmissionID: "s1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.True(t, events[0].CreatedAt.After(events[1].CreatedAt))

	all, err := svc.List(ctx, TimelineFilter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestTimelineSubscriptionCleanupClosesChannel(t *testing.T) {
	svc := NewTimelineService(newTestStores().Timeline, nil, "", nil, testLogger())
	events, cleanup := svc.Subscribe(TimelineFilter{})
	cleanup()
	cleanup()

	_, open := <-events
	require.False(t, open)
}

func TestTimelineRelaysEventsAcrossNodesViaRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: server.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewTimelineService(newTestStores().Timeline, newClient(), "gema:test", nil, testLogger())
	receiver := NewTimelineService(newTestStores().Timeline, newClient(), "gema:test", nil, testLogger())
	receiver.Start(ctx)

	events, cleanup := receiver.Subscribe(TimelineFilter{ProjectID: "p1"})
	defer cleanup()

	require.Eventually(t, func() bool {
		return len(server.PubSubChannels("gema:test:timeline")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = publisher.Emit(ctx, models.TimelineEvent{Type: models.EventUploaded, ProjectID: "p1", Message: "uploaded"})
	require.NoError(t, err)

	select {
	case got := <-events:
		require.Equal(t, models.EventUploaded, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed through redis")
	}
}
