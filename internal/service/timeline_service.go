package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/observability"
	"github.com/noah-isme/gema-review-api/internal/repository"
)

const timelineBufferSize = 16

// ErrUnknownEventType is returned when an event type is not part of the lifecycle.
var ErrUnknownEventType = errors.New("unknown timeline event type")

// TimelineFilter narrows listed or streamed events. Empty fields match everything.
type TimelineFilter struct {
	ProjectID    string
	SubmissionID string
	RunID        string
}

// Matches reports whether event satisfies every non-empty field of f.
func (f TimelineFilter) Matches(event models.TimelineEvent) bool {
	if f.ProjectID != "" && f.ProjectID != event.ProjectID {
		return false
	}
	if f.SubmissionID != "" && f.SubmissionID != event.SubmissionID {
		return false
	}
	if f.RunID != "" && f.RunID != event.RunID {
		return false
	}
	return true
}

// TimelineService persists lifecycle events and streams them to subscribers.
type TimelineService interface {
	Emit(ctx context.Context, event models.TimelineEvent) (models.TimelineEvent, error)
	List(ctx context.Context, filter TimelineFilter) ([]models.TimelineEvent, error)
	Subscribe(filter TimelineFilter) (<-chan models.TimelineEvent, func())
	Start(ctx context.Context)
}

type timelineService struct {
	store        *repository.Store[models.TimelineEvent]
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	tracer       trace.Tracer
	sanitizer    *bluemonday.Policy
	broker       *timelineBroker
	nodeID       string
	now          func() time.Time
}

type timelineEnvelope struct {
	Source string               `json:"source"`
	Event  models.TimelineEvent `json:"event"`
	SentAt time.Time            `json:"sent_at"`
}

type timelineBroker struct {
	mu          sync.RWMutex
	subscribers map[chan models.TimelineEvent]TimelineFilter
}

var timelineEventTypes = map[string]struct{}{
	models.EventUploaded:      {},
	models.EventRunStarted:    {},
	models.EventChecksReady:   {},
	models.EventFeedbackReady: {},
	models.EventRunFinished:   {},
	models.EventError:         {},
}

// NewTimelineService constructs a timeline service. redisClient and natsConn are optional.
func NewTimelineService(store *repository.Store[models.TimelineEvent], redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) TimelineService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":timeline"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".timeline"
	}

	return &timelineService{
		store:        store,
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "timeline_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-review-api/internal/service/timeline"),
		sanitizer:    bluemonday.StrictPolicy(),
		broker:       &timelineBroker{subscribers: make(map[chan models.TimelineEvent]TimelineFilter)},
		nodeID:       uuid.NewString(),
		now:          time.Now,
	}
}

func (s *timelineService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

// Emit assigns an id and timestamp, persists the event and fans it out.
func (s *timelineService) Emit(ctx context.Context, event models.TimelineEvent) (models.TimelineEvent, error) {
	if _, ok := timelineEventTypes[event.Type]; !ok {
		return models.TimelineEvent{}, ErrUnknownEventType
	}

	spanCtx, span := s.tracer.Start(ctx, "timeline.emit", trace.WithAttributes(
		attribute.String("timeline.type", event.Type),
		attribute.String("timeline.run_id", event.RunID),
	))
	defer span.End()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	event.Message = strings.TrimSpace(s.sanitizer.Sanitize(event.Message))

	if err := s.store.Save(spanCtx, event); err != nil {
		span.RecordError(err)
		return models.TimelineEvent{}, err
	}

	s.broker.broadcast(event)
	if err := s.publish(spanCtx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_type", event.Type).Msg("failed to publish timeline event to broker")
	}

	observability.TimelineEvents().WithLabelValues(event.Type).Inc()
	return event, nil
}

// List returns matching events, newest first.
func (s *timelineService) List(ctx context.Context, filter TimelineFilter) ([]models.TimelineEvent, error) {
	events, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]models.TimelineEvent, 0, len(events))
	for _, event := range events {
		if filter.Matches(event) {
			matched = append(matched, event)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

func (s *timelineService) Subscribe(filter TimelineFilter) (<-chan models.TimelineEvent, func()) {
	channel := make(chan models.TimelineEvent, timelineBufferSize)

	s.broker.subscribe(channel, filter)
	observability.TimelineClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(channel)
			observability.TimelineClients().Dec()
		})
	}

	return channel, cleanup
}

func (s *timelineService) publish(ctx context.Context, event models.TimelineEvent) error {
	if (s.redis == nil || s.redisChannel == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	payload, err := json.Marshal(timelineEnvelope{
		Source: s.nodeID,
		Event:  event,
		SentAt: s.now().UTC(),
	})
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *timelineService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("timeline redis subscription closed")
			return
		}
		s.handleEnvelope([]byte(msg.Payload))
	}
}

func (s *timelineService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEnvelope(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats timeline subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain timeline nats subscription")
		}
	}()
}

// handleEnvelope relays events emitted by other nodes to local subscribers.
func (s *timelineService) handleEnvelope(payload []byte) {
	var envelope timelineEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid timeline event payload")
		return
	}
	if envelope.Source == s.nodeID {
		return
	}
	s.broker.broadcast(envelope.Event)
}

func (b *timelineBroker) subscribe(ch chan models.TimelineEvent, filter TimelineFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = filter
}

func (b *timelineBroker) unsubscribe(ch chan models.TimelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// broadcast never blocks; slow subscribers miss events.
func (b *timelineBroker) broadcast(event models.TimelineEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if !filter.Matches(event) {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}
