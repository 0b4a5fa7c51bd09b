package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "roomrelay:events"

var (
	ErrAlreadySubscribed = errors.New("already subscribed")
	errPublisherStopped  = errors.New("event publisher stopped")
)

// EventBus publishes room lifecycle events on a redis channel and delivers
// events published by other relay instances.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ ports.RoomEventPublisher = (*EventBus)(nil)

func NewEventBus(
	client *redis.Client,
	instanceID string,
	channel string,
	logger *zap.SugaredLogger,
) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

func (eb *EventBus) InstanceID() string {
	return eb.instanceID
}

// PublishRoomEvent stamps event with this instance and publishes it.
func (eb *EventBus) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	data, err := eb.marshal(event)
	if err != nil {
		return err
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published room event",
		"type", event.Type,
		"room_id", event.RoomID,
	)
	return nil
}

// PublishBatch publishes events in order over one pipelined round trip.
func (eb *EventBus) PublishBatch(ctx context.Context, events []domain.RoomEvent) error {
	if len(events) == 0 {
		return nil
	}

	payloads := make([][]byte, 0, len(events))
	for _, event := range events {
		data, err := eb.marshal(event)
		if err != nil {
			return err
		}
		payloads = append(payloads, data)
	}

	_, err := eb.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, data := range payloads {
			pipe.Publish(ctx, eb.channel, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(events), err)
	}

	eb.logger.Debugw("published room events", "count", len(events))
	return nil
}

func (eb *EventBus) marshal(event domain.RoomEvent) ([]byte, error) {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// Subscribe blocks, calling handler for every event from another instance,
// until ctx ends. It returns nil on cancellation.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(domain.RoomEvent) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return ErrAlreadySubscribed
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Listen keeps a subscription open until ctx ends. Redis errors are logged
// and the subscription is retried with backoff; once backoff gives up,
// Listen waits backoff.MaxDelay and starts over.
func (eb *EventBus) Listen(ctx context.Context, backoff retry.Config, handler func(domain.RoomEvent) error) {
	backoff.Enabled = true
	backoff.NonRetryableErrors = append(backoff.NonRetryableErrors, ErrAlreadySubscribed)

	for ctx.Err() == nil {
		err := retry.Retry(ctx, backoff, func() error {
			err := eb.Subscribe(ctx, handler)
			if err != nil && ctx.Err() == nil {
				eb.logger.Warnw("room event subscription failed", "channel", eb.channel, "error", err)
			}
			return err
		})
		switch {
		case err == nil, ctx.Err() != nil:
			return
		case errors.Is(err, ErrAlreadySubscribed):
			eb.logger.Errorw("room event listener already running", "channel", eb.channel)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.MaxDelay):
		}
	}
}

// LogRemoteEvent is a Subscribe handler that records remote room activity.
func (eb *EventBus) LogRemoteEvent(event domain.RoomEvent) error {
	eb.logger.Infow("remote room event",
		"type", event.Type,
		"room_id", event.RoomID,
		"instance_id", event.InstanceID,
	)
	return nil
}
