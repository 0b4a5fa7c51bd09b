package distributed

import (
	"context"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/batch"

	"go.uber.org/zap"
)

// BatchPublisher is the sink a BatchedPublisher flushes to.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []domain.RoomEvent) error
}

// BatchedPublisher queues room events and publishes them in batches, so a
// burst of joins and closes costs one round trip instead of one each.
type BatchedPublisher struct {
	batcher *batch.Batcher[domain.RoomEvent]
}

var _ ports.RoomEventPublisher = (*BatchedPublisher)(nil)

func NewBatchedPublisher(sink BatchPublisher, size int, interval time.Duration, logger *zap.SugaredLogger) *BatchedPublisher {
	b := batch.New(size, interval, sink.PublishBatch)
	b.OnError(func(err error, dropped int) {
		logger.Warnw("failed to publish room events", "dropped", dropped, "error", err)
	})
	return &BatchedPublisher{batcher: b}
}

// PublishRoomEvent queues event. It never blocks on the network.
func (p *BatchedPublisher) PublishRoomEvent(_ context.Context, event domain.RoomEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !p.batcher.Add(event) {
		return errPublisherStopped
	}
	return nil
}

// Stop publishes whatever is still queued.
func (p *BatchedPublisher) Stop() {
	p.batcher.Stop()
}
