package reliability

import (
	"context"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/circuitbreaker"
	"roomrelay/pkg/retry"

	"go.uber.org/zap"
)

// CommentRepositoryWrapper adds retry and a circuit breaker around a
// comment store. While the breaker is open calls fail fast, which the
// registry reports as a persistence failure without holding up delivery.
type CommentRepositoryWrapper struct {
	repo    ports.CommentRepository
	logger  *zap.SugaredLogger
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
}

func NewCommentRepositoryWrapper(
	repo ports.CommentRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *CommentRepositoryWrapper {
	// An open breaker and a caller timeout are final; retrying them only
	// delays the error.
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors,
		circuitbreaker.ErrOpen, context.Canceled, context.DeadlineExceeded)

	w := &CommentRepositoryWrapper{
		repo:    repo,
		logger:  logger,
		retry:   retryConfig,
		breaker: circuitbreaker.New(cbConfig),
	}

	w.ObserveBreaker(nil)
	return w
}

// ObserveBreaker logs breaker transitions and, when fn is non-nil, reports
// each new state to it.
func (w *CommentRepositoryWrapper) ObserveBreaker(fn func(state circuitbreaker.State)) {
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		w.logger.Warnw("comment store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
		if fn != nil {
			fn(to)
		}
	})
}

func (w *CommentRepositoryWrapper) AppendComment(ctx context.Context, roomID domain.RoomID, comment domain.Comment) error {
	return retry.Retry(ctx, w.retry, func() error {
		return w.breaker.Execute(ctx, func() error {
			return w.repo.AppendComment(ctx, roomID, comment)
		})
	})
}

func (w *CommentRepositoryWrapper) LoadComments(ctx context.Context, roomID domain.RoomID) ([]domain.Comment, error) {
	return retry.RetryWithResult(ctx, w.retry, func() ([]domain.Comment, error) {
		return circuitbreaker.ExecuteWithResult(ctx, w.breaker, func() ([]domain.Comment, error) {
			return w.repo.LoadComments(ctx, roomID)
		})
	})
}

// BreakerState exposes the breaker state for health checks.
func (w *CommentRepositoryWrapper) BreakerState() circuitbreaker.State {
	return w.breaker.GetState()
}
