package reliability

import (
	"context"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"
	"comlink/pkg/circuitbreaker"
	"comlink/pkg/retry"

	"go.uber.org/zap"
)

// AlertRepositoryWrapper guards the alert archive with retries and a circuit
// breaker. The archive sits on the relay's hot path, so a Redis outage must
// degrade to dropped archive writes instead of stalled signaling.
type AlertRepositoryWrapper struct {
	repo   ports.AlertRepository
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewAlertRepositoryWrapper(
	repo ports.AlertRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *AlertRepositoryWrapper {
	wrapper := &AlertRepositoryWrapper{
		repo:           repo,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("alert archive circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

func (w *AlertRepositoryWrapper) Append(ctx context.Context, room domain.RoomID, alert domain.Alert) error {
	return w.circuitBreaker.Execute(ctx, func() error {
		if !w.retryConfig.Enabled {
			return w.repo.Append(ctx, room, alert)
		}
		return retry.Retry(ctx, w.retryConfig, func() error {
			return w.repo.Append(ctx, room, alert)
		})
	})
}

func (w *AlertRepositoryWrapper) History(ctx context.Context, room domain.RoomID, limit int) ([]domain.Alert, error) {
	var alerts []domain.Alert
	err := w.circuitBreaker.Execute(ctx, func() error {
		var innerErr error
		if !w.retryConfig.Enabled {
			alerts, innerErr = w.repo.History(ctx, room, limit)
			return innerErr
		}
		return retry.Retry(ctx, w.retryConfig, func() error {
			alerts, innerErr = w.repo.History(ctx, room, limit)
			return innerErr
		})
	})
	return alerts, err
}
