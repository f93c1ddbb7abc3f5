package notifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
	"github.com/Al7ech/binance-trade-notipi/internal/observability"
)

type deliverer interface {
	Deliver(ctx context.Context, payload domain.NotificationPayload) error
}

// Dispatcher delivers notifications in the background so a slow endpoint
// never stalls stream consumption.
type Dispatcher struct {
	logger    *zap.Logger
	deliverer deliverer
	timeout   time.Duration
	metrics   *observability.Metrics
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher abandoning each delivery after timeout.
func NewDispatcher(logger *zap.Logger, deliverer deliverer, timeout time.Duration, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		logger:    logger,
		deliverer: deliverer,
		timeout:   timeout,
		metrics:   metrics,
	}
}

// Dispatch starts delivering payload and returns immediately. Cancelling ctx
// does not abort a delivery in flight; only the timeout does.
func (d *Dispatcher) Dispatch(ctx context.Context, payload domain.NotificationPayload) {
	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		if err := d.deliverer.Deliver(deliveryCtx, payload); err != nil {
			d.metrics.Deliveries.WithLabelValues(observability.DeliveryFailed).Inc()
			d.logger.Error("notification lost",
				zap.String("title", payload.Title),
				zap.Duration("timeout", d.timeout),
				zap.Error(err))
			return
		}

		d.metrics.Deliveries.WithLabelValues(observability.DeliveryOK).Inc()
		d.logger.Debug("notification delivered", zap.String("title", payload.Title))
	}()
}

// Wait blocks until all dispatched deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
