// Package reconciler keeps the previous and current account state and turns
// fills of the watched symbol into notifications.
package reconciler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
	"github.com/Al7ech/binance-trade-notipi/internal/observability"
)

type dispatcher interface {
	Dispatch(ctx context.Context, payload domain.NotificationPayload)
}

type fillPublisher interface {
	Publish(fill domain.Fill)
}

// Reconciler owns the account state. It is not safe for concurrent use: all
// calls are expected from the single goroutine consuming the event stream.
type Reconciler struct {
	logger     *zap.Logger
	asset      string
	symbol     string
	dispatcher dispatcher
	publisher  fillPublisher
	metrics    *observability.Metrics
	now        func() time.Time

	// ready is also read by health checks from other goroutines
	ready    atomic.Bool
	previous domain.AccountState
	current  domain.AccountState
}

// New creates a Reconciler for the given asset and symbol. publisher may be nil.
func New(
	logger *zap.Logger,
	asset, symbol string,
	dispatcher dispatcher,
	publisher fillPublisher,
	metrics *observability.Metrics,
) *Reconciler {
	return &Reconciler{
		logger:     logger.With(zap.String("asset", asset), zap.String("symbol", symbol)),
		asset:      asset,
		symbol:     symbol,
		dispatcher: dispatcher,
		publisher:  publisher,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Reset sets both previous and current state to the snapshot.
func (r *Reconciler) Reset(snapshot domain.AccountState) {
	r.previous = snapshot
	r.current = snapshot
	r.ready.Store(true)
	r.observeState()

	r.logger.Info("account state loaded",
		zap.String("balance", snapshot.Balance.String()),
		zap.String("position", snapshot.Position.String()))
}

// Discard drops the in-memory state; updates are ignored until the next Reset.
func (r *Reconciler) Discard() {
	r.ready.Store(false)
	r.previous = domain.AccountState{}
	r.current = domain.AccountState{}
}

// Ready reports whether a snapshot has been loaded since the last Discard.
func (r *Reconciler) Ready() bool {
	return r.ready.Load()
}

// State returns copies of the previous and current state.
func (r *Reconciler) State() (previous, current domain.AccountState) {
	return r.previous, r.current
}

// ApplyAccountUpdate overwrites the current balance and position with the derived values of the update.
func (r *Reconciler) ApplyAccountUpdate(update domain.AccountUpdate) {
	if !r.ready.Load() {
		return
	}
	if update.Balance != nil {
		r.current.Balance = update.Balance.WalletBalance
	}
	if update.Position != nil {
		r.current.Position = update.Position.PositionAmount
	}
	r.observeState()
}

// ApplyOrderUpdate dispatches a notification when the update is a fill of the watched symbol.
// It reports the payload and whether one was produced. After a dispatch previous equals current,
// whatever the outcome of the delivery.
func (r *Reconciler) ApplyOrderUpdate(ctx context.Context, update domain.OrderUpdate) (domain.NotificationPayload, bool) {
	if !r.ready.Load() || !update.IsFillOf(r.symbol) {
		return domain.NotificationPayload{}, false
	}

	prev, cur := r.previous, r.current
	payload := FormatPayload(r.asset, r.symbol, prev, cur, update.AveragePrice)

	r.logger.Info("fill detected",
		zap.Int64("order_id", update.OrderID),
		zap.String("side", update.Side),
		zap.String("average_price", update.AveragePrice.String()),
		zap.String("direction", domain.DirectionBetween(prev, cur).String()),
		zap.String("title", payload.Title),
		zap.String("content", payload.Content))

	r.dispatcher.Dispatch(ctx, payload)
	if r.publisher != nil {
		r.publisher.Publish(domain.Fill{
			Time:         r.now(),
			Symbol:       r.symbol,
			AveragePrice: update.AveragePrice,
			Previous:     prev,
			Current:      cur,
			Payload:      payload,
		})
	}
	r.metrics.Fills.Inc()

	r.previous = cur

	return payload, true
}

func (r *Reconciler) observeState() {
	r.metrics.WalletBalance.Set(r.current.Balance.InexactFloat64())
	r.metrics.PositionAmount.Set(r.current.Position.InexactFloat64())
}
