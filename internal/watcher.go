package internal

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Al7ech/binance-trade-notipi/internal/clients"
	"github.com/Al7ech/binance-trade-notipi/internal/observability"
	"github.com/Al7ech/binance-trade-notipi/internal/services/classifier"
	"github.com/Al7ech/binance-trade-notipi/internal/services/reconciler"
	"github.com/Al7ech/binance-trade-notipi/internal/services/snapshot"
)

// State of the watcher supervisor.
type State int32

const (
	StateStarting State = iota
	StateStreaming
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateStreaming:
		return "STREAMING"
	case StateRecovering:
		return "RECOVERING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrListenKeyExpired is reported when binance announces the end of the user data stream.
var ErrListenKeyExpired = errors.New("listen key expired")

// StreamError is returned when a session cannot be opened or its stream breaks.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Session is an authenticated connection to the futures account.
type Session interface {
	AccountSummary(ctx context.Context) (*futures.Account, error)
	Stream(ctx context.Context) (clients.Stream, error)
	Close() error
}

// SessionOpener opens a new Session.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc adapts a function to SessionOpener.
type OpenerFunc func(ctx context.Context) (Session, error)

func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// RestartPolicy decides how long to pause before the given restart attempt.
// attempt counts consecutive failed sessions, starting at 1.
type RestartPolicy interface {
	Wait(ctx context.Context, attempt int) error
}

type immediateRestart struct{}

func (immediateRestart) Wait(ctx context.Context, _ int) error {
	return ctx.Err()
}

// ImmediateRestart restarts a failed session without pausing.
var ImmediateRestart RestartPolicy = immediateRestart{}

// Watcher supervises account sessions: snapshot, stream, and a fresh start
// from a new snapshot whenever the stream breaks.
type Watcher struct {
	logger     *zap.Logger
	opener     SessionOpener
	loader     *snapshot.Loader
	classifier *classifier.Classifier
	reconciler *reconciler.Reconciler
	policy     RestartPolicy
	metrics    *observability.Metrics

	state atomic.Int32
}

// NewWatcher creates a Watcher. A nil policy restarts immediately.
func NewWatcher(
	logger *zap.Logger,
	opener SessionOpener,
	loader *snapshot.Loader,
	classifier *classifier.Classifier,
	reconciler *reconciler.Reconciler,
	policy RestartPolicy,
	metrics *observability.Metrics,
) *Watcher {
	if policy == nil {
		policy = ImmediateRestart
	}
	return &Watcher{
		logger:     logger,
		opener:     opener,
		loader:     loader,
		classifier: classifier,
		reconciler: reconciler,
		policy:     policy,
		metrics:    metrics,
	}
}

// State returns the current supervisor state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Status returns the current supervisor state name.
func (w *Watcher) Status() string {
	return w.State().String()
}

// Streaming reports whether a session is consuming the stream on top of a loaded snapshot.
func (w *Watcher) Streaming() bool {
	return w.State() == StateStreaming && w.reconciler.Ready()
}

func (w *Watcher) setState(s State) {
	w.state.Store(int32(s))
}

// Run supervises sessions until ctx is cancelled and then returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	attempt := 0
	for {
		received, err := w.runSession(ctx)
		w.setState(StateRecovering)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if received {
			attempt = 0
		}
		attempt++

		w.metrics.SessionFailures.WithLabelValues(failureReason(err)).Inc()
		w.logger.Error("session ended, restarting",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if werr := w.policy.Wait(ctx, attempt); werr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("restart policy failed", zap.Error(werr))
		}
	}
}

// runSession runs one session to its end. received reports whether the stream
// delivered at least one frame.
func (w *Watcher) runSession(ctx context.Context) (received bool, err error) {
	logger := w.logger.With(zap.String("session", uuid.NewString()))
	w.setState(StateStarting)
	w.metrics.SessionsStarted.Inc()
	logger.Info("session starting", zap.String("state", StateStarting.String()))

	session, err := w.opener.Open(ctx)
	if err != nil {
		return false, &StreamError{Op: "open", Err: err}
	}
	defer func() {
		w.reconciler.Discard()
		if cerr := session.Close(); cerr != nil {
			logger.Debug("failed to close session", zap.Error(cerr))
		}
		logger.Info("session stopped")
	}()

	snap, err := w.loader.Load(ctx, session)
	if err != nil {
		return false, err
	}
	w.reconciler.Reset(snap)

	stream, err := session.Stream(ctx)
	if err != nil {
		return false, &StreamError{Op: "dial", Err: err}
	}

	w.setState(StateStreaming)
	logger.Info("streaming account events",
		zap.String("state", StateStreaming.String()),
		zap.Stringer("snapshot", snap))

	for {
		raw, err := stream.Recv(ctx)
		if err != nil {
			return received, &StreamError{Op: "recv", Err: err}
		}
		received = true

		ev, err := w.classifier.Classify(raw)
		if err != nil {
			w.metrics.ClassificationErrors.Inc()
			logger.Warn("skipping malformed message", zap.Error(err))
			continue
		}
		w.metrics.MessagesReceived.WithLabelValues(ev.Kind.String()).Inc()

		switch ev.Kind {
		case classifier.KindAccountUpdate:
			w.reconciler.ApplyAccountUpdate(ev.Account)
		case classifier.KindOrderUpdate:
			w.reconciler.ApplyOrderUpdate(ctx, ev.Order)
		case classifier.KindStreamExpired:
			return received, &StreamError{Op: "recv", Err: ErrListenKeyExpired}
		default:
			logger.Debug("ignoring event", zap.String("event", ev.Type))
		}
	}
}

func failureReason(err error) string {
	var snapErr *snapshot.Error
	if errors.As(err, &snapErr) {
		return observability.ReasonSnapshot
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) && streamErr.Op == "open" {
		return observability.ReasonOpen
	}
	return observability.ReasonStream
}
