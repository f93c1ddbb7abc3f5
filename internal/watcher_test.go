package internal

import (
	"context"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Al7ech/binance-trade-notipi/internal/clients"
	"github.com/Al7ech/binance-trade-notipi/internal/domain"
	"github.com/Al7ech/binance-trade-notipi/internal/observability"
	"github.com/Al7ech/binance-trade-notipi/internal/services/classifier"
	"github.com/Al7ech/binance-trade-notipi/internal/services/reconciler"
	"github.com/Al7ech/binance-trade-notipi/internal/services/snapshot"
)

const (
	testAsset  = "USDT"
	testSymbol = "BTCUSDT"
)

var errConnReset = errors.New("connection reset by peer")

type fakeStream struct {
	frames []string
	// block waits for ctx instead of failing once frames are exhausted
	block bool
}

func (s *fakeStream) Recv(ctx context.Context) ([]byte, error) {
	if len(s.frames) > 0 {
		frame := s.frames[0]
		s.frames = s.frames[1:]
		return []byte(frame), nil
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, errConnReset
}

type fakeSession struct {
	account    *futures.Account
	accountErr error
	stream     *fakeStream
	streamErr  error
	closed     int
}

func (s *fakeSession) AccountSummary(context.Context) (*futures.Account, error) {
	return s.account, s.accountErr
}

func (s *fakeSession) Stream(context.Context) (clients.Stream, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	return s.stream, nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type openStep struct {
	session *fakeSession
	err     error
}

// scriptedOpener replays steps and cancels the run once they are exhausted.
type scriptedOpener struct {
	steps  []openStep
	cancel context.CancelFunc
	opened int
}

func (o *scriptedOpener) Open(context.Context) (Session, error) {
	o.opened++
	if len(o.steps) == 0 {
		o.cancel()
		return nil, errors.New("no more sessions")
	}
	step := o.steps[0]
	o.steps = o.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return step.session, nil
}

type recordingPolicy struct {
	attempts []int
}

func (p *recordingPolicy) Wait(ctx context.Context, attempt int) error {
	p.attempts = append(p.attempts, attempt)
	return ctx.Err()
}

type recordingDispatcher struct {
	payloads []domain.NotificationPayload
}

func (d *recordingDispatcher) Dispatch(_ context.Context, payload domain.NotificationPayload) {
	d.payloads = append(d.payloads, payload)
}

func account(balance, position string) *futures.Account {
	return &futures.Account{
		Assets: []*futures.AccountAsset{
			{Asset: "BNB", WalletBalance: "1"},
			{Asset: testAsset, WalletBalance: balance},
		},
		Positions: []*futures.AccountPosition{
			{Symbol: "ETHUSDT", PositionAmt: "3"},
			{Symbol: testSymbol, PositionAmt: position},
		},
	}
}

func accountUpdateFrame(balance, position string) string {
	return `{"e":"ACCOUNT_UPDATE","E":1,"a":{"m":"ORDER","B":[{"a":"USDT","wb":"` + balance +
		`","cw":"0"}],"P":[{"s":"BTCUSDT","pa":"` + position + `","ep":"0"}]}}`
}

func fillFrame(price string) string {
	return `{"e":"ORDER_TRADE_UPDATE","E":2,"o":{"s":"BTCUSDT","c":"web_1","S":"BUY","x":"TRADE","X":"FILLED","i":42,"ap":"` +
		price + `"}}`
}

type watcherFixture struct {
	watcher    *Watcher
	reconciler *reconciler.Reconciler
	dispatcher *recordingDispatcher
	metrics    *observability.Metrics
}

func newWatcherFixture(opener SessionOpener, policy RestartPolicy) watcherFixture {
	logger := zap.NewNop()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	dispatcher := &recordingDispatcher{}
	rec := reconciler.New(logger, testAsset, testSymbol, dispatcher, nil, metrics)

	w := NewWatcher(
		logger,
		opener,
		snapshot.NewLoader(logger, testAsset, testSymbol),
		classifier.New(testAsset, testSymbol),
		rec,
		policy,
		metrics,
	)
	return watcherFixture{watcher: w, reconciler: rec, dispatcher: dispatcher, metrics: metrics}
}

func TestWatcher_RestartReloadsSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &fakeSession{
		account: account("1000", "0"),
		stream:  &fakeStream{frames: []string{accountUpdateFrame("950", "0.5")}},
	}
	second := &fakeSession{
		account: account("900", "0.2"),
		stream: &fakeStream{frames: []string{
			accountUpdateFrame("880", "0.3"),
			fillFrame("100"),
		}},
	}
	opener := &scriptedOpener{steps: []openStep{{session: first}, {session: second}}, cancel: cancel}
	f := newWatcherFixture(opener, nil)

	err := f.watcher.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, f.dispatcher.payloads, 1)
	assert.Equal(t, "🔴 Binance trade detection", f.dispatcher.payloads[0].Title)
	assert.Equal(t, "BTC: 0.300 (+0.100) @ 100.00\nUSDT: 880.00 (▼ 20.00, 2.22%)", f.dispatcher.payloads[0].Content)

	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, second.closed)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.SessionsStarted))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SessionFailures.WithLabelValues(observability.ReasonStream)))
	assert.Equal(t, StateRecovering, f.watcher.State())
}

func TestWatcher_ClassificationErrorDoesNotRestart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &fakeSession{
		account: account("1000", "0"),
		stream: &fakeStream{frames: []string{
			`{"e":"ACCOUNT_UPDATE"`,
			`{"e":"ORDER_TRADE_UPDATE","o":{"X":"FILLED"}}`,
			accountUpdateFrame("1010", "-0.1"),
			`{"e":"MARGIN_CALL","cw":"1"}`,
			fillFrame("20000"),
		}},
	}
	opener := &scriptedOpener{steps: []openStep{{session: session}}, cancel: cancel}
	f := newWatcherFixture(opener, nil)

	require.ErrorIs(t, f.watcher.Run(ctx), context.Canceled)

	require.Len(t, f.dispatcher.payloads, 1)
	assert.Equal(t, "BTC: -0.100 (-0.100) @ 20000.00\nUSDT: 1010.00 (▲ 10.00, 1.00%)", f.dispatcher.payloads[0].Content)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ClassificationErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesReceived.WithLabelValues(classifier.KindUnrecognized.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SessionsStarted))
}

func TestWatcher_SnapshotErrorRestarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broken := &fakeSession{accountErr: errors.New("code=-1021, msg=Timestamp outside recvWindow")}
	healthy := &fakeSession{
		account: account("500", "0"),
		stream:  &fakeStream{frames: []string{accountUpdateFrame("400", "1"), fillFrame("100")}},
	}
	opener := &scriptedOpener{steps: []openStep{{session: broken}, {session: healthy}}, cancel: cancel}
	f := newWatcherFixture(opener, nil)

	require.ErrorIs(t, f.watcher.Run(ctx), context.Canceled)

	assert.Equal(t, 1, broken.closed)
	require.Len(t, f.dispatcher.payloads, 1)
	assert.Equal(t, "BTC: 1.000 (+1.000) @ 100.00\nUSDT: 400.00 (▼ 100.00, 20.00%)", f.dispatcher.payloads[0].Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionFailures.WithLabelValues(observability.ReasonSnapshot)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionFailures.WithLabelValues(observability.ReasonStream)))
}

func TestWatcher_ListenKeyExpiredRestarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &fakeStream{frames: []string{
		`{"e":"listenKeyExpired","E":"1736996475556","listenKey":"abc"}`,
		fillFrame("1"),
	}}
	session := &fakeSession{account: account("1", "0"), stream: stream}
	opener := &scriptedOpener{steps: []openStep{{session: session}}, cancel: cancel}
	f := newWatcherFixture(opener, nil)

	require.ErrorIs(t, f.watcher.Run(ctx), context.Canceled)

	assert.Len(t, stream.frames, 1, "frames after expiry must not be consumed")
	assert.Empty(t, f.dispatcher.payloads)
	assert.Equal(t, 1, session.closed)
}

func TestWatcher_RestartPolicyAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opener := &scriptedOpener{
		steps: []openStep{
			{err: errors.New("dial tcp: i/o timeout")},
			{session: &fakeSession{accountErr: errors.New("503")}},
			{session: &fakeSession{account: account("1", "0"), stream: &fakeStream{frames: []string{`{"e":"MARGIN_CALL"}`}}}},
			{session: &fakeSession{account: account("1", "0"), streamErr: errors.New("bad handshake")}},
		},
		cancel: cancel,
	}
	policy := &recordingPolicy{}
	f := newWatcherFixture(opener, policy)

	require.ErrorIs(t, f.watcher.Run(ctx), context.Canceled)

	assert.Equal(t, []int{1, 2, 1, 2}, policy.attempts)
	assert.Equal(t, 5, opener.opened)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionFailures.WithLabelValues(observability.ReasonOpen)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionFailures.WithLabelValues(observability.ReasonSnapshot)))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SessionFailures.WithLabelValues(observability.ReasonStream)))
}

func TestWatcher_StopsOnCancelWhileStreaming(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &fakeSession{account: account("1", "0"), stream: &fakeStream{block: true}}
	opener := &scriptedOpener{steps: []openStep{{session: session}}, cancel: cancel}
	f := newWatcherFixture(opener, nil)

	done := make(chan error, 1)
	go func() {
		done <- f.watcher.Run(ctx)
	}()

	require.Eventually(t, f.watcher.Streaming, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "STREAMING", f.watcher.Status())
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.Equal(t, 1, session.closed)
	assert.False(t, f.watcher.Streaming())
	assert.Zero(t, testutil.ToFloat64(f.metrics.SessionFailures.WithLabelValues(observability.ReasonStream)))
}

func TestStreamError_Unwrap(t *testing.T) {
	err := &StreamError{Op: "recv", Err: ErrListenKeyExpired}
	assert.ErrorIs(t, err, ErrListenKeyExpired)
	assert.Equal(t, "stream recv: listen key expired", err.Error())
	assert.Equal(t, observability.ReasonStream, failureReason(err))
	assert.Equal(t, observability.ReasonOpen, failureReason(&StreamError{Op: "open", Err: errConnReset}))
}

func TestWatcher_StreamingRequiresLoadedSnapshot(t *testing.T) {
	f := newWatcherFixture(&scriptedOpener{cancel: func() {}}, nil)

	f.watcher.setState(StateStreaming)
	assert.False(t, f.watcher.Streaming(), "no snapshot loaded yet")

	f.reconciler.Reset(domain.NewAccountState(decimal.NewFromInt(10), decimal.Zero))
	assert.True(t, f.watcher.Streaming())

	f.reconciler.Discard()
	assert.False(t, f.watcher.Streaming())
	assert.Equal(t, "STREAMING", f.watcher.Status())
}
