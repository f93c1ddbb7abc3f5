package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
	"github.com/Al7ech/binance-trade-notipi/internal/observability"
)

var testPayload = domain.NotificationPayload{
	Title:   "🔴 Binance trade detection",
	Content: "BTC: 0.500 (+0.500) @ 100.00\nUSDT: 950.00 (▼ 50.00, 5.00%)",
}

func TestHTTPNotifier_Deliver(t *testing.T) {
	var (
		got      domain.NotificationPayload
		user, pw string
		authOK   bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		user, pw, authOK = r.BasicAuth()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewHTTPNotifier(srv.URL, "alice", "secret", time.Second).Deliver(context.Background(), testPayload)
	require.NoError(t, err)

	assert.Equal(t, testPayload, got)
	require.True(t, authOK)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "secret", pw)
}

func TestHTTPNotifier_NoAuthWithoutPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.False(t, ok)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewHTTPNotifier(srv.URL, "alice", "", time.Second).Deliver(context.Background(), testPayload)
	require.NoError(t, err)
}

func TestHTTPNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewHTTPNotifier(srv.URL, "", "", time.Second).Deliver(context.Background(), testPayload)
	require.Error(t, err)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, http.StatusUnauthorized, deliveryErr.StatusCode)
}

func TestHTTPNotifier_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewHTTPNotifier(srv.URL, "", "", 50*time.Millisecond).Deliver(context.Background(), testPayload)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var deliveryErr *DeliveryError
	assert.True(t, errors.As(err, &deliveryErr))
}

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) Deliver(ctx context.Context, payload domain.NotificationPayload) error {
	return m.Called(ctx, payload).Error(0)
}

func TestDispatcher_Dispatch(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	deliverer := &mockDeliverer{}
	deliverer.On("Deliver", mock.Anything, testPayload).Return(nil).Once()
	deliverer.On("Deliver", mock.Anything, domain.NotificationPayload{Title: "t"}).Return(errors.New("boom")).Once()

	d := NewDispatcher(zap.NewNop(), deliverer, time.Second, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, testPayload)
	d.Dispatch(ctx, domain.NotificationPayload{Title: "t"})
	cancel()
	d.Wait()

	deliverer.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues(observability.DeliveryOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues(observability.DeliveryFailed)))
}

type blockingDeliverer struct {
	started chan struct{}
}

func (b *blockingDeliverer) Deliver(ctx context.Context, _ domain.NotificationPayload) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcher_DoesNotBlockAndHonoursTimeout(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	deliverer := &blockingDeliverer{started: make(chan struct{})}
	d := NewDispatcher(zap.NewNop(), deliverer, 30*time.Millisecond, metrics)

	start := time.Now()
	d.Dispatch(context.Background(), testPayload)
	assert.Less(t, time.Since(start), 20*time.Millisecond, "dispatch must not wait for delivery")

	<-deliverer.started
	d.Wait()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues(observability.DeliveryFailed)))
}
