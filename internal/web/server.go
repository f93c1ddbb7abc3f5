package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
)

const heartbeatInterval = 30 * time.Second

type statusReader interface {
	Status() string
	Streaming() bool
}

type fillSubscriber interface {
	Subscribe() (chan domain.Fill, int)
	Unsubscribe(ch chan domain.Fill)
}

// Server exposes watcher health, an SSE stream of detected fills and prometheus metrics.
type Server struct {
	Addr     string
	Status   statusReader
	Fills    fillSubscriber
	Gatherer prometheus.Gatherer

	logger *zap.Logger
}

// NewServer creates a new status server instance.
func NewServer(logger *zap.Logger, addr string, status statusReader, fills fillSubscriber, gatherer prometheus.Gatherer) *Server {
	return &Server{
		Addr:     addr,
		Status:   status,
		Fills:    fills,
		Gatherer: gatherer,
		logger:   logger,
	}
}

// Handler returns the routes served by the status server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/state/stream", s.handleFillStream)
	mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status server failed")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.Status.Streaming() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"state": s.Status.Status()})
}

func (s *Server) handleFillStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	fills, subscribers := s.Fills.Subscribe()
	defer s.Fills.Unsubscribe(fills)
	s.logger.Debug("fill stream subscribed", zap.Int("subscribers", subscribers))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case fill, ok := <-fills:
			if !ok {
				return
			}
			payload, err := json.Marshal(fill)
			if err != nil {
				s.logger.Warn("failed to encode fill", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: fill\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
