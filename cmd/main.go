// Command notipi watches a Binance futures account and posts a notification
// to an HTTP endpoint whenever an order on the configured symbol is filled.
//
// Usage:
//
//	notipi                      (settings from the environment and .env)
//	notipi --config notipi.yaml (yaml settings, environment wins)
//
// Required settings:
//
//	API_KEY, API_SECRET, ASSET, SYMBOL, ENDPOINT
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Al7ech/binance-trade-notipi/config"
	"github.com/Al7ech/binance-trade-notipi/internal"
	"github.com/Al7ech/binance-trade-notipi/internal/clients"
	"github.com/Al7ech/binance-trade-notipi/internal/events"
	"github.com/Al7ech/binance-trade-notipi/internal/logging"
	"github.com/Al7ech/binance-trade-notipi/internal/observability"
	"github.com/Al7ech/binance-trade-notipi/internal/services/classifier"
	"github.com/Al7ech/binance-trade-notipi/internal/services/notifier"
	"github.com/Al7ech/binance-trade-notipi/internal/services/reconciler"
	"github.com/Al7ech/binance-trade-notipi/internal/services/snapshot"
	"github.com/Al7ech/binance-trade-notipi/internal/web"
	"github.com/Al7ech/binance-trade-notipi/pkg/retrier"
)

func main() {
	conf, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(logging.Config{Level: conf.LogLevel, File: conf.LogFile})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("asset", conf.Asset), zap.String("symbol", conf.Symbol))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	fills := events.NewFillBroadcaster(64, metrics.FillsDropped)
	dispatcher := notifier.NewDispatcher(
		logger,
		notifier.NewHTTPNotifier(conf.Endpoint, conf.Username, conf.Password, conf.DeliveryTimeout),
		conf.DeliveryTimeout,
		metrics,
	)

	factory := clients.NewBinanceSessionFactory(logger, conf.APIKey, conf.APISecret, conf.Testnet)
	opener := internal.OpenerFunc(func(ctx context.Context) (internal.Session, error) {
		session, err := factory.Open(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	})

	watcher := internal.NewWatcher(
		logger,
		opener,
		snapshot.NewLoader(logger, conf.Asset, conf.Symbol),
		classifier.New(conf.Asset, conf.Symbol),
		reconciler.New(logger, conf.Asset, conf.Symbol, dispatcher, fills, metrics),
		restartPolicy(conf),
		metrics,
	)

	logger.Info("starting account watcher",
		zap.Bool("testnet", conf.Testnet),
		zap.String("endpoint", conf.Endpoint),
		zap.Bool("basic_auth", conf.BasicAuth()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	if conf.StatusAddr != "" {
		server := web.NewServer(logger, conf.StatusAddr, watcher, fills, registry)
		g.Go(func() error {
			// status server errors never stop the watcher
			if err := server.Start(gctx); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("account watcher stopped", zap.Error(err))
	}

	dispatcher.Wait()
	logger.Info("account watcher stopped")
}

func restartPolicy(conf config.Config) internal.RestartPolicy {
	if conf.ReconnectMaxDelay == 0 {
		return internal.ImmediateRestart
	}
	return retrier.New(
		retrier.WithInitialInterval(conf.ReconnectInitialDelay),
		retrier.WithMaxInterval(conf.ReconnectMaxDelay),
	)
}
