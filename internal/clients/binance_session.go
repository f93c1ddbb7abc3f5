package clients

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Al7ech/binance-trade-notipi/pkg/retrier"
)

const (
	futuresStreamBaseURL        = "wss://fstream.binance.com/ws/"
	futuresTestnetStreamBaseURL = "wss://stream.binancefuture.com/ws/"

	listenKeyKeepaliveInterval = 30 * time.Minute
	streamReadTimeout          = 10 * time.Minute
	controlWriteTimeout        = 10 * time.Second
	listenKeyCloseTimeout      = 5 * time.Second
)

// Stream yields raw user-data frames in arrival order.
type Stream interface {
	Recv(ctx context.Context) ([]byte, error)
}

// BinanceSessionFactory opens authenticated futures sessions.
type BinanceSessionFactory struct {
	logger    *zap.Logger
	apiKey    string
	apiSecret string
	testnet   bool
	retrier   *retrier.Retrier
}

// NewBinanceSessionFactory creates a factory for mainnet or testnet sessions.
func NewBinanceSessionFactory(logger *zap.Logger, apiKey, apiSecret string, testnet bool) *BinanceSessionFactory {
	return &BinanceSessionFactory{
		logger:    logger,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		testnet:   testnet,
		retrier:   retrier.New(retrier.WithMaxRetries(3)),
	}
}

// Open creates a futures client and checks connectivity with a ping.
func (f *BinanceSessionFactory) Open(ctx context.Context) (*BinanceSession, error) {
	// the futures package reads this when the client is built
	futures.UseTestnet = f.testnet
	client := binance.NewFuturesClient(f.apiKey, f.apiSecret)

	if err := client.NewPingService().Do(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to ping binance futures")
	}

	streamBaseURL := futuresStreamBaseURL
	if f.testnet {
		streamBaseURL = futuresTestnetStreamBaseURL
	}

	return newBinanceSession(f.logger, client, streamBaseURL, f.retrier), nil
}

// BinanceSession is one authenticated connection to the futures account:
// REST calls plus at most one user-data stream.
type BinanceSession struct {
	logger        *zap.Logger
	client        *futures.Client
	streamBaseURL string
	retrier       *retrier.Retrier
	dialer        *websocket.Dialer

	listenKey string
	conn      *websocket.Conn
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newBinanceSession(logger *zap.Logger, client *futures.Client, streamBaseURL string, r *retrier.Retrier) *BinanceSession {
	return &BinanceSession{
		logger:        logger,
		client:        client,
		streamBaseURL: streamBaseURL,
		retrier:       r,
		dialer:        websocket.DefaultDialer,
	}
}

// AccountSummary returns balances and positions of the futures account.
func (s *BinanceSession) AccountSummary(ctx context.Context) (*futures.Account, error) {
	account, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get futures account")
	}
	return account, nil
}

// Stream creates a listenKey, dials the user-data websocket and keeps the
// listenKey alive until the session is closed.
func (s *BinanceSession) Stream(ctx context.Context) (Stream, error) {
	if s.conn != nil {
		return nil, errors.New("user data stream already open")
	}

	listenKey, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) (string, error) {
		return s.client.NewStartUserStreamService().Do(ctx)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create listen key")
	}
	s.listenKey = listenKey

	conn, _, err := s.dialer.DialContext(ctx, s.streamBaseURL+listenKey, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial user data stream")
	}
	s.conn = conn

	keepaliveCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.keepalive(keepaliveCtx, listenKey)
	}()

	return newUserDataStream(conn), nil
}

func (s *BinanceSession) keepalive(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(listenKeyKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.retrier.Do(ctx, func(ctx context.Context) error {
				return s.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
			})
			if err != nil && ctx.Err() == nil {
				// binance reports the expiry on the stream itself
				s.logger.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}

// Close stops the keepalive, closes the websocket and releases the listenKey.
// It is safe to call on a session that never opened a stream.
func (s *BinanceSession) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	var err error
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil {
			err = multierr.Append(err, errors.Wrap(cerr, "failed to close websocket"))
		}
		s.conn = nil
	}
	if s.listenKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), listenKeyCloseTimeout)
		defer cancel()
		if cerr := s.client.NewCloseUserStreamService().ListenKey(s.listenKey).Do(ctx); cerr != nil {
			err = multierr.Append(err, errors.Wrap(cerr, "failed to close listen key"))
		}
		s.listenKey = ""
	}

	return err
}

type userDataStream struct {
	conn *websocket.Conn
}

func newUserDataStream(conn *websocket.Conn) *userDataStream {
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})
	return &userDataStream{conn: conn}
}

// Recv blocks until the next frame arrives. Cancelling ctx closes the connection.
func (s *userDataStream) Recv(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.Close()
	})
	defer stop()

	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "failed to read user data stream")
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

	return msg, nil
}
