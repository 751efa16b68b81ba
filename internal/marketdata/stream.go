package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/logging"
)

// ErrStreamClosed is returned by operations on a closed stream.
var ErrStreamClosed = errors.New("stream closed")

// StreamConfig configures a kline stream connection.
type StreamConfig struct {
	// Streams are subscribed on every (re)connect, e.g. "btcusdt@kline_1m".
	Streams []string
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	// ReadTimeout is extended by every message and pong.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns the default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// KlineStreamName builds the stream name for symbol and interval.
func KlineStreamName(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}

// Tick is one kline update. Closed reports whether the bar is final.
type Tick struct {
	Symbol string
	Bar    domain.Bar
	Closed bool
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamLogger sets the stream logger.
func WithStreamLogger(l logrus.FieldLogger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// Stream is a reconnecting websocket client for exchange kline streams.
// Ticks are delivered in arrival order and never dropped.
type Stream struct {
	endpoint string
	cfg      StreamConfig
	logger   logrus.FieldLogger

	conn   *websocket.Conn
	connMu sync.Mutex

	requestID  atomic.Uint64
	reconnects atomic.Int64
	connected  atomic.Bool
	closed     atomic.Bool

	ticks  chan Tick
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DialStream connects to endpoint, subscribes cfg.Streams and starts reading.
func DialStream(ctx context.Context, endpoint string, cfg StreamConfig, opts ...StreamOption) (*Stream, error) {
	def := DefaultStreamConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		endpoint: endpoint,
		cfg:      cfg,
		ticks:    make(chan Tick, 256),
		ctx:      runCtx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger).WithField("endpoint", endpoint)

	if err := s.connect(ctx); err != nil {
		cancel()
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// Ticks returns the tick channel. It is closed after Close.
func (s *Stream) Ticks() <-chan Tick { return s.ticks }

// Reconnects returns the number of successful reconnects.
func (s *Stream) Reconnects() int64 { return s.reconnects.Load() }

// Healthy reports whether the stream is connected. It has the health probe shape.
func (s *Stream) Healthy(context.Context) (bool, error) {
	if s.closed.Load() {
		return false, ErrStreamClosed
	}
	return s.connected.Load(), nil
}

// Close stops the stream and closes the tick channel.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrStreamClosed
	}
	s.cancel()

	var err error
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.ticks)
	return err
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return ErrStreamClosed
	}
	s.conn = conn
	if err := s.subscribeLocked(); err != nil {
		conn.Close()
		return err
	}
	s.connected.Store(true)
	return nil
}

func (s *Stream) subscribeLocked() error {
	if len(s.cfg.Streams) == 0 {
		return nil
	}
	req := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: s.cfg.Streams,
		ID:     s.requestID.Add(1),
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer s.wg.Done()
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.connected.Store(false)
			if s.closed.Load() {
				return
			}
			s.logger.WithError(err).Warn("kline stream read failed, reconnecting")
			if !s.reconnect(conn) {
				return
			}
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		tick, ok, err := parseKline(message)
		if err != nil {
			s.logger.WithError(err).Debug("skipping malformed kline message")
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.ticks <- tick:
		case <-s.ctx.Done():
			return
		}
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// stream is closed.
func (s *Stream) reconnect(old *websocket.Conn) bool {
	old.Close()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectDelay
	b.MaxInterval = s.cfg.MaxReconnectDelay
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		s.logger.WithError(err).WithField("retry_in", wait).Warn("kline stream reconnect failed")
	}
	op := func() error {
		err := s.connect(s.ctx)
		if errors.Is(err, ErrStreamClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, s.ctx), notify); err != nil {
		return false
	}
	s.reconnects.Add(1)
	s.logger.WithField("streams", s.cfg.Streams).Info("kline stream reconnected")
	return true
}

func (s *Stream) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				// A dead connection surfaces in readLoop.
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// combinedMessage wraps payloads on combined-stream endpoints.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// parseKline decodes a raw or combined kline event. Subscription acks and
// other events report ok=false.
func parseKline(message []byte) (Tick, bool, error) {
	var wrapped combinedMessage
	if err := json.Unmarshal(message, &wrapped); err == nil && wrapped.Stream != "" && len(wrapped.Data) > 0 {
		message = wrapped.Data
	}

	var ev klineEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return Tick{}, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if ev.Event != "kline" {
		return Tick{}, false, nil
	}

	k := ev.Kline
	var vals [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Tick{}, false, fmt.Errorf("%w: kline field %q", ErrInvalidData, raw)
		}
		vals[i] = v
	}
	bar := domain.Bar{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}
	if bar.Close <= 0 || bar.High < bar.Low {
		return Tick{}, false, fmt.Errorf("%w: kline %s at %s", ErrInvalidData, ev.Symbol, bar.Timestamp)
	}
	return Tick{Symbol: ev.Symbol, Bar: bar, Closed: k.Closed}, true, nil
}
