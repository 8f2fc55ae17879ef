package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/metrics"
)

// Reconnect backoff bounds.
const (
	DefaultReconnectInterval = time.Second
	DefaultMaxBackoff        = 30 * time.Second
)

// WebSocketOptions configures a WebSocketSource.
type WebSocketOptions struct {
	URL    string
	Header http.Header

	// ReconnectInterval is the first retry delay; it doubles up to MaxBackoff
	// and resets after a successful connect.
	ReconnectInterval time.Duration
	MaxBackoff        time.Duration

	Dialer *websocket.Dialer
}

// WebSocketSource reads one JSON event per text frame, reconnecting with
// backoff when the connection drops.
type WebSocketSource struct {
	opts   WebSocketOptions
	logger zerolog.Logger
}

// NewWebSocketSource validates options and returns an unconnected source.
func NewWebSocketSource(opts WebSocketOptions) (*WebSocketSource, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, errors.New("websocket url is required")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("websocket url must use ws or wss: %q", url)
	}
	opts.URL = url
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	// The cap never undercuts the first retry delay.
	if opts.MaxBackoff < opts.ReconnectInterval {
		opts.MaxBackoff = DefaultMaxBackoff
		if opts.MaxBackoff < opts.ReconnectInterval {
			opts.MaxBackoff = opts.ReconnectInterval
		}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &WebSocketSource{opts: opts, logger: logging.Component("transport.websocket")}, nil
}

// Name identifies the source in logs and metrics.
func (s *WebSocketSource) Name() string { return "websocket" }

// Run dials, reads and redials until ctx is done.
func (s *WebSocketSource) Run(ctx context.Context, handle Handler) error {
	backoff := s.opts.ReconnectInterval
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			metrics.TransportReconnects.WithLabelValues(s.Name()).Inc()
		}

		conn, _, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, s.opts.Header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed")
		} else {
			backoff = s.opts.ReconnectInterval
			s.logger.Info().Str("url", logging.RedactURL(s.opts.URL)).Msg("connected")
			s.readLoop(ctx, conn, handle)
			if ctx.Err() != nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
}

func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn, handle Handler) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("connection lost")
			} else if ctx.Err() == nil {
				s.logger.Info().Msg("connection closed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		dispatch(ctx, s.logger, s.Name(), data, handle)
	}
}
