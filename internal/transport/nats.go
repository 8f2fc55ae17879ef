package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/metrics"
)

// DefaultNATSSubject carries every conversation's events.
const DefaultNATSSubject = "chat.events.>"

// NATSOptions configures a NATSSource.
type NATSOptions struct {
	URL     string
	Subject string

	// Name is reported to the server as the connection name.
	Name string

	ReconnectWait time.Duration
}

// NATSSource subscribes to a NATS subject and decodes each message as one
// event.
type NATSSource struct {
	opts   NATSOptions
	logger zerolog.Logger
}

// NewNATSSource validates options and returns an unconnected source.
func NewNATSSource(opts NATSOptions) (*NATSSource, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("nats url is required")
	}
	if strings.TrimSpace(opts.Subject) == "" {
		opts.Subject = DefaultNATSSubject
	}
	if opts.Name == "" {
		opts.Name = "chatsync"
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	return &NATSSource{opts: opts, logger: logging.Component("transport.nats")}, nil
}

// Name identifies the source in logs and metrics.
func (s *NATSSource) Name() string { return "nats" }

// Run connects, subscribes and delivers events until ctx is done. The client
// reconnects on its own; Run only fails if the first connect does.
func (s *NATSSource) Run(ctx context.Context, handle Handler) error {
	nc, err := nats.Connect(s.opts.URL,
		nats.Name(s.opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(s.opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn().Err(err).Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			metrics.TransportReconnects.WithLabelValues(s.Name()).Inc()
			s.logger.Info().Str("url", logging.RedactURL(c.ConnectedUrl())).Msg("reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(s.opts.Subject, func(msg *nats.Msg) {
		dispatch(ctx, s.logger, s.Name(), msg.Data, handle)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.opts.Subject, err)
	}
	s.logger.Info().Str("url", logging.RedactURL(s.opts.URL)).Str("subject", s.opts.Subject).Msg("subscribed")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logger.Debug().Err(err).Msg("unsubscribe failed")
	}
	if err := nc.Drain(); err != nil {
		s.logger.Debug().Err(err).Msg("drain failed")
	}
	return nil
}
