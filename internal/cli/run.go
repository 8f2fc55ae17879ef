package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tOgg1/chatsync/internal/api"
	"github.com/tOgg1/chatsync/internal/config"
	"github.com/tOgg1/chatsync/internal/engine"
	"github.com/tOgg1/chatsync/internal/events"
	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/models"
	"github.com/tOgg1/chatsync/internal/notify"
	"github.com/tOgg1/chatsync/internal/transport"
)

// recentEvents is how many engine events the control API can replay.
const recentEvents = 200

var (
	runHidden bool
	runSelfID string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runHidden, "hidden", false, "start with the tab in the background")
	runCmd.Flags().StringVar(&runSelfID, "self", "", "signed-in user id (overrides session.self_id)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a tab engine",
	Long:  "Start the engine with the configured shared storage, push transport and control API, and run until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if runSelfID != "" {
			cfg.Session.SelfID = runSelfID
		}
		if cmd.Flags().Changed("hidden") {
			cfg.Session.StartHidden = runHidden
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runEngine(ctx, cfg)
	},
}

func buildSource(cfg config.TransportConfig) (transport.Source, error) {
	switch cfg.Kind {
	case config.TransportNATS:
		return transport.NewNATSSource(transport.NATSOptions{
			URL:           cfg.NATSURL,
			Subject:       cfg.NATSSubject,
			ReconnectWait: cfg.ReconnectInterval,
		})
	case config.TransportWebSocket:
		return transport.NewWebSocketSource(transport.WebSocketOptions{
			URL:               cfg.WebSocketURL,
			ReconnectInterval: cfg.ReconnectInterval,
		})
	default:
		return nil, nil
	}
}

func buildNotifier(kind string) notify.DesktopNotifier {
	switch kind {
	case "terminal":
		return notify.NewTerminalNotifier(os.Stdout)
	case "log":
		return notify.LogNotifier{Logger: logging.Component("desktop")}
	default:
		return nil
	}
}

func engineOptions(cfg *config.Config) engine.Options {
	selfID := cfg.Session.SelfID
	return engine.Options{
		TabID:         cfg.Session.TabID,
		CurrentUserID: func() string { return selfID },
		Publisher:     events.NewInMemoryPublisher(events.WithHistory(recentEvents)),
		Title:         notify.DetectTitleSink(os.Stdout),
		Notifier:      buildNotifier(cfg.Notify.Desktop),
		Windows:       cfg.Reconcile.Windows(),
		OriginalTitle: cfg.Session.OriginalTitle,
		FlashInterval: cfg.Notify.FlashInterval,
		ReassertDelay: cfg.Notify.ReassertDelay,
		PreviewRunes:  cfg.Notify.PreviewRunes,
		Hidden:        cfg.Session.StartHidden,
	}
}

func runEngine(ctx context.Context, cfg *config.Config) error {
	logger := logging.Component("chatsyncd")
	if cfg.Session.SelfID == "" {
		logger.Warn().Msg("session.self_id is empty; own messages will count as unread")
	}

	opts := engineOptions(cfg)
	if opts.TabID == "" {
		opts.TabID = fmt.Sprintf("tab-%d", os.Getpid())
	}
	storage, err := openStorage(ctx, cfg, opts.TabID)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	opts.Storage = storage

	eng, err := engine.New(ctx, opts)
	if err != nil {
		_ = storage.Close()
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn().Err(err).Msg("engine close failed")
		}
		if err := storage.Close(); err != nil {
			logger.Warn().Err(err).Msg("storage close failed")
		}
	}()

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("tab_id", eng.TabID()).
		Str("storage", cfg.Storage.Backend).
		Str("transport", cfg.Transport.Kind).
		Msg("chatsyncd starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	running := 0

	source, err := buildSource(cfg.Transport)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if source != nil {
		running++
		go func() {
			errCh <- source.Run(ctx, func(ctx context.Context, ev models.InboundEvent) {
				if _, err := eng.HandleEvent(ctx, ev); err != nil && !errors.Is(err, engine.ErrUnknownMessage) {
					logger.Debug().Err(err).Str("message_id", ev.ID).Msg("event not applied")
				}
			})
		}()
	}

	if cfg.API.Enabled {
		running++
		srv := api.NewServer(cfg.API.Addr, eng)
		go func() {
			errCh <- srv.Run(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		running--
	}
	cancel()
	for ; running > 0; running-- {
		if err := <-errCh; err != nil && runErr == nil {
			runErr = err
		}
	}

	logger.Info().Msg("chatsyncd stopped")
	return runErr
}
