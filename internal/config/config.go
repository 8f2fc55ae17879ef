// Package config handles chatsync configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/notify"
	"github.com/tOgg1/chatsync/internal/reconcile"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Transport kinds.
const (
	TransportNone      = "none"
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// Config is the root configuration structure for chatsync.
type Config struct {
	// Session identifies the user and tab
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Storage is the session-shared key-value store
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Transport is the push event source
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`

	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
}

// SessionConfig contains per-session identity.
type SessionConfig struct {
	// SelfID is the signed-in user's id; own messages never count as unread.
	SelfID string `yaml:"self_id" mapstructure:"self_id"`

	// TabID names this tab as a storage writer (generated when empty).
	TabID string `yaml:"tab_id" mapstructure:"tab_id"`

	// OriginalTitle is restored whenever flashing stops.
	OriginalTitle string `yaml:"original_title" mapstructure:"original_title"`

	// StartHidden starts the tab in the background.
	StartHidden bool `yaml:"start_hidden" mapstructure:"start_hidden"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// StorageConfig selects and configures the shared storage backend.
type StorageConfig struct {
	// Backend is memory, sqlite or redis.
	Backend string `yaml:"backend" mapstructure:"backend"`

	// SQLitePath is the shared database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// RedisURL is the redis:// URL for the redis backend.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`

	// Namespace isolates one browser profile's keys from another's.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	// PollInterval is how often the sqlite backend looks for other writers' changes.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// BusyTimeoutMs is how long sqlite waits on a locked database.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// TransportConfig configures the push event source.
type TransportConfig struct {
	// Kind is none, nats or websocket.
	Kind string `yaml:"kind" mapstructure:"kind"`

	NATSURL     string `yaml:"nats_url" mapstructure:"nats_url"`
	NATSSubject string `yaml:"nats_subject" mapstructure:"nats_subject"`

	WebSocketURL string `yaml:"websocket_url" mapstructure:"websocket_url"`

	// ReconnectInterval is the first reconnect delay.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`
}

// NotifyConfig contains title and desktop notification settings.
type NotifyConfig struct {
	FlashInterval time.Duration `yaml:"flash_interval" mapstructure:"flash_interval"`
	ReassertDelay time.Duration `yaml:"reassert_delay" mapstructure:"reassert_delay"`

	// PreviewRunes is how much message text an alert quotes.
	PreviewRunes int `yaml:"preview_runes" mapstructure:"preview_runes"`

	// Desktop is terminal, log or none.
	Desktop string `yaml:"desktop" mapstructure:"desktop"`
}

// ReconcileConfig contains the dedup heuristic windows.
type ReconcileConfig struct {
	DirectDupWindow  time.Duration `yaml:"direct_dup_window" mapstructure:"direct_dup_window"`
	GroupDupWindow   time.Duration `yaml:"group_dup_window" mapstructure:"group_dup_window"`
	OptimisticWindow time.Duration `yaml:"optimistic_window" mapstructure:"optimistic_window"`
}

// Windows converts the settings for reconcile.Decide.
func (r ReconcileConfig) Windows() reconcile.Windows {
	return reconcile.Windows{
		DirectDuplicate: r.DirectDupWindow,
		GroupDuplicate:  r.GroupDupWindow,
		Optimistic:      r.OptimisticWindow,
	}
}

// APIConfig contains control API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			OriginalTitle: "Chat",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Storage: StorageConfig{
			Backend:       StorageMemory,
			SQLitePath:    "", // Will be set to the data dir's chatsync.db
			Namespace:     "chatsync",
			PollInterval:  250 * time.Millisecond,
			BusyTimeoutMs: 5000,
		},
		Transport: TransportConfig{
			Kind:              TransportNone,
			NATSSubject:       "chat.events.>",
			ReconnectInterval: time.Second,
		},
		Notify: NotifyConfig{
			FlashInterval: notify.DefaultFlashInterval,
			ReassertDelay: notify.DefaultReassertDelay,
			PreviewRunes:  notify.DefaultPreviewRunes,
			Desktop:       "terminal",
		},
		Reconcile: ReconcileConfig{
			DirectDupWindow:  reconcile.DefaultDirectDuplicateWindow,
			GroupDupWindow:   reconcile.DefaultGroupDuplicateWindow,
			OptimisticWindow: reconcile.DefaultOptimisticWindow,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7420",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageSQLite:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, sqlite, redis")
	}
	if c.Storage.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("storage.poll_interval must be at least 10ms")
	}

	switch c.Transport.Kind {
	case TransportNone:
	case TransportNATS:
		if c.Transport.NATSURL == "" {
			return fmt.Errorf("transport.nats_url is required for the nats transport")
		}
	case TransportWebSocket:
		if c.Transport.WebSocketURL == "" {
			return fmt.Errorf("transport.websocket_url is required for the websocket transport")
		}
	default:
		return fmt.Errorf("transport.kind must be one of none, nats, websocket")
	}
	if c.Transport.ReconnectInterval <= 0 {
		return fmt.Errorf("transport.reconnect_interval must be positive")
	}

	if c.Notify.FlashInterval < 100*time.Millisecond {
		return fmt.Errorf("notify.flash_interval must be at least 100ms")
	}
	if c.Notify.ReassertDelay <= 0 {
		return fmt.Errorf("notify.reassert_delay must be positive")
	}
	if c.Notify.PreviewRunes < 1 {
		return fmt.Errorf("notify.preview_runes must be at least 1")
	}
	switch c.Notify.Desktop {
	case "terminal", "log", "none":
	default:
		return fmt.Errorf("notify.desktop must be one of terminal, log, none")
	}

	if c.Reconcile.DirectDupWindow <= 0 || c.Reconcile.GroupDupWindow <= 0 || c.Reconcile.OptimisticWindow <= 0 {
		return fmt.Errorf("reconcile windows must be positive")
	}

	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr is required when the api is enabled")
	}

	return nil
}

// DataDir is where chatsync keeps its files (default: ~/.local/share/chatsync).
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatsync")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "chatsync")
}

// SQLitePath returns the full shared database path.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(DataDir(), "chatsync.db")
}

// EnsureDirectories creates the directory holding the sqlite database.
func (c *Config) EnsureDirectories() error {
	if c.Storage.Backend != StorageSQLite {
		return nil
	}
	dir := filepath.Dir(c.SQLitePath())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
