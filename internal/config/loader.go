package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATSYNC"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	dotEnv     string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:      viper.New(),
		dotEnv: ".env",
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetDotEnv sets the .env file read before the environment; empty disables it.
func (l *Loader) SetDotEnv(path string) {
	l.dotEnv = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < explicit Set calls
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv exports .env entries that are not already set in the
// environment. A missing file is fine.
func (l *Loader) loadDotEnv() error {
	if l.dotEnv == "" {
		return nil
	}
	if err := godotenv.Load(l.dotEnv); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", l.dotEnv, err)
	}
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func normalize(cfg *Config) {
	cfg.Storage.SQLitePath = expandTilde(cfg.Storage.SQLitePath)
	cfg.Logging.File = expandTilde(cfg.Logging.File)

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(cfg.Transport.Kind))
	cfg.Notify.Desktop = strings.ToLower(strings.TrimSpace(cfg.Notify.Desktop))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Session.SelfID = strings.TrimSpace(cfg.Session.SelfID)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "chatsync"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "chatsync"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Explicitly bind environment variables (Viper's Unmarshal has issues without this)
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Session
	v.SetDefault("session.self_id", cfg.Session.SelfID)
	v.SetDefault("session.tab_id", cfg.Session.TabID)
	v.SetDefault("session.original_title", cfg.Session.OriginalTitle)
	v.SetDefault("session.start_hidden", cfg.Session.StartHidden)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Storage
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.sqlite_path", cfg.Storage.SQLitePath)
	v.SetDefault("storage.redis_url", cfg.Storage.RedisURL)
	v.SetDefault("storage.namespace", cfg.Storage.Namespace)
	v.SetDefault("storage.poll_interval", cfg.Storage.PollInterval)
	v.SetDefault("storage.busy_timeout_ms", cfg.Storage.BusyTimeoutMs)

	// Transport
	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.nats_url", cfg.Transport.NATSURL)
	v.SetDefault("transport.nats_subject", cfg.Transport.NATSSubject)
	v.SetDefault("transport.websocket_url", cfg.Transport.WebSocketURL)
	v.SetDefault("transport.reconnect_interval", cfg.Transport.ReconnectInterval)

	// Notify
	v.SetDefault("notify.flash_interval", cfg.Notify.FlashInterval)
	v.SetDefault("notify.reassert_delay", cfg.Notify.ReassertDelay)
	v.SetDefault("notify.preview_runes", cfg.Notify.PreviewRunes)
	v.SetDefault("notify.desktop", cfg.Notify.Desktop)

	// Reconcile
	v.SetDefault("reconcile.direct_dup_window", cfg.Reconcile.DirectDupWindow)
	v.SetDefault("reconcile.group_dup_window", cfg.Reconcile.GroupDupWindow)
	v.SetDefault("reconcile.optimistic_window", cfg.Reconcile.OptimisticWindow)

	// API
	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.addr", cfg.API.Addr)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set overrides a key above every other source; flags use it.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// Viper returns the underlying Viper instance for advanced use.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// envKeys lists every key that supports a CHATSYNC_* override.
var envKeys = []string{
	"session.self_id",
	"session.tab_id",
	"session.original_title",
	"session.start_hidden",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"storage.backend",
	"storage.sqlite_path",
	"storage.redis_url",
	"storage.namespace",
	"storage.poll_interval",
	"storage.busy_timeout_ms",
	"transport.kind",
	"transport.nats_url",
	"transport.nats_subject",
	"transport.websocket_url",
	"transport.reconnect_interval",
	"notify.flash_interval",
	"notify.reassert_delay",
	"notify.preview_runes",
	"notify.desktop",
	"reconcile.direct_dup_window",
	"reconcile.group_dup_window",
	"reconcile.optimistic_window",
	"api.enabled",
	"api.addr",
}

// EnvVar returns the environment variable for a config key:
// storage.redis_url -> CHATSYNC_STORAGE_REDIS_URL.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// bindEnvVars binds environment variables for config keys.
func bindEnvVars(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key, EnvVar(key))
	}
}
