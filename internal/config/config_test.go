package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// isolate keeps the user's real config and .env out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func newTestLoader() *Loader {
	l := NewLoader()
	l.SetDotEnv("")
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, StorageMemory, cfg.Storage.Backend)
	require.Equal(t, TransportNone, cfg.Transport.Kind)
	require.Equal(t, time.Second, cfg.Notify.FlashInterval)
	require.Equal(t, 50*time.Millisecond, cfg.Notify.ReassertDelay)
	require.Equal(t, 60, cfg.Notify.PreviewRunes)
	require.Equal(t, 5*time.Second, cfg.Reconcile.OptimisticWindow)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "chatsync.yaml")
	writeFile(t, path, `
session:
  self_id: u1
  original_title: Inbox
storage:
  backend: SQLite
  sqlite_path: ~/shared.db
transport:
  kind: websocket
  websocket_url: ws://127.0.0.1:7070/ws
notify:
  flash_interval: 2s
reconcile:
  group_dup_window: 3s
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "u1", cfg.Session.SelfID)
	require.Equal(t, "Inbox", cfg.Session.OriginalTitle)
	require.Equal(t, StorageSQLite, cfg.Storage.Backend)
	require.Equal(t, filepath.Join(dir, "shared.db"), cfg.SQLitePath())
	require.Equal(t, TransportWebSocket, cfg.Transport.Kind)
	require.Equal(t, 2*time.Second, cfg.Notify.FlashInterval)
	require.Equal(t, 3*time.Second, cfg.Reconcile.Windows().GroupDuplicate)
	require.Equal(t, time.Second, cfg.Reconcile.Windows().DirectDuplicate)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "chatsync.yaml")
	writeFile(t, path, "session:\n  self_id: from-file\nlogging:\n  level: warn\n")

	t.Setenv(EnvVar("session.self_id"), "from-env")
	t.Setenv(EnvVar("notify.preview_runes"), "20")
	t.Setenv(EnvVar("storage.poll_interval"), "1s")

	l := newTestLoader()
	l.SetConfigFile(path)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Session.SelfID)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 20, cfg.Notify.PreviewRunes)
	require.Equal(t, time.Second, cfg.Storage.PollInterval)
	require.Equal(t, path, l.ConfigFileUsed())
}

func TestSetOverridesEnv(t *testing.T) {
	isolate(t)
	t.Setenv(EnvVar("logging.level"), "debug")

	l := newTestLoader()
	l.Set("logging.level", "error")
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "error", cfg.Logging.Level)
}

func TestDotEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "CHATSYNC_SESSION_TAB_ID=tab-from-dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("CHATSYNC_SESSION_TAB_ID") })

	l := NewLoader()
	l.SetDotEnv(path)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "tab-from-dotenv", cfg.Session.TabID)

	l = NewLoader()
	l.SetDotEnv(filepath.Join(dir, "absent.env"))
	_, err = l.Load()
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"json logs", func(c *Config) { c.Logging.Format = "json" }, false},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }, true},
		{"redis without url", func(c *Config) { c.Storage.Backend = StorageRedis }, true},
		{"redis with url", func(c *Config) {
			c.Storage.Backend = StorageRedis
			c.Storage.RedisURL = "redis://localhost:6379/0"
		}, false},
		{"poll interval too small", func(c *Config) { c.Storage.PollInterval = time.Millisecond }, true},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "sse" }, true},
		{"nats without url", func(c *Config) { c.Transport.Kind = TransportNATS }, true},
		{"websocket without url", func(c *Config) { c.Transport.Kind = TransportWebSocket }, true},
		{"zero reconnect", func(c *Config) { c.Transport.ReconnectInterval = 0 }, true},
		{"fast flash", func(c *Config) { c.Notify.FlashInterval = 10 * time.Millisecond }, true},
		{"zero reassert", func(c *Config) { c.Notify.ReassertDelay = 0 }, true},
		{"zero preview", func(c *Config) { c.Notify.PreviewRunes = 0 }, true},
		{"unknown desktop", func(c *Config) { c.Notify.Desktop = "dbus" }, true},
		{"zero window", func(c *Config) { c.Reconcile.OptimisticWindow = 0 }, true},
		{"api without addr", func(c *Config) { c.API.Addr = "" }, true},
		{"api disabled without addr", func(c *Config) {
			c.API.Enabled = false
			c.API.Addr = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Backend = StorageSQLite
	cfg.Storage.SQLitePath = filepath.Join(dir, "nested", "chatsync.db")

	require.NoError(t, cfg.EnsureDirectories())
	info, err := os.Stat(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSQLitePathDefault(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := DefaultConfig()
	require.Equal(t, filepath.Join("/data", "chatsync", "chatsync.db"), cfg.SQLitePath())
}

func TestEnvVar(t *testing.T) {
	require.Equal(t, "CHATSYNC_STORAGE_REDIS_URL", EnvVar("storage.redis_url"))
}
