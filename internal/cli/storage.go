package cli

import (
	"context"
	"fmt"

	"github.com/tOgg1/chatsync/internal/config"
	"github.com/tOgg1/chatsync/internal/kv"
)

// cliWriter names storage writes made by one-shot commands.
const cliWriter = "chatsyncd-cli"

// openStorage opens the configured shared storage as writer.
func openStorage(ctx context.Context, cfg *config.Config, writer string) (kv.Storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		return kv.OpenSQLite(ctx, cfg.SQLitePath(), kv.SQLiteOptions{
			Namespace:     cfg.Storage.Namespace,
			Writer:        writer,
			PollInterval:  cfg.Storage.PollInterval,
			BusyTimeoutMs: cfg.Storage.BusyTimeoutMs,
		})
	case config.StorageRedis:
		return kv.OpenRedis(ctx, cfg.Storage.RedisURL, kv.RedisOptions{
			Namespace: cfg.Storage.Namespace,
			Writer:    writer,
		})
	case config.StorageMemory:
		return kv.NewMemoryHub().Open(writer), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// openSharedStorage is openStorage for commands that only make sense
// against storage other processes can see.
func openSharedStorage(ctx context.Context, cfg *config.Config) (kv.Storage, error) {
	if cfg.Storage.Backend == config.StorageMemory {
		return nil, fmt.Errorf("storage backend %q is private to one process; configure sqlite or redis", config.StorageMemory)
	}
	return openStorage(ctx, cfg, cliWriter)
}
