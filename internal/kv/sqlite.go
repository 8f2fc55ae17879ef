package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tOgg1/chatsync/internal/logging"
)

const (
	defaultSQLitePollInterval = 250 * time.Millisecond
	defaultChangeRetention    = 10 * time.Minute
)

// SQLiteOptions configures a SQLiteStorage.
type SQLiteOptions struct {
	// Namespace scopes keys to one session.
	Namespace string

	// Writer identifies this tab; changes it makes are not echoed back to it.
	Writer string

	// PollInterval controls how often other tabs' writes are picked up.
	PollInterval time.Duration

	// BusyTimeoutMs is passed to SQLite's busy_timeout pragma.
	BusyTimeoutMs int

	// ChangeRetention is how long logged changes are kept for pollers.
	// A tab that polls less often than this can miss changes.
	ChangeRetention time.Duration
}

// SQLiteStorage stores keys in a SQLite file shared by tabs on one machine.
// Every write is also appended to a change log, which other tabs poll, so
// each write is observed even when several land between two polls.
type SQLiteStorage struct {
	db       *sql.DB
	opts     SQLiteOptions
	logger   zerolog.Logger
	watchers watchers

	mu          sync.Mutex
	lastVersion int64
	polling     bool
	closed      bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

var _ Storage = (*SQLiteStorage)(nil)

// OpenSQLite opens (and if needed creates) the storage file at path.
func OpenSQLite(ctx context.Context, path string, opts SQLiteOptions) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	if strings.TrimSpace(opts.Writer) == "" {
		return nil, fmt.Errorf("writer id required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultSQLitePollInterval
	}
	if opts.BusyTimeoutMs <= 0 {
		opts.BusyTimeoutMs = 5000
	}
	if opts.ChangeRetention <= 0 {
		opts.ChangeRetention = defaultChangeRetention
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, opts.BusyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStorage{
		db:     db,
		opts:   opts,
		logger: logging.Component("kv-sqlite"),
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	version, err := s.maxVersion(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.lastVersion = version
	return s, nil
}

func (s *SQLiteStorage) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		deleted INTEGER NOT NULL DEFAULT 0,
		writer TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);

	CREATE TABLE IF NOT EXISTS kv_changes (
		version INTEGER PRIMARY KEY AUTOINCREMENT,
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		deleted INTEGER NOT NULL DEFAULT 0,
		writer TEXT NOT NULL,
		written_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kv_changes_ns ON kv_changes(namespace, version);
	CREATE INDEX IF NOT EXISTS idx_kv_changes_written ON kv_changes(written_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init kv schema: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) maxVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM kv_changes WHERE namespace = ?`, s.opts.Namespace,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read kv version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStorage) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ? AND deleted = 0`,
		s.opts.Namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, key, value, false)
}

func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, "", true)
}

func (s *SQLiteStorage) write(ctx context.Context, key, value string, deleted bool) error {
	if s.isClosed() {
		return ErrClosed
	}
	now := time.Now().UTC()
	return transactionWithRetry(ctx, s.db, 0, 0, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (namespace, key, value, deleted, writer, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(namespace, key) DO UPDATE SET
				value = excluded.value,
				deleted = excluded.deleted,
				writer = excluded.writer,
				updated_at = excluded.updated_at`,
			s.opts.Namespace, key, value, boolToInt(deleted), s.opts.Writer, now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv_changes (namespace, key, value, deleted, writer, written_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			s.opts.Namespace, key, value, boolToInt(deleted), s.opts.Writer, now.UnixNano(),
		); err != nil {
			return fmt.Errorf("log change %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM kv_changes WHERE written_at < ?`, now.Add(-s.opts.ChangeRetention).UnixNano(),
		); err != nil {
			return fmt.Errorf("prune changes: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE namespace = ? AND deleted = 0 AND substr(key, 1, ?) = ? ORDER BY key`,
		s.opts.Namespace, len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Watch registers handler and starts the change poller on first use.
func (s *SQLiteStorage) Watch(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	_, cancel := s.watchers.add(handler)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.polling && !s.closed {
		ctx, stop := context.WithCancel(context.Background())
		s.cancel = stop
		s.polling = true
		s.wg.Add(1)
		go s.pollLoop(ctx)
	}
	return cancel
}

func (s *SQLiteStorage) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PollOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("kv change poll failed")
			}
		}
	}
}

// PollOnce reads logged changes newer than the last seen version and
// dispatches those written by other tabs, in write order.
func (s *SQLiteStorage) PollOnce(ctx context.Context) error {
	s.mu.Lock()
	since := s.lastVersion
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, deleted, writer, version FROM kv_changes WHERE namespace = ? AND version > ? ORDER BY version`,
		s.opts.Namespace, since,
	)
	if err != nil {
		return fmt.Errorf("poll changes: %w", err)
	}

	var changes []Change
	maxSeen := since
	for rows.Next() {
		var (
			c       Change
			deleted int
			version int64
		)
		if err := rows.Scan(&c.Key, &c.Value, &deleted, &c.Writer, &version); err != nil {
			rows.Close()
			return err
		}
		c.Deleted = deleted != 0
		if version > maxSeen {
			maxSeen = version
		}
		if c.Writer != s.opts.Writer {
			changes = append(changes, c)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	s.mu.Lock()
	if maxSeen > s.lastVersion {
		s.lastVersion = maxSeen
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.watchers.dispatch(c)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
