package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/logging"
)

// RedisOptions configures a RedisStorage.
type RedisOptions struct {
	Namespace string
	Writer    string
}

// RedisStorage keeps keys in Redis and announces every write on a pub/sub
// channel so tabs in other processes or hosts see it.
type RedisStorage struct {
	client   *redis.Client
	opts     RedisOptions
	logger   zerolog.Logger
	watchers watchers

	mu     sync.Mutex
	sub    *redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

var _ Storage = (*RedisStorage)(nil)

// OpenRedis connects to redisURL and verifies the connection.
func OpenRedis(ctx context.Context, redisURL string, opts RedisOptions) (*RedisStorage, error) {
	if strings.TrimSpace(opts.Writer) == "" {
		return nil, fmt.Errorf("writer id required")
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := &RedisStorage{
		client: client,
		opts:   opts,
		logger: logging.Component("kv-redis"),
	}
	s.logger.Debug().Str("url", logging.RedactURL(redisURL)).Str("namespace", opts.Namespace).Msg("connected")
	return s, nil
}

// dataKey returns the redis key holding a storage key.
func dataKey(namespace, key string) string {
	return fmt.Sprintf("%s:kv:%s", namespace, key)
}

// changesChannel returns the pub/sub channel announcing writes.
func changesChannel(namespace string) string {
	return fmt.Sprintf("%s:kv:changes", namespace)
}

func (s *RedisStorage) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	value, err := s.client.Get(ctx, dataKey(s.opts.Namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, Change{Key: key, Value: value, Writer: s.opts.Writer})
}

func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	return s.write(ctx, Change{Key: key, Deleted: true, Writer: s.opts.Writer})
}

func (s *RedisStorage) write(ctx context.Context, c Change) error {
	if s.isClosed() {
		return ErrClosed
	}
	payload, err := encodeChange(c)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if c.Deleted {
			pipe.Del(ctx, dataKey(s.opts.Namespace, c.Key))
		} else {
			pipe.Set(ctx, dataKey(s.opts.Namespace, c.Key), c.Value, 0)
		}
		pipe.Publish(ctx, changesChannel(s.opts.Namespace), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", c.Key, err)
	}
	return nil
}

func (s *RedisStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	strip := dataKey(s.opts.Namespace, "")
	var keys []string
	iter := s.client.Scan(ctx, 0, dataKey(s.opts.Namespace, prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), strip))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

// Watch registers handler and subscribes to the change channel on first use.
func (s *RedisStorage) Watch(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	_, cancel := s.watchers.add(handler)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil && !s.closed {
		s.sub = s.client.Subscribe(context.Background(), changesChannel(s.opts.Namespace))
		s.wg.Add(1)
		go s.receiveLoop(s.sub.Channel())
	}
	return cancel
}

func (s *RedisStorage) receiveLoop(ch <-chan *redis.Message) {
	defer s.wg.Done()
	for msg := range ch {
		c, err := decodeChange(msg.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed kv change")
			continue
		}
		if c.Writer == s.opts.Writer {
			continue
		}
		s.watchers.dispatch(c)
	}
}

func (s *RedisStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	s.wg.Wait()
	return s.client.Close()
}

func encodeChange(c Change) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode change: %w", err)
	}
	return string(data), nil
}

func decodeChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if strings.TrimSpace(c.Key) == "" {
		return Change{}, fmt.Errorf("decode change: empty key")
	}
	return c, nil
}
