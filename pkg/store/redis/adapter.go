package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
)

// DefaultKey holds the state when Config.Key is empty.
const DefaultKey = "migrate:state"

// Config holds Redis state store configuration.
type Config struct {
	URL              string
	Key              string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Adapter keeps the migration state as a JSON value under a single key. Each
// operation dials its own client and closes it before returning.
type Adapter struct {
	opts   *redis.Options
	key    string
	logger logger.Logger
	dial   func(*redis.Options) client
}

// NewAdapter parses the URL and returns an adapter. No connection is made.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	cfg.Key = strings.TrimSpace(cfg.Key)
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.PoolSize = 1
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout
	}
	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Adapter{
		opts:   opts,
		key:    cfg.Key,
		logger: log.With("store", "redis", "key", cfg.Key),
		dial: func(o *redis.Options) client {
			return redis.NewClient(o)
		},
	}, nil
}

// Load reads the state key. A missing key yields migrate.ErrNotFound.
func (a *Adapter) Load(ctx context.Context) (*migrate.State, error) {
	c := a.dial(a.opts)
	val, err := c.Get(ctx, a.key).Bytes()
	a.close(c)

	if errors.Is(err, redis.Nil) {
		return nil, migrate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", a.key, err)
	}
	return migrate.DecodeJSON(val)
}

// Save overwrites the state key without expiration.
func (a *Adapter) Save(ctx context.Context, state *migrate.State) error {
	data, err := migrate.EncodeJSON(state)
	if err != nil {
		return err
	}

	c := a.dial(a.opts)
	err = c.Set(ctx, a.key, data, 0).Err()
	a.close(c)

	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", a.key, err)
	}
	return nil
}

func (a *Adapter) close(c client) {
	if err := c.Close(); err != nil {
		a.logger.Warn("failed to close redis connection", "error", err)
	}
}
