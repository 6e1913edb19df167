package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

var errNotInitialized = errors.New("redis client not initialized")

// cmdable is the slice of go-redis the engine uses; tests swap in a map.
type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Publish(context.Context, string, any) *redis.IntCmd
	Eval(context.Context, string, []string, ...any) *redis.Cmd
}

// Client holds the shared connection pool for idempotency records, cron
// leases and live driver positions.
type Client struct {
	store cmdable
	raw   *redis.Client
}

type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is what the HTTP idempotency guard needs.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Debug(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connected")
	}
	return &Client{store: raw, raw: raw}, nil
}

// options prefers the URL form and fills anything it leaves unset from the
// discrete settings.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address == "":
		return nil, errors.New("redis url or address is required")
	}
	fill(&opts.DB, cfg.DB)
	fill(&opts.PoolSize, cfg.PoolSize)
	fill(&opts.MinIdleConns, cfg.MinIdleConns)
	fill(&opts.DialTimeout, cfg.DialTimeout)
	fill(&opts.ReadTimeout, cfg.ReadTimeout)
	fill(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fill[T int | time.Duration](dst *T, v T) {
	if *dst == 0 {
		*dst = v
	}
}

func (c *Client) ready() (cmdable, error) {
	if c == nil || c.store == nil {
		return nil, errNotInitialized
	}
	return c.store, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s, err := c.ready()
	if err != nil {
		return err
	}
	return s.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	s, err := c.ready()
	if err != nil {
		return "", err
	}
	return s.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s, err := c.ready()
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	s, err := c.ready()
	if err != nil {
		return err
	}
	return s.Del(ctx, keys...).Err()
}

func (c *Client) Publish(ctx context.Context, channel string, payload any) error {
	s, err := c.ready()
	if err != nil {
		return err
	}
	return s.Publish(ctx, channel, payload).Err()
}

// Subscribe waits for the subscription confirmation before returning. The
// caller closes the PubSub.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if c.raw == nil {
		return nil, errNotInitialized
	}
	sub := c.raw.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

func (c *Client) Ping(ctx context.Context) error {
	s, err := c.ready()
	if err != nil {
		return err
	}
	return s.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
