package db

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// Client owns the pooled connection every service shares.
type Client struct {
	conn *gorm.DB
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func dialectorFor(cfg config.DBConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "postgresql":
		// Simple protocol keeps pgbouncer in transaction mode happy.
		return postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true}), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// New opens the database named by cfg and applies the pool limits.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}

	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s: %w", dialector.Name(), err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "driver", dialector.Name()), "database connection established")
	}
	return &Client{conn: conn}, nil
}

// NewFromGorm wraps an already opened connection, mostly for sqlite backed tests.
func NewFromGorm(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}
