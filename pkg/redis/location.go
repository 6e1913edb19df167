package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreDriverLocation overwrites the driver's latest sample and announces it
// on the driver's channel for live streams.
func (c *Client) StoreDriverLocation(ctx context.Context, driverID string, payload []byte, ttl time.Duration) error {
	if err := c.Set(ctx, c.DriverLocationKey(driverID), payload, ttl); err != nil {
		return fmt.Errorf("store driver location: %w", err)
	}
	if err := c.Publish(ctx, c.DriverLocationChannel(driverID), payload); err != nil {
		return fmt.Errorf("publish driver location: %w", err)
	}
	return nil
}

// DriverLocation reports ok=false when no sample is stored or it expired.
func (c *Client) DriverLocation(ctx context.Context, driverID string) ([]byte, bool, error) {
	raw, err := c.Get(ctx, c.DriverLocationKey(driverID))
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("read driver location: %w", err)
	}
	return []byte(raw), true, nil
}
