package redis

import (
	"context"
	"time"
)

// Both scripts act only while KEYS[1] still holds the owner token ARGV[1].
const (
	releaseOwnedScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`
	extendOwnedScript  = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) end return 0`
)

// ReleaseOwned deletes key only while it still holds owner.
func (c *Client) ReleaseOwned(ctx context.Context, key, owner string) (bool, error) {
	return c.owned(ctx, releaseOwnedScript, key, owner)
}

// ExtendOwned resets the TTL of key only while it still holds owner.
func (c *Client) ExtendOwned(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return c.owned(ctx, extendOwnedScript, key, owner, ttl.Milliseconds())
}

func (c *Client) owned(ctx context.Context, script, key string, args ...any) (bool, error) {
	s, err := c.ready()
	if err != nil {
		return false, err
	}
	n, err := s.Eval(ctx, script, []string{key}, args...).Int64()
	return n == 1, err
}
