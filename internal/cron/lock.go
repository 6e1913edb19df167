package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lock guards a cron cycle so only one worker runs it at a time.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// renewer is implemented by locks whose lease can be pushed out while a long
// cycle is still running.
type renewer interface {
	Extend(ctx context.Context) (bool, error)
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseOwned(ctx context.Context, key, owner string) (bool, error)
	ExtendOwned(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

var errLeaseLost = errors.New("cron lease lost to another worker")

// RedisLock is an owner-tagged lease on a single key. The TTL bounds how long
// a crashed worker can hold the cycle.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("lease store required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	case ttl <= 0:
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return false, nil
	}
	token := uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

// Extend renews the lease. false means the key expired and someone else took
// it; the caller should stop.
func (l *RedisLock) Extend(ctx context.Context) (bool, error) {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	if token == "" {
		return false, nil
	}
	kept, err := l.store.ExtendOwned(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", l.key, err)
	}
	if !kept {
		l.forget(token)
	}
	return kept, nil
}

// Release drops the lease if this worker still holds it.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}
	if _, err := l.store.ReleaseOwned(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

func (l *RedisLock) forget(token string) {
	l.mu.Lock()
	if l.token == token {
		l.token = ""
	}
	l.mu.Unlock()
}
