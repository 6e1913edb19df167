package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// WithTx runs fn in a transaction. A returned error or a panic rolls back.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		tx.Rollback()
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit().Error; err != nil {
		return err
	}
	committed = true
	return nil
}

// RetryPolicy bounds WithTxRetry.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	OnRetry        func(attempt int, err error)
}

const (
	defaultTxAttempts = 5
	defaultTxBackoff  = 25 * time.Millisecond
	defaultTxCeiling  = time.Second
)

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultTxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultTxBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultTxCeiling
	}
	return p
}

// backoff is the wait before attempt n+1.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.InitialBackoff << (n - 1)
	if d <= 0 || d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// WithTxRetry reruns the whole transaction while it fails on lock or
// serialization contention. Any other error, or ctx ending, stops it.
func (c *Client) WithTxRetry(ctx context.Context, policy RetryPolicy, fn func(tx *gorm.DB) error) error {
	policy = policy.withDefaults()
	var err error
	for attempt := 1; ; attempt++ {
		err = c.WithTx(ctx, fn)
		if err == nil || !IsContention(err) {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		if attempt >= policy.MaxAttempts {
			return err
		}
		wait := time.NewTimer(policy.backoff(attempt))
		select {
		case <-ctx.Done():
			wait.Stop()
			return err
		case <-wait.C:
		}
	}
}
