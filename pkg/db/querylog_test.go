package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

func TestQueryLoggerOnlyReportsFailuresAndSlowStatements(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf, Format: "json"})
	q := newQueryLogger(logg, 100*time.Millisecond)
	stmt := func() (string, int64) { return "SELECT 1", 1 }

	q.Trace(context.Background(), time.Now(), stmt, nil)
	q.Trace(context.Background(), time.Now(), stmt, gorm.ErrRecordNotFound)
	require.Zero(t, buf.Len())

	q.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	require.Contains(t, buf.String(), "slow query")
	require.Contains(t, buf.String(), `"sql":"SELECT 1"`)

	buf.Reset()
	q.Trace(context.Background(), time.Now(), stmt, errors.New("relation does not exist"))
	require.Contains(t, buf.String(), "query failed")
}

func TestNewOpensSQLiteAndRejectsUnknownDrivers(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{Driver: "sqlite", DSN: "file::memory:", MaxOpenConns: 1}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())

	_, err = New(context.Background(), config.DBConfig{Driver: "oracle", DSN: "x"}, nil)
	require.ErrorContains(t, err, "unsupported database driver")

	_, err = New(context.Background(), config.DBConfig{}, nil)
	require.Error(t, err)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client, conn := memoryClient(t)

	require.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&ledgerRow{Note: "doomed"}).Error)
			panic("mid-transaction")
		})
	})
	require.Zero(t, countRows(t, conn))
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}.withDefaults()
	require.Equal(t, 10*time.Millisecond, p.backoff(1))
	require.Equal(t, 40*time.Millisecond, p.backoff(3))
	require.Equal(t, 50*time.Millisecond, p.backoff(4))
	require.Equal(t, 50*time.Millisecond, p.backoff(80))
	require.Equal(t, defaultTxAttempts, p.MaxAttempts)
}
