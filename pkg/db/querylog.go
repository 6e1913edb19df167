package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// queryLogger sends gorm's trace output through the service logger: failed
// statements at error and slow ones at warn. Everything else is dropped.
type queryLogger struct {
	logg *logger.Logger
	slow time.Duration
}

func newQueryLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slow: slow}
}

func (q *queryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return q }

func (q *queryLogger) Info(context.Context, string, ...any) {}

func (q *queryLogger) Warn(context.Context, string, ...any) {}

func (q *queryLogger) Error(context.Context, string, ...any) {}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	took := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, context.Canceled)
	slow := q.slow > 0 && took >= q.slow
	if !failed && !slow {
		return
	}
	sql, rows := fc()
	ctx = q.logg.WithFields(ctx, map[string]any{"sql": sql, "rows": rows, "took_ms": took.Milliseconds()})
	if failed {
		q.logg.Error(ctx, "query failed", err)
		return
	}
	q.logg.Warn(ctx, "slow query")
}
