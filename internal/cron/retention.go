package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

const (
	notificationRetentionDays    = 30
	outboxRetentionDays          = 30
	outboxMinAttempts            = 5
	locationHistoryRetentionDays = 90
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// purgeFunc deletes rows older than cutoff inside tx and reports how many went.
type purgeFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

// retentionJob removes rows past a fixed age, one table per job.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	db        txRunner
	retention int
	purge     purgeFunc
	fields    map[string]any
	now       func() time.Time
}

func newRetentionJob(name string, logg *logger.Logger, db txRunner, days int, purge purgeFunc) (*retentionJob, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if db == nil {
		return nil, fmt.Errorf("db runner required")
	}
	return &retentionJob{
		name:      name,
		logg:      logg,
		db:        db,
		retention: days,
		purge:     purge,
		fields:    map[string]any{},
		now:       time.Now,
	}, nil
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.purge(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	fields := map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}
	for k, v := range j.fields {
		fields[k] = v
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), j.name+" complete")
	return nil
}

type notificationsCleanupRepo interface {
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository notificationsCleanupRepo
	Retention  int
}

// NewNotificationCleanupJob prunes delivered trip notifications.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	days := params.Retention
	if days <= 0 {
		days = notificationRetentionDays
	}
	return newRetentionJob("notification-cleanup", params.Logger, params.DB, days, params.Repository.DeleteOlderThan)
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxRetentionRepo
	Retention   int
	MinAttempts int
}

// NewOutboxRetentionJob prunes published domain events.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	days := params.Retention
	if days <= 0 {
		days = outboxRetentionDays
	}
	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = outboxMinAttempts
	}
	repo := params.Repository
	job, err := newRetentionJob("outbox-retention", params.Logger, params.DB, days,
		func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			return repo.DeletePublishedBefore(ctx, tx, cutoff, minAttempts)
		})
	if err != nil {
		return nil, err
	}
	job.fields["min_attempts"] = minAttempts
	return job, nil
}

// NewLocationHistoryRetentionJob prunes old location snapshots.
func NewLocationHistoryRetentionJob(logg *logger.Logger, db txRunner, days int) (Job, error) {
	if days <= 0 {
		days = locationHistoryRetentionDays
	}
	return newRetentionJob("location-history-retention", logg, db, days, tracking.DeleteSnapshotsBefore)
}
