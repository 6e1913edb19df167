package statusqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

// Store persists queued transitions on the client.
type Store interface {
	Enqueue(ctx context.Context, item QueuedTransition) error
	Pending(ctx context.Context) ([]QueuedTransition, error)
	MarkAttempt(ctx context.Context, id string, lastErr string) (int, error)
	Delete(ctx context.Context, id string) error
	MoveToFailed(ctx context.Context, item QueuedTransition, reason string, at time.Time) error
	Failed(ctx context.Context) ([]FailedTransition, error)
	Resync(ctx context.Context, id string, at time.Time) (*QueuedTransition, error)
	SetLastKnown(ctx context.Context, assignmentID uuid.UUID, status enums.TripStatus, at time.Time) error
	LastKnown(ctx context.Context, assignmentID uuid.UUID) (*LastKnownStatus, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS queued_transitions (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    assignment_id TEXT NOT NULL,
    target_status TEXT NOT NULL,
    notes         TEXT,
    lat           REAL,
    lng           REAL,
    requested_at  TEXT NOT NULL,
    attempts      INTEGER NOT NULL DEFAULT 0,
    last_error    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS ix_queued_transitions_requested
    ON queued_transitions(requested_at, seq);

CREATE TABLE IF NOT EXISTS failed_transitions (
    id            TEXT PRIMARY KEY,
    assignment_id TEXT NOT NULL,
    target_status TEXT NOT NULL,
    notes         TEXT,
    lat           REAL,
    lng           REAL,
    requested_at  TEXT NOT NULL,
    attempts      INTEGER NOT NULL,
    last_error    TEXT NOT NULL DEFAULT '',
    reason        TEXT NOT NULL,
    failed_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS last_known_status (
    assignment_id TEXT PRIMARY KEY,
    status        TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);
`

// fixed width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps the queue in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (or creates) the queue database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// one writer; the queue is owned by a single process
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate queue db: %w", err)
	}
	return &SQLiteStore{db: sqlDB}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Enqueue(ctx context.Context, item QueuedTransition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_transitions (id, assignment_id, target_status, notes, lat, lng, requested_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.AssignmentID.String(), string(item.Target), item.Notes, item.Lat, item.Lng,
		item.RequestedAt.UTC().Format(timeLayout), item.Attempts, item.LastError)
	return err
}

func (s *SQLiteStore) Pending(ctx context.Context) ([]QueuedTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assignment_id, target_status, notes, lat, lng, requested_at, attempts, last_error
		FROM queued_transitions
		ORDER BY requested_at, seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []QueuedTransition
	for rows.Next() {
		item, err := scanQueued(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkAttempt records a failed delivery and returns the new attempt count.
func (s *SQLiteStore) MarkAttempt(ctx context.Context, id string, lastErr string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE queued_transitions SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
		RETURNING attempts`, lastErr, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "queued transition not found")
	}
	return attempts, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queued_transitions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) MoveToFailed(ctx context.Context, item QueuedTransition, reason string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO failed_transitions
		    (id, assignment_id, target_status, notes, lat, lng, requested_at, attempts, last_error, reason, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.AssignmentID.String(), string(item.Target), item.Notes, item.Lat, item.Lng,
		item.RequestedAt.UTC().Format(timeLayout), item.Attempts, item.LastError, reason,
		at.UTC().Format(timeLayout)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queued_transitions WHERE id = ?`, item.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Failed(ctx context.Context) ([]FailedTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assignment_id, target_status, notes, lat, lng, requested_at, attempts, last_error, reason, failed_at
		FROM failed_transitions
		ORDER BY failed_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []FailedTransition
	for rows.Next() {
		var (
			f        FailedTransition
			rawID    string
			target   string
			notes    sql.NullString
			lat, lng sql.NullFloat64
			req      string
			failedAt string
		)
		if err := rows.Scan(&f.ID, &rawID, &target, &notes, &lat, &lng, &req, &f.Attempts, &f.LastError, &f.Reason, &failedAt); err != nil {
			return nil, err
		}
		if err := fill(&f.QueuedTransition, rawID, target, notes, lat, lng, req); err != nil {
			return nil, err
		}
		if f.FailedAt, err = time.Parse(timeLayout, failedAt); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

// Resync moves a failed item back to the end of the queue with a fresh attempt budget.
// The id is kept so a replay of an already-applied transition stays idempotent.
func (s *SQLiteStore) Resync(ctx context.Context, id string, at time.Time) (*QueuedTransition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, assignment_id, target_status, notes, lat, lng, requested_at, attempts, last_error
		FROM failed_transitions WHERE id = ?`, id)
	item, err := scanQueued(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "failed transition not found")
	}
	if err != nil {
		return nil, err
	}

	item.Attempts = 0
	item.LastError = ""
	item.RequestedAt = at.UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO queued_transitions (id, assignment_id, target_status, notes, lat, lng, requested_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '')`,
		item.ID, item.AssignmentID.String(), string(item.Target), item.Notes, item.Lat, item.Lng,
		item.RequestedAt.Format(timeLayout)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM failed_transitions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &item, nil
}

// SetLastKnown stores status unless a more advanced one is already cached.
func (s *SQLiteStore) SetLastKnown(ctx context.Context, assignmentID uuid.UUID, status enums.TripStatus, at time.Time) error {
	current, err := s.LastKnown(ctx, assignmentID)
	if err != nil {
		return err
	}
	if current != nil {
		status = enums.MaxTripStatus(current.Status, status)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO last_known_status (assignment_id, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(assignment_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		assignmentID.String(), string(status), at.UTC().Format(timeLayout))
	return err
}

// LastKnown returns nil, nil when nothing is cached for the assignment.
func (s *SQLiteStore) LastKnown(ctx context.Context, assignmentID uuid.UUID) (*LastKnownStatus, error) {
	var (
		status    string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, updated_at FROM last_known_status WHERE assignment_id = ?`,
		assignmentID.String()).Scan(&status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, err
	}
	return &LastKnownStatus{AssignmentID: assignmentID, Status: enums.TripStatus(status), UpdatedAt: at}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueued(row scanner) (QueuedTransition, error) {
	var (
		item     QueuedTransition
		rawID    string
		target   string
		notes    sql.NullString
		lat, lng sql.NullFloat64
		req      string
	)
	if err := row.Scan(&item.ID, &rawID, &target, &notes, &lat, &lng, &req, &item.Attempts, &item.LastError); err != nil {
		return item, err
	}
	err := fill(&item, rawID, target, notes, lat, lng, req)
	return item, err
}

func fill(item *QueuedTransition, rawID, target string, notes sql.NullString, lat, lng sql.NullFloat64, requestedAt string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("queued transition %s: %w", item.ID, err)
	}
	item.AssignmentID = id
	item.Target = enums.TripStatus(target)
	if notes.Valid {
		n := notes.String
		item.Notes = &n
	}
	if lat.Valid && lng.Valid {
		la, ln := lat.Float64, lng.Float64
		item.Lat, item.Lng = &la, &ln
	}
	item.RequestedAt, err = time.Parse(timeLayout, requestedAt)
	return err
}
