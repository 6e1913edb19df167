package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, ValidateFS(Migrations()))
}

func TestFreightSchemaInvariants(t *testing.T) {
	sql := readAll(t)

	checks := []string{
		"CREATE TYPE trip_status AS ENUM",
		"'delivered_pending_confirmation'",
		"CHECK (granted_slots >= 0 AND granted_slots <= required_slots)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_assignments_active_order_driver",
		"WHERE status NOT IN ('completed', 'cancelled')",
		"ux_transition_receipts_request",
		"ux_notifications_dedupe_key",
		"DROP TABLE IF EXISTS freight_orders;",
		"DROP TABLE IF EXISTS outbox_dlq;",
	}
	for _, want := range checks {
		if !strings.Contains(sql, want) {
			t.Errorf("migrations missing %q", want)
		}
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.ErrorContains(t, ValidateDir(dir), "invalid migration filename")

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20261001000000_only_up.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o644))
	require.ErrorContains(t, ValidateDir(dir), "-- +goose Down")
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	path, err := createAt(dir, "Add Driver Ratings!", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20261017093000_add_driver_ratings.sql"), path)
	require.NoError(t, ValidateDir(dir))

	_, err = createAt(dir, "add driver ratings", now)
	require.ErrorContains(t, err, "already exists")

	_, err = createAt(dir, "!!!", now)
	require.Error(t, err)
}

func readAll(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	err := fs.WalkDir(Migrations(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		raw, err := fs.ReadFile(Migrations(), path)
		if err != nil {
			return err
		}
		b.Write(raw)
		b.WriteByte('\n')
		return nil
	})
	require.NoError(t, err)
	return b.String()
}

func TestStepsSkipsEmptyResults(t *testing.T) {
	got := steps(nil, &goose.MigrationResult{
		Source:    &goose.Source{Version: 20261001120000, Path: "20261001120000_create_enums.sql"},
		Direction: "up",
	})
	require.Equal(t, []Step{{Version: 20261001120000, Path: "20261001120000_create_enums.sql", Direction: "up"}}, got)
}

func TestNewRequiresDB(t *testing.T) {
	_, err := New(nil, "")
	require.ErrorContains(t, err, "db is required")
}
