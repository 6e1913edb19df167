package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/db"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// DefaultDir is where `migrate create` and `migrate validate` look on disk.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations is the SQL compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrator applies goose migrations against one database. It never closes the
// handle it was given.
type Migrator struct {
	provider *goose.Provider
}

// New builds a Migrator over dir, or over the embedded set when dir is empty.
func New(sqlDB *sql.DB, dir string) (*Migrator, error) {
	if sqlDB == nil {
		return nil, errors.New("migrate: db is required")
	}
	source := Migrations()
	if dir != "" {
		source = os.DirFS(dir)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, sqlDB, source)
	if err != nil {
		return nil, fmt.Errorf("migrate: load migrations: %w", err)
	}
	return &Migrator{provider: p}, nil
}

// Step is one applied or rolled back migration.
type Step struct {
	Version   int64
	Path      string
	Direction string
}

func steps(results ...*goose.MigrationResult) []Step {
	out := make([]Step, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Step{Version: r.Source.Version, Path: r.Source.Path, Direction: r.Direction})
	}
	return out
}

func (m *Migrator) Up(ctx context.Context) ([]Step, error) {
	res, err := m.provider.Up(ctx)
	return steps(res...), err
}

// Down rolls back the most recent migration only.
func (m *Migrator) Down(ctx context.Context) ([]Step, error) {
	res, err := m.provider.Down(ctx)
	return steps(res), err
}

// To moves the schema up or down until it sits at version.
func (m *Migrator) To(ctx context.Context, version int64) ([]Step, error) {
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: read db version: %w", err)
	}
	var res []*goose.MigrationResult
	switch {
	case current == version:
		return nil, nil
	case current < version:
		res, err = m.provider.UpTo(ctx, version)
	default:
		res, err = m.provider.DownTo(ctx, version)
	}
	return steps(res...), err
}

// Pending lists migrations that have not been applied yet.
func (m *Migrator) Pending(ctx context.Context) ([]int64, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, s := range statuses {
		if s.State == goose.StatePending {
			out = append(out, s.Source.Version)
		}
	}
	return out, nil
}

// MaybeRunDev applies the embedded migrations on boot in dev with
// FREIGHTLANE_AUTO_MIGRATE set. Elsewhere `migrate up` is run explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate || cfg.DB.Driver == "sqlite" {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	m, err := New(sqlDB, "")
	if err != nil {
		return err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "schema migrations applied")
	return nil
}
