package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/db"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the freightlane schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", migrate.DefaultDir, "migrations directory; empty uses the embedded set")

	root.AddCommand(
		&cobra.Command{
			Use:   "create <name>",
			Short: "Write an empty migration file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := migrate.CreateSQLMigration(dir, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check migration filenames and goose markers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.ValidateDir(dir); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations ok")
				return nil
			},
		},
		schemaCommand(&dir, "up", "Apply every pending migration", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) ([]migrate.Step, error) { return m.Up(ctx) }),
		schemaCommand(&dir, "down", "Roll back the latest migration", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) ([]migrate.Step, error) { return m.Down(ctx) }),
		schemaCommand(&dir, "to <version>", "Move the schema to a YYYYMMDDHHMMSS version", cobra.ExactArgs(1),
			func(ctx context.Context, m *migrate.Migrator, args []string) ([]migrate.Step, error) {
				v, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid version %q", args[0])
				}
				return m.To(ctx, v)
			}),
		&cobra.Command{
			Use:   "pending",
			Short: "List migrations not yet applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *migrate.Migrator, _ *logger.Logger) error {
					versions, err := m.Pending(ctx)
					if err != nil {
						return err
					}
					for _, v := range versions {
						fmt.Fprintln(cmd.OutOrStdout(), v)
					}
					return nil
				})
			},
		},
	)
	return root
}

type schemaAction func(ctx context.Context, m *migrate.Migrator, args []string) ([]migrate.Step, error)

func schemaCommand(dir *string, use, short string, args cobra.PositionalArgs, action schemaAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			return withMigrator(cmd.Context(), *dir, func(ctx context.Context, m *migrate.Migrator, logg *logger.Logger) error {
				done, err := action(ctx, m, argv)
				for _, s := range done {
					logg.Info(logg.WithFields(ctx, map[string]any{"version": s.Version, "direction": s.Direction}), s.Path)
				}
				return err
			})
		},
	}
}

func withMigrator(ctx context.Context, dir string, fn func(context.Context, *migrate.Migrator, *logger.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": dir})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	m, err := migrate.New(sqlDB, dir)
	if err != nil {
		return err
	}
	return fn(ctx, m, logg)
}
