// Package cli is the tripctl command tree: the driver-side client that sends
// trip status changes and keeps the ones the backend could not take in a local
// queue until they can be replayed.
//
//	tripctl send <assignment-id> <status> [--notes] [--lat --lng]
//	tripctl drain
//	tripctl run [--interval]
//	tripctl queue list | failed | resync <id>
//	tripctl status <assignment-id>
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/freightlane-backend/internal/statusqueue"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

const defaultConfigPath = "tripctl.yaml"

type app struct {
	configPath string
	stderr     io.Writer
}

// BuildCLI returns the tripctl root command.
func BuildCLI() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tripctl",
		Short:         "Send trip status changes, queueing them while offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "config file path")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) { a.stderr = cmd.ErrOrStderr() }

	root.AddCommand(
		a.sendCommand(),
		a.drainCommand(),
		a.runCommand(),
		a.queueCommand(),
		a.statusCommand(),
	)
	return root
}

// session is an opened queue plus what it needs to be closed.
type session struct {
	cfg   Config
	queue *statusqueue.Queue
	store *statusqueue.SQLiteStore
	logg  *logger.Logger
}

func (s *session) Close() error { return s.store.Close() }

func (a *app) open() (*session, error) {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	stderr := a.stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logg := logger.New(logger.Options{
		ServiceName: "tripctl",
		Level:       logger.ParseLevel(cfg.Log.Level),
		Output:      stderr,
		Format:      cfg.Log.Format,
	})

	store, err := statusqueue.OpenSQLiteStore(cfg.Queue.Path)
	if err != nil {
		return nil, err
	}
	sender, err := statusqueue.NewHTTPSender(cfg.API.BaseURL, cfg.API.Token, nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	queue, err := statusqueue.New(store, sender, statusqueue.Options{
		SendTimeout: cfg.Queue.SendTimeout,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Logger:      logg,
		OnDropped: func(item statusqueue.FailedTransition) {
			fmt.Fprintf(stderr, "gave up on %s -> %s after %d attempts (%s); run `tripctl queue resync %s` once resolved\n",
				item.AssignmentID, item.Target, item.Attempts, item.Reason, item.ID)
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &session{cfg: cfg, queue: queue, store: store, logg: logg}, nil
}

// withSession opens the queue for the duration of fn.
func (a *app) withSession(fn func(ctx context.Context, s *session) error) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, s)
}

func (a *app) sendCommand() *cobra.Command {
	var (
		notes    string
		lat, lng float64
	)
	cmd := &cobra.Command{
		Use:   "send <assignment-id> <status>",
		Short: "Send a status change now, or queue it if the backend is unreachable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignmentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid assignment id %q", args[0])
			}
			target, err := enums.ParseTripStatus(args[1])
			if err != nil {
				return err
			}
			t := statusqueue.Transition{AssignmentID: assignmentID, Target: target}
			if cmd.Flags().Changed("notes") {
				t.Notes = &notes
			}
			if cmd.Flags().Changed("lat") != cmd.Flags().Changed("lng") {
				return fmt.Errorf("--lat and --lng go together")
			}
			if cmd.Flags().Changed("lat") {
				t.Lat, t.Lng = &lat, &lng
			}

			return a.withSession(func(ctx context.Context, s *session) error {
				outcome, err := s.queue.EnqueueOrSend(ctx, t)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), outcome)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes for the counterparty")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude where the change happened")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude where the change happened")
	return cmd
}

func (a *app) drainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued status changes once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(func(ctx context.Context, s *session) error {
				report, err := s.queue.Drain(ctx)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), report)
			})
		},
	}
}

func (a *app) runCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep replaying queued status changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(func(ctx context.Context, s *session) error {
				every := s.cfg.Queue.DrainInterval
				if interval > 0 {
					every = interval
				}
				s.logg.Info(ctx, "draining queue every "+every.String())
				return s.queue.Run(ctx, every)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "drain interval (defaults to queue.drain_interval)")
	return cmd
}

func (a *app) queueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the local queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show status changes waiting to be replayed",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withSession(func(ctx context.Context, s *session) error {
					items, err := s.queue.Pending(ctx)
					if err != nil {
						return err
					}
					return printYAML(cmd.OutOrStdout(), items)
				})
			},
		},
		&cobra.Command{
			Use:   "failed",
			Short: "Show status changes that need manual reconciliation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withSession(func(ctx context.Context, s *session) error {
					items, err := s.queue.Failed(ctx)
					if err != nil {
						return err
					}
					return printYAML(cmd.OutOrStdout(), items)
				})
			},
		},
		&cobra.Command{
			Use:   "resync <id>",
			Short: "Put a failed status change back in the queue",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(ctx context.Context, s *session) error {
					item, err := s.queue.Resync(ctx, args[0])
					if err != nil {
						return err
					}
					return printYAML(cmd.OutOrStdout(), item)
				})
			},
		},
	)
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <assignment-id>",
		Short: "Show the last status the backend confirmed for an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignmentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid assignment id %q", args[0])
			}
			return a.withSession(func(ctx context.Context, s *session) error {
				known, err := s.queue.LastKnown(ctx, assignmentID)
				if err != nil {
					return err
				}
				if known == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no confirmed status yet")
					return nil
				}
				return printYAML(cmd.OutOrStdout(), known)
			})
		},
	}
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
