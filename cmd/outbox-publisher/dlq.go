package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/db"
	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox"
)

func dlqCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered events",
	}

	var filter struct {
		eventType string
		reason    string
		limit     int
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent dead-lettered events",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			f := outbox.DLQFilter{Limit: filter.limit}
			if filter.eventType != "" {
				t, err := enums.ParseOutboxEventType(filter.eventType)
				if err != nil {
					return err
				}
				f.EventType = t
			}
			if filter.reason != "" {
				r, err := enums.ParseOutboxDLQErrorReason(filter.reason)
				if err != nil {
					return err
				}
				f.Reason = r
			}
			return withDB(c.Context(), func(ctx context.Context, client *db.Client) error {
				rows, err := outbox.NewDLQRepository(client.DB()).List(ctx, f)
				if err != nil {
					return err
				}
				return printDeadLetters(c.OutOrStdout(), rows)
			})
		},
	}
	list.Flags().StringVar(&filter.eventType, "type", "", "only this event type")
	list.Flags().StringVar(&filter.reason, "reason", "", "only this failure reason")
	list.Flags().IntVar(&filter.limit, "limit", 0, "max rows")

	replay := &cobra.Command{
		Use:   "replay <event-id>...",
		Short: "Requeue dead-lettered events with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(args))
			for _, a := range args {
				id, err := uuid.Parse(a)
				if err != nil {
					return fmt.Errorf("invalid event id %q", a)
				}
				ids = append(ids, id)
			}
			return withDB(c.Context(), func(ctx context.Context, client *db.Client) error {
				events := outbox.NewRepository(client.DB())
				dlq := outbox.NewDLQRepository(client.DB())
				for _, id := range ids {
					var found bool
					err := client.WithTx(ctx, func(tx *gorm.DB) error {
						var err error
						found, err = dlq.ReplayTx(tx, events, id)
						return err
					})
					if err != nil {
						return err
					}
					state := "requeued"
					if !found {
						state = "not in dlq"
					}
					fmt.Fprintf(c.OutOrStdout(), "%s\t%s\n", id, state)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, replay)
	return cmd
}

func withDB(ctx context.Context, fn func(context.Context, *db.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logg, err := boot()
	if err != nil {
		return err
	}
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, client)
}

func printDeadLetters(w io.Writer, rows []models.OutboxDLQ) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT ID\tTYPE\tREASON\tATTEMPTS\tFAILED AT\tERROR")
	for _, r := range rows {
		msg := ""
		if r.ErrorMessage != nil {
			msg = *r.ErrorMessage
			if len(msg) > 80 {
				msg = msg[:77] + "..."
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.EventID, r.EventType, r.ErrorReason, r.AttemptCount, r.FailedAt.UTC().Format(time.RFC3339), msg)
	}
	return tw.Flush()
}
