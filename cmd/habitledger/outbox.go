package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"habitledger/pkg/db"
	"habitledger/pkg/logger"
	"habitledger/pkg/mq"
	"habitledger/pkg/outbox"
)

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the transactional outbox",
	}
	cmd.AddCommand(outboxReplayCmd())
	return cmd
}

func outboxReplayCmd() *cobra.Command {
	var (
		eventID int64
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Republish failed outbox events, or a single event with --id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.NewLogger(cfg.Log.Level)
			defer log.Sync()

			ctx := cmd.Context()
			pool, err := db.NewConnection(ctx, cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			publisher, err := mq.NewPublisher(ctx, cfg.MQ.URL, log)
			if err != nil {
				return err
			}
			defer publisher.Close()

			replay := outbox.NewReplayService(outbox.NewRepository(pool), publisher, log)
			if eventID > 0 {
				if err := replay.ReplayEvent(ctx, eventID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed event %d\n", eventID)
				return nil
			}

			n, err := replay.ReplayFailedEvents(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d failed event(s)\n", n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&eventID, "id", 0, "replay only this event id")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum failed events to replay")
	return cmd
}
