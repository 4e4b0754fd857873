package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"habitledger/internal/habit"
	"habitledger/internal/repository"
	"habitledger/pkg/db"
	"habitledger/pkg/logger"
)

func arrearsCmd() *cobra.Command {
	var (
		userID int
		today  string
	)
	cmd := &cobra.Command{
		Use:   "arrears",
		Short: "Reconcile one user's backlog and print it as JSON",
		Long: `Reconcile one user's backlog directly against the database, bypassing the cache.

Examples:
  habitledger arrears --user 7
  habitledger arrears --user 7 --today 2024-01-10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			day := habit.DateKeyOf(time.Now())
			if today != "" {
				d, err := habit.ParseDateKey(today)
				if err != nil {
					return err
				}
				day = d
			}

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

			engine := habit.NewEngine(repository.NewHabitRepository(pool, log), cfg.HabitEngine(), log)
			entries, err := engine.ListArrears(ctx, userID, day)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []habit.ArrearEntry{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"user_id": userID,
				"today":   day,
				"arrears": entries,
			})
		},
	}
	cmd.Flags().IntVar(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&today, "today", "", "reconciliation date YYYY-MM-DD (default: local today)")
	return cmd
}
