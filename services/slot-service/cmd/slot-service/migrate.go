package main

import (
	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/slotkeeper/libs/config"
	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/libs/runtime"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/settings"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/storage"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := settings.Load(*envFile); err != nil {
				return err
			}
			databaseURL, err := config.RequiredString("DATABASE_URL")
			if err != nil {
				return err
			}
			logger := runtime.NewLogger(serviceName)

			pool, err := db.Open(cmd.Context(), databaseURL, db.Options{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := storage.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
