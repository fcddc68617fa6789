package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/slotkeeper/libs/runtime"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/settings"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/sweeper"
)

func newSweepCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete unpaid online holds older than PENDING_GRACE once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(*envFile)
			if err != nil {
				return err
			}
			logger := runtime.NewLogger(serviceName)

			a, err := newApp(cmd.Context(), s, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := sweeper.NewWorker(a.manager, logger, sweeper.WorkerConfig{}).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d expired holds\n", n)
			return nil
		},
	}
}
