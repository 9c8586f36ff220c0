package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Queue a retention sweep now",
	Long: `Queue a retention sweep outside the cron schedule.

Sweeps are collapsed per day, so running this more than once a day has no
further effect until the queued sweep ran. With --run every runnable task,
the sweep and the purges it queues included, is executed before the command
returns.`,
	GroupID:           "system",
	PersistentPreRunE: skipClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		run, _ := cmd.Flags().GetBool("run")

		ctx := context.Background()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		rt.startDelivery(nil)

		if err := rt.delivery.ScheduleSweep(ctx); err != nil {
			return fmt.Errorf("queue retention sweep: %w", err)
		}
		if !run {
			fmt.Fprintln(cmd.OutOrStdout(), "retention sweep queued")
			return nil
		}
		n, err := rt.queue.Drain(ctx)
		if err != nil {
			return fmt.Errorf("drain queue: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "retention sweep done (%d tasks run)\n", n)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Bool("run", false, "run queued work to completion instead of leaving it to a worker")
}
