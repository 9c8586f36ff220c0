package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:               "worker",
	Short:             "Run the delivery worker without the HTTP API",
	GroupID:           "system",
	PersistentPreRunE: skipClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		rt.startDelivery(nil)
		done, err := rt.startWorker(ctx)
		if err != nil {
			return err
		}
		rt.logger.Info("signal worker started", "concurrency", rt.cfg.WorkerConcurrency)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		rt.logger.Info("received signal, shutting down", "signal", sig)

		cancel()
		<-done
		rt.logger.Info("shutdown complete")
		return nil
	},
}
