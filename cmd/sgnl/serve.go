package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metorial/signal/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the signal HTTP API",
	Long: `Start the signal HTTP API.

Unless --worker=false is given, the delivery worker runs in the same
process. Without NATS, lifecycle notifications only reach stream clients
when the worker runs in process.`,
	GroupID:           "system",
	PersistentPreRunE: skipClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		withWorker, _ := cmd.Flags().GetBool("worker")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		srv := server.New(rt.store, nil, rt.objects, rt.logger)
		rt.startDelivery(srv)
		srv.SetDelivery(rt.delivery)
		if rt.subscriber != nil {
			go func() {
				if err := srv.RelayNotifications(ctx, rt.subscriber); err != nil {
					rt.logger.Error("notification relay stopped", "err", err)
				}
			}()
		}

		var workerDone <-chan struct{}
		if withWorker {
			if workerDone, err = rt.startWorker(ctx); err != nil {
				return err
			}
		}

		httpServer := &http.Server{
			Addr:              rt.cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(rt.cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			rt.logger.Info("HTTP server listening", "addr", rt.cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error("HTTP server error", "err", err)
			}
		}()

		rt.logger.Info("signal server started",
			"http_addr", rt.cfg.HTTPAddr,
			"worker", withWorker,
			"auth", rt.cfg.AuthToken != "",
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		rt.logger.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error("HTTP server shutdown error", "err", err)
		}
		rt.logger.Info("HTTP server stopped")

		cancel()
		if workerDone != nil {
			<-workerDone
			rt.logger.Info("worker stopped")
		}
		rt.logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("worker", true, "run the delivery worker in this process")
}
