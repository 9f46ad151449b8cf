package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue worker without the HTTP API",
	Long: `Run the compliance queue worker until interrupted.

Several workers may share one Redis queue: a tenant lease keeps each
tenant on one worker at a time.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if cfg.Redis.Addr == "" {
		logger.Warn().Msg("no redis configured: the worker only sees jobs enqueued by this process")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.queue.Start(ctx, a.service.Handler()); err != nil {
		return fmt.Errorf("start queue worker: %w", err)
	}
	logger.Info().Msg("worker running")

	<-ctx.Done()
	logger.Info().Msg("worker stopping")
	return nil
}
