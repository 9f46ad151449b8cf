package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-compliance/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the queue worker",
	Long: `Start the HTTP API together with the compliance queue worker.

The API provides endpoints for:
  - POST /api/v1/tenants/:tenant/invoices/:invoice/compliance         - Schedule an invoice
  - POST /api/v1/tenants/:tenant/invoices/:invoice/compliance/cancel  - Schedule a cancellation
  - GET  /api/v1/tenants/:tenant/invoices/:invoice/compliance         - Compliance status
  - GET  /api/v1/tenants/:tenant/chain/verify                         - Recompute a tenant chain
  - GET  /api/v1/ops/circuit                                          - Authority breakers
  - GET  /api/v1/ops/queue                                            - Queue size and history
  - GET  /metrics                                                     - Prometheus metrics
  - GET  /health                                                      - Health check

Examples:
  # Start server on default port
  compliance serve

  # Start on a custom port in debug mode
  compliance serve --address :9090 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (env: COMPLIANCE_SERVER_ADDRESS)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "HTTP write timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	config := &server.Config{
		Address:      firstString(serverAddr, cfg.Server.Address),
		ReadTimeout:  firstDuration(readTimeout, cfg.Server.ReadTimeout),
		WriteTimeout: firstDuration(writeTimeout, cfg.Server.WriteTimeout),
		Debug:        serverDebug || cfg.Server.Debug,
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

	srv := server.NewServer(config, server.Dependencies{
		Service: a.service,
		Queue:   a.queue,
		Metrics: a.metrics,
		Logger:  logger,
	})

	fmt.Printf("Starting server on %s\n", config.Address)
	err = srv.Run(ctx)
	fmt.Println("\nShutting down server...")
	return err
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
