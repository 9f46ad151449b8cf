package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rezonia/invoice-compliance/internal/config"
	"github.com/rezonia/invoice-compliance/internal/logging"
)

var (
	version = "1.0.0"

	// Global flags
	configFile   string
	logLevel     string
	verbose      bool
	outputFormat string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Fiscal compliance pipeline for issued invoices",
	Long: `Compliance builds a hash-chained fiscal record for every issued invoice,
signs it with the tenant certificate and delivers it to the tax authority.

Configuration is read from an optional YAML file and COMPLIANCE_*
environment variables (for example COMPLIANCE_DATABASE_DSN,
COMPLIANCE_REDIS_ADDR, COMPLIANCE_NATS_URL).

Examples:
  # Run the API and the queue worker
  compliance serve --config compliance.yaml

  # Run only the queue worker
  compliance worker

  # Schedule an invoice
  compliance enqueue tenant-1 inv-0001

  # Check a tenant chain
  compliance chain verify tenant-1

  # Verify a signed record
  compliance verify record.xml`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (env: COMPLIANCE_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "table", "Output format (json, table)")
}

// initConfig loads configuration; flags win over the file and environment
func initConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
		return err
	}
	if verbose && logLevel == "" {
		v.Set("log.level", "debug")
	}

	loaded, err := config.LoadWith(v, configFile)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Log.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	return nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
