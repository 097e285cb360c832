package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"marketflow/internal/ui"
)

var (
	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "marketflow",
		Short: "Load marketing data into Snowflake and compute customer features",
		Long: `marketflow loads raw customer demographics and clickstream files from
Snowflake stages, checks their quality, merges them into the customer
dimension and click event fact tables, and writes daily customer features.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command. Any returned error is shown and the process
// exits with status 1.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.ShowError(err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (environment variables take precedence)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
}
