package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geoqa/internal/logging"
)

var (
	// Global flags
	configPath string
	outputDir  string
	logLevel   string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "geoqa",
	Short: "geoqa - automated QA for remote geospatial feature layers",
	Long: `geoqa audits ArcGIS-style FeatureServer layers over HTTP.

For each configured layer it fetches the metadata document, a bounded
feature sample, and a pagination probe, then evaluates a fixed set of
quality rules (reachability, schema sanity, geometry validity, update
recency, and more). One broken layer never aborts the run: every layer
gets a report, reachable or not.

Outputs: a CSV summary, a Markdown report, per-layer issue JSON, and an
optional SQLite run history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.Setup(outputDir, logLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "layers.csv", "layer list CSV (layer_name, service_url, ...)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "out", "o", "outputs", "output directory for reports and logs")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			logger.Warn("received signal, cancelling run", zap.String("signal", s.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sig)
	}()
	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
