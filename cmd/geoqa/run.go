package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geoqa/internal/arcgis"
	"geoqa/internal/config"
	"geoqa/internal/logging"
	"geoqa/internal/pipeline"
	"geoqa/internal/qa"
	"geoqa/internal/report"
	"geoqa/internal/store"
)

var (
	settingsPath string
	sampleSize   int
	timeoutSecs  int
	retries      int
	delaySecs    float64
	workers      int
	historyDB    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Audit every configured layer and write the reports",
	Long: `Runs the full audit pipeline over the layer list:

  1. Acquire: layer metadata, a bounded feature sample, a pagination probe
  2. Evaluate: the fixed rule set against whatever was acquired
  3. Report: CSV summary, Markdown report, per-layer issue JSON

Layers are processed independently; a layer that times out or returns
garbage is reported as FAIL and the run continues. The process exits
zero as long as the run itself completes, regardless of layer outcomes.`,
	RunE: runAudit,
}

func init() {
	runCmd.Flags().StringVar(&settingsPath, "settings", "", "optional YAML run settings file")
	runCmd.Flags().IntVar(&sampleSize, "sample-size", 0, "per-layer feature sample cap (default 200)")
	runCmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "per-request timeout in seconds (default 20)")
	runCmd.Flags().IntVar(&retries, "retries", -1, "retries after the first attempt (default 2)")
	runCmd.Flags().Float64Var(&delaySecs, "delay", -1, "minimum seconds between requests (default 0.2)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "parallel layer workers (default 1, sequential)")
	runCmd.Flags().StringVar(&historyDB, "history", "", "SQLite run history database path")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	layers, err := config.LoadLayers(configPath, logging.Get(logging.CategoryPipeline))
	if err != nil {
		return fmt.Errorf("load layer list: %w", err)
	}

	client := arcgis.NewClient(arcgis.ClientConfig{
		Timeout:            cfg.Timeout(),
		Retries:            cfg.Retries,
		MinRequestInterval: cfg.Delay(),
		SampleSize:         cfg.SampleSize,
		Logger:             logging.Get(logging.CategoryClient),
	})
	runner := pipeline.NewRunner(client, cfg.Workers, logging.Get(logging.CategoryPipeline))

	ctx, cancel := signalContext()
	defer cancel()

	runID := uuid.NewString()
	started := time.Now()
	logger.Info("starting audit run",
		zap.String("run_id", runID),
		zap.Int("layers", len(layers)),
		zap.Int("workers", cfg.Workers))

	reports := runner.Run(ctx, layers)
	run := pipeline.RunInfoFor(runID, configPath, cfg.OutputDir, started, reports)

	if err := writeOutputs(cfg.OutputDir, reports, run); err != nil {
		return err
	}
	saveHistory(cfg, run, reports)

	printSummary(run, time.Since(started))
	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	return nil
}

// loadSettings layers flag overrides on top of the optional settings file.
func loadSettings(cmd *cobra.Command) (config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if settingsPath != "" {
		var err error
		cfg, err = config.LoadRunConfig(settingsPath)
		if err != nil {
			return cfg, err
		}
	}

	if cmd.Flags().Changed("sample-size") {
		cfg.SampleSize = sampleSize
	}
	if cmd.Flags().Changed("timeout") {
		cfg.TimeoutSeconds = timeoutSecs
	}
	if cmd.Flags().Changed("retries") {
		cfg.Retries = retries
	}
	if cmd.Flags().Changed("delay") {
		cfg.DelaySeconds = delaySecs
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if cmd.Flags().Changed("history") {
		cfg.HistoryDB = historyDB
	}
	if cmd.Flags().Changed("out") {
		cfg.OutputDir = outputDir
	} else if cfg.OutputDir == "" {
		cfg.OutputDir = outputDir
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func writeOutputs(dir string, reports []qa.LayerReport, run qa.RunInfo) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := report.WriteCSV(filepath.Join(dir, "qa_report.csv"), reports); err != nil {
		return err
	}
	if err := report.WriteMarkdown(filepath.Join(dir, "qa_report.md"), reports, run); err != nil {
		return err
	}
	issuesDir := filepath.Join(dir, "issues")
	for _, rep := range reports {
		if err := report.WriteLayerJSON(issuesDir, rep); err != nil {
			logger.Warn("failed to write layer issue file",
				zap.String("layer", rep.Layer.Name), zap.Error(err))
		}
	}
	return nil
}

// saveHistory persists the run when a history database is configured.
// History failures are logged, never fatal.
func saveHistory(cfg config.RunConfig, run qa.RunInfo, reports []qa.LayerReport) {
	if cfg.HistoryDB == "" {
		return
	}
	hs, err := store.Open(cfg.HistoryDB, logging.Get(logging.CategoryStore))
	if err != nil {
		logger.Warn("history store unavailable", zap.Error(err))
		return
	}
	defer hs.Close()
	if err := hs.SaveRun(run, reports); err != nil {
		logger.Warn("failed to save run history", zap.Error(err))
	}
}

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func printSummary(run qa.RunInfo, elapsed time.Duration) {
	fmt.Println()
	fmt.Printf("Run %s finished in %s\n", run.RunID, elapsed.Round(time.Millisecond))
	fmt.Printf("  %s %d layers\n", passStyle.Render("PASS"), run.PassCount)
	fmt.Printf("  %s %d layers\n", warnStyle.Render("WARN"), run.WarnCount)
	fmt.Printf("  %s %d layers\n", failStyle.Render("FAIL"), run.FailCount)
	fmt.Println(dimStyle.Render(fmt.Sprintf("  reports written to %s", run.OutputDir)))
}
