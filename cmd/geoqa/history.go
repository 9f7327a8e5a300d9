package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"geoqa/internal/logging"
	"geoqa/internal/qa"
	"geoqa/internal/store"
)

var (
	historyPath  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history [layer-name]",
	Short: "Show past runs from the history database",
	Long: `Lists recent runs stored in the SQLite history database.

With a layer name argument, shows that layer's outcomes across runs
instead, so score drift and recurring failures are visible.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyPath, "db", "outputs/history.db", "SQLite history database path")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "maximum entries to show")
}

func showHistory(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(historyPath); err != nil {
		return fmt.Errorf("history database %s not found", historyPath)
	}
	hs, err := store.Open(historyPath, logging.Get(logging.CategoryStore))
	if err != nil {
		return err
	}
	defer hs.Close()

	if len(args) == 1 {
		return printLayerHistory(hs, args[0])
	}
	return printRuns(hs)
}

func printRuns(hs *store.HistoryStore) error {
	runs, err := hs.RecentRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tLAYERS\tPASS\tWARN\tFAIL")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			run.RunID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.TotalLayers,
			passStyle.Render(fmt.Sprintf("%d", run.PassCount)),
			warnStyle.Render(fmt.Sprintf("%d", run.WarnCount)),
			failStyle.Render(fmt.Sprintf("%d", run.FailCount)))
	}
	return w.Flush()
}

func printLayerHistory(hs *store.HistoryStore, layerName string) error {
	outcomes, err := hs.LayerHistory(layerName, historyLimit)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Printf("No history for layer %q.\n", layerName)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tSCORE\tTOP ISSUES")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			o.StartedAt.Format("2006-01-02 15:04:05"),
			styleFor(o.OverallStatus).Render(string(o.OverallStatus)),
			o.HealthScore,
			o.TopIssues)
	}
	return w.Flush()
}

func styleFor(status qa.Status) lipgloss.Style {
	switch status {
	case qa.StatusPass:
		return passStyle
	case qa.StatusWarn:
		return warnStyle
	case qa.StatusFail:
		return failStyle
	default:
		return dimStyle
	}
}
