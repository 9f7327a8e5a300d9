// Package pipeline runs the per-layer audit: acquisition, the nine-rule
// evaluation, and aggregation into a LayerReport, inside a failure boundary
// that keeps one layer's problems away from the rest of the batch.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"geoqa/internal/arcgis"
	"geoqa/internal/qa"
	"geoqa/internal/rules"
)

// Runner executes the audit for a set of layers. The client is shared so its
// inter-request pacing accumulates across the whole run and is never reset
// per layer.
type Runner struct {
	client  *arcgis.Client
	workers int
	log     *zap.Logger
	now     func() time.Time
}

// NewRunner builds a runner. workers <= 1 means sequential processing in
// configuration order; larger values bound a worker pool while the shared
// client keeps pacing and retry semantics per-request.
func NewRunner(client *arcgis.Client, workers int, log *zap.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{client: client, workers: workers, log: log, now: time.Now}
}

// Run audits every layer and returns one report per layer, in input order.
// It never returns an error: per-layer failures are inside the reports.
func (r *Runner) Run(ctx context.Context, layers []qa.LayerConfig) []qa.LayerReport {
	reports := make([]qa.LayerReport, len(layers))

	if r.workers <= 1 {
		for i, layer := range layers {
			r.log.Info("auditing layer",
				zap.Int("index", i+1), zap.Int("total", len(layers)), zap.String("layer", layer.Name))
			reports[i] = r.RunLayer(ctx, layer)
		}
		return reports
	}

	eg := new(errgroup.Group)
	eg.SetLimit(r.workers)
	for i, layer := range layers {
		i, layer := i, layer
		eg.Go(func() error {
			reports[i] = r.RunLayer(ctx, layer)
			return nil
		})
	}
	_ = eg.Wait() // RunLayer never errors
	return reports
}

// RunLayer runs one layer end-to-end. It never panics and never returns an
// error: an unexpected fault is recorded as an acquisition error and the
// rules resolve against whatever was acquired.
func (r *Runner) RunLayer(ctx context.Context, layer qa.LayerConfig) (report qa.LayerReport) {
	started := r.now()
	acq := &qa.AcquisitionContext{}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("layer audit panicked",
				zap.String("layer", layer.Name), zap.Any("panic", rec))
			acq.RecordError(opOrchestrator, "panic", fmt.Sprintf("unexpected fault: %v", rec))
			report = r.finalize(layer, acq, rules.EvaluateAt(acq, layer, started), started)
		}
	}()

	if err := layer.Validate(); err != nil {
		r.log.Error("layer config invalid", zap.String("layer", layer.Name), zap.Error(err))
		return r.configErrorReport(layer, err, started)
	}

	*acq = *BuildContext(ctx, r.client, layer, r.log)
	results := rules.EvaluateAt(acq, layer, started)
	report = r.finalize(layer, acq, results, started)

	r.log.Info("layer audit complete",
		zap.String("layer", layer.Name),
		zap.String("status", string(report.OverallStatus)),
		zap.Int("health_score", report.HealthScore),
		zap.Int("acquisition_errors", len(report.Errors)),
		zap.Duration("elapsed", r.now().Sub(started)))
	return report
}

// finalize assembles the immutable report from the rule results.
func (r *Runner) finalize(layer qa.LayerConfig, acq *qa.AcquisitionContext, results []qa.RuleResult, started time.Time) qa.LayerReport {
	report := qa.LayerReport{
		Layer:         layer,
		OverallStatus: qa.Aggregate(results),
		Results:       results,
		Errors:        acq.Errors,
		CountEstimate: acq.TotalEstimate,
		HealthScore:   qa.HealthScore(results),
		TopIssues:     qa.TopIssues(results),
		Timestamp:     started,
	}
	if m := acq.Metadata; m != nil {
		report.Excerpt = qa.MetadataExcerpt{
			Name:           m.Name,
			GeometryType:   m.GeometryType,
			MaxRecordCount: m.MaxRecordCount,
			Capabilities:   m.Capabilities,
		}
	}
	return report
}

// configErrorReport fails a layer before acquisition: reachability carries
// the config error as evidence, the remaining eight rules resolve NA, and the
// nine-results invariant holds.
func (r *Runner) configErrorReport(layer qa.LayerConfig, err error, started time.Time) qa.LayerReport {
	names := rules.Names()
	results := make([]qa.RuleResult, 0, len(names))
	for _, name := range names {
		if name == rules.RuleReachability {
			results = append(results, qa.RuleResult{
				Rule:     name,
				Status:   qa.StatusFail,
				Message:  fmt.Sprintf("invalid layer configuration: %v", err),
				Evidence: map[string]any{"config_error": err.Error()},
			})
			continue
		}
		results = append(results, qa.RuleResult{
			Rule:     name,
			Status:   qa.StatusNA,
			Message:  "layer configuration invalid",
			Evidence: map[string]any{},
		})
	}
	return qa.LayerReport{
		Layer:         layer,
		OverallStatus: qa.StatusFail,
		Results:       results,
		Errors:        []qa.AcquisitionError{{Op: "config", Kind: "config_error", Message: err.Error()}},
		HealthScore:   qa.HealthScore(results),
		TopIssues:     qa.TopIssues(results),
		Timestamp:     started,
	}
}

// RunInfoFor summarizes a completed run for reporting and history.
func RunInfoFor(runID, configPath, outputDir string, started time.Time, reports []qa.LayerReport) qa.RunInfo {
	info := qa.RunInfo{
		RunID:       runID,
		StartedAt:   started,
		ConfigPath:  configPath,
		OutputDir:   outputDir,
		TotalLayers: len(reports),
	}
	for _, rep := range reports {
		switch rep.OverallStatus {
		case qa.StatusPass:
			info.PassCount++
		case qa.StatusWarn:
			info.WarnCount++
		case qa.StatusFail:
			info.FailCount++
		}
	}
	return info
}
