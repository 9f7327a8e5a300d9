// Package store persists run history in SQLite so successive audits of the
// same layers can be compared. Store failures are reported to the caller but
// the pipeline treats them as non-fatal.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"geoqa/internal/qa"
)

// HistoryStore records pipeline runs and per-layer outcomes.
type HistoryStore struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// Open initializes the SQLite database at path, creating the schema if
// needed.
func Open(path string, log *zap.Logger) (*HistoryStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		log.Debug("failed to set sqlite synchronous=NORMAL", zap.Error(err))
	}

	s := &HistoryStore{db: db, path: path, log: log}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func (s *HistoryStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		config_path TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		total_layers INTEGER NOT NULL,
		pass_count INTEGER NOT NULL,
		warn_count INTEGER NOT NULL,
		fail_count INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS layer_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		layer_name TEXT NOT NULL,
		overall_status TEXT NOT NULL,
		health_score INTEGER NOT NULL,
		top_issues TEXT NOT NULL DEFAULT '',
		report_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_layer_results_run ON layer_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_layer_results_name ON layer_results(layer_name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize history schema: %w", err)
	}
	return nil
}

// SaveRun persists one run and all its layer reports in a transaction.
func (s *HistoryStore) SaveRun(run qa.RunInfo, reports []qa.LayerReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, started_at, config_path, output_dir, total_layers, pass_count, warn_count, fail_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt.UTC(), run.ConfigPath, run.OutputDir,
		run.TotalLayers, run.PassCount, run.WarnCount, run.FailCount,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, rep := range reports {
		data, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("marshal report for %s: %w", rep.Layer.Name, err)
		}
		_, err = tx.Exec(
			`INSERT INTO layer_results (run_id, layer_name, overall_status, health_score, top_issues, report_json)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, rep.Layer.Name, string(rep.OverallStatus), rep.HealthScore, rep.TopIssues, string(data),
		)
		if err != nil {
			return fmt.Errorf("insert layer result for %s: %w", rep.Layer.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	s.log.Info("run saved to history",
		zap.String("run_id", run.RunID), zap.Int("layers", len(reports)))
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *HistoryStore) RecentRuns(limit int) ([]qa.RunInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT run_id, started_at, config_path, output_dir, total_layers, pass_count, warn_count, fail_count
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []qa.RunInfo
	for rows.Next() {
		var run qa.RunInfo
		var startedAt time.Time
		if err := rows.Scan(&run.RunID, &startedAt, &run.ConfigPath, &run.OutputDir,
			&run.TotalLayers, &run.PassCount, &run.WarnCount, &run.FailCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = startedAt
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LayerOutcome is one historical result for a layer.
type LayerOutcome struct {
	RunID         string
	StartedAt     time.Time
	OverallStatus qa.Status
	HealthScore   int
	TopIssues     string
}

// LayerHistory returns a layer's outcomes across runs, newest first.
func (s *HistoryStore) LayerHistory(layerName string, limit int) ([]LayerOutcome, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT lr.run_id, r.started_at, lr.overall_status, lr.health_score, lr.top_issues
		 FROM layer_results lr JOIN runs r ON r.run_id = lr.run_id
		 WHERE lr.layer_name = ?
		 ORDER BY r.started_at DESC LIMIT ?`, layerName, limit)
	if err != nil {
		return nil, fmt.Errorf("query layer history: %w", err)
	}
	defer rows.Close()

	var outcomes []LayerOutcome
	for rows.Next() {
		var o LayerOutcome
		var status string
		if err := rows.Scan(&o.RunID, &o.StartedAt, &status, &o.HealthScore, &o.TopIssues); err != nil {
			return nil, fmt.Errorf("scan layer outcome: %w", err)
		}
		o.OverallStatus = qa.Status(status)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
