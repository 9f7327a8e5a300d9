package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoqa/internal/qa"
)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func runWith(id string, started time.Time, pass, warn, fail int) qa.RunInfo {
	return qa.RunInfo{
		RunID:       id,
		StartedAt:   started,
		ConfigPath:  "layers.csv",
		OutputDir:   "outputs",
		TotalLayers: pass + warn + fail,
		PassCount:   pass,
		WarnCount:   warn,
		FailCount:   fail,
	}
}

func layerReport(name string, status qa.Status, score int) qa.LayerReport {
	return qa.LayerReport{
		Layer:         qa.LayerConfig{Name: name, ServiceURL: "https://gis.example.com/FeatureServer/0"},
		OverallStatus: status,
		HealthScore:   score,
		TopIssues:     "",
		Timestamp:     time.Now().UTC(),
	}
}

func TestSaveAndListRuns(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(runWith("run-1", base, 2, 0, 0), []qa.LayerReport{
		layerReport("Parks", qa.StatusPass, 100),
		layerReport("Hydrants", qa.StatusPass, 100),
	}))
	require.NoError(t, s.SaveRun(runWith("run-2", base.Add(time.Hour), 1, 1, 0), []qa.LayerReport{
		layerReport("Parks", qa.StatusPass, 100),
		layerReport("Hydrants", qa.StatusWarn, 83),
	}))

	runs, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "run-1", runs[1].RunID)
	assert.Equal(t, 2, runs[0].TotalLayers)
	assert.Equal(t, 1, runs[0].WarnCount)
	assert.True(t, runs[0].StartedAt.Equal(base.Add(time.Hour)))
}

func TestRecentRunsLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := runWith(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute), 1, 0, 0)
		require.NoError(t, s.SaveRun(run, []qa.LayerReport{layerReport("L", qa.StatusPass, 100)}))
	}

	runs, err := s.RecentRuns(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestLayerHistory(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(runWith("run-1", base, 1, 0, 1), []qa.LayerReport{
		layerReport("Parks", qa.StatusPass, 100),
		layerReport("Hydrants", qa.StatusFail, 20),
	}))
	require.NoError(t, s.SaveRun(runWith("run-2", base.Add(time.Hour), 2, 0, 0), []qa.LayerReport{
		layerReport("Parks", qa.StatusPass, 100),
		layerReport("Hydrants", qa.StatusPass, 91),
	}))

	history, err := s.LayerHistory("Hydrants", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "run-2", history[0].RunID)
	assert.Equal(t, qa.StatusPass, history[0].OverallStatus)
	assert.Equal(t, 91, history[0].HealthScore)
	assert.Equal(t, qa.StatusFail, history[1].OverallStatus)

	empty, err := s.LayerHistory("DoesNotExist", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "history.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveRun(runWith("run-1", time.Now(), 0, 0, 0), nil))
	runs, err := s.RecentRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
