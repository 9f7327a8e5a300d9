package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"geoqa/internal/qa"
)

// LoadLayers reads the layer list from a CSV file. Required columns:
// layer_name, service_url. Optional: expected_geometry, owner, notes.
// Rows failing validation are skipped with a warning; duplicate names and an
// empty result are errors.
func LoadLayers(path string, log *zap.Logger) ([]qa.LayerConfig, error) {
	if log == nil {
		log = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layer config: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read layer config header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"layer_name", "service_url"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("layer config must contain column %q, found: %v", required, header)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var layers []qa.LayerConfig
	seen := map[string]bool{}
	for rowNum := 2; ; rowNum++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("skipping unparseable layer row",
				zap.Int("row", rowNum), zap.Error(err))
			continue
		}

		layer := qa.LayerConfig{
			Name:             cell(row, "layer_name"),
			ServiceURL:       cell(row, "service_url"),
			ExpectedGeometry: qa.ParseGeometryKind(cell(row, "expected_geometry")),
			Owner:            cell(row, "owner"),
			Notes:            cell(row, "notes"),
		}
		if err := layer.Validate(); err != nil {
			log.Warn("skipping invalid layer row",
				zap.Int("row", rowNum), zap.Error(err))
			continue
		}
		if seen[layer.Name] {
			return nil, fmt.Errorf("duplicate layer name %q at row %d", layer.Name, rowNum)
		}
		seen[layer.Name] = true
		layers = append(layers, layer)
	}

	if len(layers) == 0 {
		return nil, fmt.Errorf("no valid layers found in %s", path)
	}
	log.Info("loaded layer configurations",
		zap.Int("count", len(layers)), zap.String("path", path))
	return layers, nil
}
