package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"geoqa/internal/qa"
)

// WriteLayerJSON writes one JSON document per layer with the full rule
// detail, metadata excerpt, and acquisition errors. The filename is the
// sanitized layer name.
func WriteLayerJSON(dir string, rep qa.LayerReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create issue dir: %w", err)
	}
	path := filepath.Join(dir, sanitizeName(rep.Layer.Name)+".json")

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal layer report %s: %w", rep.Layer.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write layer report %s: %w", path, err)
	}
	return nil
}

// sanitizeName keeps alphanumerics, space, dash and underscore; everything
// else becomes an underscore.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '-', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
