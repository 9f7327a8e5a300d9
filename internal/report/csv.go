package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"geoqa/internal/qa"
	"geoqa/internal/rules"
)

// csvHeader is the flat per-layer column set consumed by spreadsheets and
// downstream tooling. Order is part of the contract.
var csvHeader = []string{
	"layer_name",
	"service_url",
	"overall_status",
	"reachable",
	"count_estimate",
	"geometry_type_reported",
	"expected_geometry",
	"max_record_count",
	"pagination_ok",
	"metadata_score",
	"null_fields_over_80pct",
	"invalid_geometry_count",
	"empty_geometry_count",
	"last_edit_date",
	"spatial_reference_wkid",
	"health_score",
	"top_issues",
}

// WriteCSV writes one row per layer with flattened rule evidence.
func WriteCSV(path string, reports []qa.LayerReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rep := range reports {
		if err := w.Write(csvRow(rep)); err != nil {
			return fmt.Errorf("write csv row for %s: %w", rep.Layer.Name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv report: %w", err)
	}
	return nil
}

func csvRow(rep qa.LayerReport) []string {
	countEstimate := ""
	if rep.CountEstimate != nil {
		countEstimate = strconv.FormatInt(*rep.CountEstimate, 10)
	}
	maxRecordCount := ""
	if rep.Excerpt.MaxRecordCount != nil {
		maxRecordCount = strconv.Itoa(*rep.Excerpt.MaxRecordCount)
	}

	completeness := result(rep, rules.RuleMetadataCompleteness)
	schema := result(rep, rules.RuleSchemaSanity)
	geometry := result(rep, rules.RuleGeometryValidation)
	recency := result(rep, rules.RuleUpdateRecency)
	spatial := result(rep, rules.RuleSpatialReference)

	return []string{
		rep.Layer.Name,
		rep.Layer.ServiceURL,
		string(rep.OverallStatus),
		strconv.FormatBool(reachable(rep)),
		countEstimate,
		rep.Excerpt.GeometryType,
		string(rep.Layer.ExpectedGeometry),
		maxRecordCount,
		string(result(rep, rules.RulePaginationSupport).Status),
		evidenceString(completeness.Evidence, "score"),
		evidenceString(schema.Evidence, "high_null_count"),
		evidenceString(geometry.Evidence, "invalid_count"),
		evidenceString(geometry.Evidence, "empty_count"),
		evidenceString(recency.Evidence, "last_edit_date"),
		evidenceString(spatial.Evidence, "wkid"),
		strconv.Itoa(rep.HealthScore),
		rep.TopIssues,
	}
}
