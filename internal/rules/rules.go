// Package rules implements the nine-rule evaluation engine. Each rule is a
// pure evaluator over one layer's acquisition context; the dispatcher
// guarantees exactly nine results in a fixed order, with unmet preconditions
// resolving to NA and internal faults degrading to FAIL.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"geoqa/internal/qa"
)

// The nine rule identifiers, in canonical evaluation order.
const (
	RuleReachability         = "reachability"
	RuleQueryability         = "queryability"
	RuleMetadataCompleteness = "metadata_completeness"
	RuleRecordAvailability   = "record_availability"
	RulePaginationSupport    = "pagination_support"
	RuleSchemaSanity         = "schema_sanity"
	RuleGeometryValidation   = "geometry_validation"
	RuleUpdateRecency        = "update_recency"
	RuleSpatialReference     = "spatial_reference"
)

// Product-tunable thresholds. These are the documented defaults, not hard law.
const (
	// CompletenessFailBelow / CompletenessWarnBelow band the metadata score.
	CompletenessFailBelow = 40
	CompletenessWarnBelow = 80

	// NullRatioThreshold and NullFieldCountThreshold drive the schema WARN:
	// at least NullFieldCountThreshold fields each with a null ratio above
	// NullRatioThreshold across the sample.
	NullRatioThreshold      = 0.8
	NullFieldCountThreshold = 5

	// RecencyThresholdMonths is the staleness warning horizon.
	RecencyThresholdMonths = 24
)

// monthDays converts a duration-in-days to calendar months.
const monthDays = 30.44

type evalFunc func(ctx *qa.AcquisitionContext, cfg qa.LayerConfig, now time.Time) qa.RuleResult

// ruleTable is the closed set of evaluators. Order is the report order.
var ruleTable = []struct {
	name string
	fn   evalFunc
}{
	{RuleReachability, checkReachability},
	{RuleQueryability, checkQueryability},
	{RuleMetadataCompleteness, checkMetadataCompleteness},
	{RuleRecordAvailability, checkRecordAvailability},
	{RulePaginationSupport, checkPaginationSupport},
	{RuleSchemaSanity, checkSchemaSanity},
	{RuleGeometryValidation, checkGeometryValidation},
	{RuleUpdateRecency, checkUpdateRecency},
	{RuleSpatialReference, checkSpatialReference},
}

// Names returns the nine rule identifiers in canonical order.
func Names() []string {
	names := make([]string, len(ruleTable))
	for i, r := range ruleTable {
		names[i] = r.name
	}
	return names
}

// Evaluate runs all nine rules against the context.
func Evaluate(ctx *qa.AcquisitionContext, cfg qa.LayerConfig) []qa.RuleResult {
	return EvaluateAt(ctx, cfg, time.Now())
}

// EvaluateAt is Evaluate with an injected clock for deterministic tests.
func EvaluateAt(ctx *qa.AcquisitionContext, cfg qa.LayerConfig, now time.Time) []qa.RuleResult {
	results := make([]qa.RuleResult, 0, len(ruleTable))
	for _, r := range ruleTable {
		results = append(results, evaluateOne(r.name, r.fn, ctx, cfg, now))
	}
	return results
}

// evaluateOne runs a single rule behind a panic guard: a rule fault becomes a
// FAIL result citing the fault, never an escaped panic.
func evaluateOne(name string, fn evalFunc, ctx *qa.AcquisitionContext, cfg qa.LayerConfig, now time.Time) (res qa.RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			res = qa.RuleResult{
				Rule:     name,
				Status:   qa.StatusFail,
				Message:  fmt.Sprintf("rule fault: %v", r),
				Evidence: map[string]any{"rule_fault": fmt.Sprint(r)},
			}
		}
	}()
	res = fn(ctx, cfg, now)
	res.Rule = name
	if res.Evidence == nil {
		res.Evidence = map[string]any{}
	}
	return res
}

func checkReachability(ctx *qa.AcquisitionContext, _ qa.LayerConfig, _ time.Time) qa.RuleResult {
	if ctx.Metadata == nil {
		msg := "cannot fetch metadata from service"
		ev := map[string]any{"metadata_exists": false}
		for _, e := range ctx.Errors {
			if e.Op == "fetch_metadata" {
				msg = fmt.Sprintf("metadata fetch failed: %s", e.Message)
				ev["error_kind"] = e.Kind
				break
			}
		}
		return qa.RuleResult{Status: qa.StatusFail, Message: msg, Evidence: ev}
	}
	return qa.RuleResult{
		Status:   qa.StatusPass,
		Message:  "service is reachable and returns metadata",
		Evidence: map[string]any{"metadata_exists": true},
	}
}

func checkQueryability(ctx *qa.AcquisitionContext, _ qa.LayerConfig, _ time.Time) qa.RuleResult {
	if ctx.Metadata == nil {
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "not queryable: service unreachable",
			Evidence: map[string]any{"queryable": false},
		}
	}
	if !ctx.SampleFetched {
		msg := "feature query failed"
		ev := map[string]any{"queryable": false}
		for _, e := range ctx.Errors {
			if e.Op == "fetch_sample" {
				msg = fmt.Sprintf("feature query failed: %s", e.Message)
				ev["error_kind"] = e.Kind
				break
			}
		}
		return qa.RuleResult{Status: qa.StatusFail, Message: msg, Evidence: ev}
	}
	ev := map[string]any{"queryable": true, "sampled": len(ctx.Features)}
	if ctx.TotalEstimate != nil {
		ev["count"] = *ctx.TotalEstimate
	}
	return qa.RuleResult{
		Status:   qa.StatusPass,
		Message:  fmt.Sprintf("layer is queryable (%d features sampled)", len(ctx.Features)),
		Evidence: ev,
	}
}

func checkMetadataCompleteness(ctx *qa.AcquisitionContext, _ qa.LayerConfig, _ time.Time) qa.RuleResult {
	m := ctx.Metadata
	if m == nil {
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "no metadata available",
			Evidence: map[string]any{"score": 0},
		}
	}

	components := map[string]bool{
		"description":  m.Description != "",
		"geometryType": m.GeometryType != "",
		"extent":       m.Extent != nil,
		"fields":       len(m.Fields) > 0,
		"capabilities": m.Capabilities != "",
		"pagination":   m.SupportsPagination(),
	}
	present := 0
	for _, ok := range components {
		if ok {
			present++
		}
	}
	score := present * 100 / len(components)

	ev := map[string]any{
		"score":      score,
		"components": components,
	}
	switch {
	case score < CompletenessFailBelow:
		return qa.RuleResult{
			Status:   qa.StatusFail,
			Message:  fmt.Sprintf("metadata is incomplete (score: %d/100)", score),
			Evidence: ev,
		}
	case score < CompletenessWarnBelow:
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("metadata is partially complete (score: %d/100)", score),
			Evidence: ev,
		}
	default:
		return qa.RuleResult{
			Status:   qa.StatusPass,
			Message:  fmt.Sprintf("metadata is complete (score: %d/100)", score),
			Evidence: ev,
		}
	}
}

func checkRecordAvailability(ctx *qa.AcquisitionContext, _ qa.LayerConfig, _ time.Time) qa.RuleResult {
	if !ctx.SampleFetched {
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "no sample available to assess record availability",
			Evidence: map[string]any{},
		}
	}
	if len(ctx.Features) > 0 {
		ev := map[string]any{"sampled": len(ctx.Features)}
		if ctx.TotalEstimate != nil {
			ev["count_estimate"] = *ctx.TotalEstimate
		}
		return qa.RuleResult{
			Status:   qa.StatusPass,
			Message:  fmt.Sprintf("layer returned %d features", len(ctx.Features)),
			Evidence: ev,
		}
	}
	if ctx.TotalEstimate != nil && *ctx.TotalEstimate > 0 {
		// Zero features despite a positive estimate is a sampling artifact,
		// not an empty layer.
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("sample returned no features but service estimates %d records", *ctx.TotalEstimate),
			Evidence: map[string]any{"sampled": 0, "count_estimate": *ctx.TotalEstimate},
		}
	}
	ev := map[string]any{"sampled": 0}
	if ctx.TotalEstimate != nil {
		ev["count_estimate"] = *ctx.TotalEstimate
	}
	return qa.RuleResult{
		Status:   qa.StatusFail,
		Message:  "layer contains no features",
		Evidence: ev,
	}
}

func checkPaginationSupport(ctx *qa.AcquisitionContext, _ qa.LayerConfig, _ time.Time) qa.RuleResult {
	if ctx.Metadata == nil {
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "cannot assess pagination without metadata",
			Evidence: map[string]any{"pagination_tested": false},
		}
	}

	pageSize := 0
	if ctx.Pagination != nil {
		pageSize = ctx.Pagination.PageSize
	} else if ctx.Metadata.MaxRecordCount != nil {
		pageSize = *ctx.Metadata.MaxRecordCount
	} else {
		pageSize = len(ctx.Features)
	}

	if ctx.TotalEstimate == nil {
		ev := map[string]any{"pagination_tested": ctx.Pagination != nil, "page_size": pageSize}
		msg := "pagination behavior ambiguous: record count estimate unknown"
		for _, e := range ctx.Errors {
			if e.Op == "count_features" {
				msg = fmt.Sprintf("pagination behavior ambiguous: count query failed: %s", e.Message)
				ev["error_kind"] = e.Kind
				break
			}
		}
		return qa.RuleResult{Status: qa.StatusWarn, Message: msg, Evidence: ev}
	}
	estimate := *ctx.TotalEstimate

	if pageSize > 0 && estimate <= int64(pageSize) {
		return qa.RuleResult{
			Status:  qa.StatusNA,
			Message: fmt.Sprintf("pagination not needed (count: %d, page size: %d)", estimate, pageSize),
			Evidence: map[string]any{
				"pagination_tested": false,
				"count":             estimate,
				"page_size":         pageSize,
			},
		}
	}

	probe := ctx.Pagination
	if probe == nil {
		for _, e := range ctx.Errors {
			if e.Op == "probe_pagination" {
				return qa.RuleResult{
					Status:  qa.StatusFail,
					Message: fmt.Sprintf("pagination probe failed: %s", e.Message),
					Evidence: map[string]any{
						"pagination_tested": false,
						"count":             estimate,
						"page_size":         pageSize,
						"error_kind":        e.Kind,
					},
				}
			}
		}
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  "pagination behavior ambiguous: second-page probe unavailable",
			Evidence: map[string]any{"pagination_tested": false, "count": estimate, "page_size": pageSize},
		}
	}

	ev := map[string]any{
		"pagination_tested":    true,
		"count":                estimate,
		"page_size":            probe.PageSize,
		"first_page_features":  probe.FirstReturned,
		"second_page_features": probe.SecondReturned,
	}
	if probe.SecondReturned == 0 && estimate > int64(probe.FirstReturned) {
		// The signature of broken offset-based paging: more records exist but
		// the second page comes back empty. The probe itself succeeded, so
		// this is a suspect service, not a proven-dead one.
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("pagination may not work: second page returned no features despite %d estimated records", estimate),
			Evidence: ev,
		}
	}
	return qa.RuleResult{
		Status:   qa.StatusPass,
		Message:  fmt.Sprintf("pagination works (second page returned %d features)", probe.SecondReturned),
		Evidence: ev,
	}
}

func checkSchemaSanity(ctx *qa.AcquisitionContext, _ qa.LayerConfig, _ time.Time) qa.RuleResult {
	if len(ctx.Features) == 0 {
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "no features available for schema check",
			Evidence: map[string]any{},
		}
	}

	fieldNames := schemaFieldNames(ctx)
	ev := map[string]any{
		"total_fields": len(fieldNames),
		"sample_size":  len(ctx.Features),
	}

	var duplicates []string
	seen := map[string]bool{}
	for _, name := range fieldNames {
		key := strings.ToUpper(name)
		if seen[key] {
			duplicates = append(duplicates, name)
		}
		seen[key] = true
	}

	var objectIDFields []string
	for _, name := range fieldNames {
		upper := strings.ToUpper(name)
		if strings.Contains(upper, "OBJECTID") || strings.Contains(upper, "FID") || strings.Contains(upper, "OID") {
			objectIDFields = append(objectIDFields, name)
		}
	}
	ev["has_objectid"] = len(objectIDFields) > 0
	if len(objectIDFields) > 0 {
		ev["objectid_fields"] = objectIDFields
	}

	highNull := highNullFields(ctx.Features, fieldNames)
	if len(highNull) > 0 {
		ev["high_null_fields"] = highNull
		ev["high_null_count"] = len(highNull)
	}

	var issues []string
	if len(duplicates) > 0 {
		ev["duplicate_fields"] = duplicates
		issues = append(issues, fmt.Sprintf("duplicate fields: %s", strings.Join(duplicates, ", ")))
	}
	if len(objectIDFields) == 0 {
		issues = append(issues, "no OBJECTID-like field found")
	}
	if len(duplicates) > 0 || len(objectIDFields) == 0 {
		return qa.RuleResult{Status: qa.StatusFail, Message: strings.Join(issues, "; "), Evidence: ev}
	}
	if len(highNull) >= NullFieldCountThreshold {
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("%d fields have >%.0f%% nulls in the sample", len(highNull), NullRatioThreshold*100),
			Evidence: ev,
		}
	}
	return qa.RuleResult{Status: qa.StatusPass, Message: "schema appears healthy", Evidence: ev}
}

// schemaFieldNames returns the field list under audit: the service-reported
// schema when available (the only place duplicates can survive), otherwise
// the union of sampled attribute names.
func schemaFieldNames(ctx *qa.AcquisitionContext) []string {
	if ctx.Metadata != nil && len(ctx.Metadata.Fields) > 0 {
		names := make([]string, 0, len(ctx.Metadata.Fields))
		for _, f := range ctx.Metadata.Fields {
			names = append(names, f.Name)
		}
		return names
	}
	seen := map[string]bool{}
	var names []string
	for _, f := range ctx.Features {
		for name := range f.Attributes {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// highNullFields returns the field names whose null ratio across the sample
// exceeds NullRatioThreshold. Missing keys count as null.
func highNullFields(features []qa.Feature, fieldNames []string) []string {
	var high []string
	for _, name := range fieldNames {
		nulls := 0
		for _, f := range features {
			v, ok := f.Attributes[name]
			if !ok || v == nil {
				nulls++
			}
		}
		if float64(nulls)/float64(len(features)) > NullRatioThreshold {
			high = append(high, name)
		}
	}
	return high
}

func checkGeometryValidation(ctx *qa.AcquisitionContext, cfg qa.LayerConfig, _ time.Time) qa.RuleResult {
	if len(ctx.Features) == 0 {
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "no features available for geometry check",
			Evidence: map[string]any{},
		}
	}

	total := len(ctx.Features)
	emptyCount, invalidCount, mismatchCount := 0, 0, 0
	var firstProblem string
	for _, f := range ctx.Features {
		check := checkGeometry(f.Geometry)
		switch {
		case check.empty:
			emptyCount++
		case !check.valid:
			invalidCount++
			if firstProblem == "" {
				firstProblem = check.problem
			}
		case cfg.ExpectedGeometry != qa.GeometryUnknown && check.kind != cfg.ExpectedGeometry:
			mismatchCount++
		}
	}

	ev := map[string]any{
		"total_features": total,
		"empty_count":    emptyCount,
		"invalid_count":  invalidCount,
		"mismatch_count": mismatchCount,
	}
	if firstProblem != "" {
		ev["first_problem"] = firstProblem
	}
	if emptyCount > 0 || invalidCount > 0 {
		return qa.RuleResult{
			Status:   qa.StatusFail,
			Message:  fmt.Sprintf("geometry issues: %d empty, %d structurally invalid of %d", emptyCount, invalidCount, total),
			Evidence: ev,
		}
	}
	if mismatchCount > 0 {
		ev["expected_geometry"] = string(cfg.ExpectedGeometry)
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("%d of %d geometries do not match expected kind %s", mismatchCount, total, cfg.ExpectedGeometry),
			Evidence: ev,
		}
	}
	return qa.RuleResult{Status: qa.StatusPass, Message: "geometry appears healthy", Evidence: ev}
}

func checkUpdateRecency(ctx *qa.AcquisitionContext, _ qa.LayerConfig, now time.Time) qa.RuleResult {
	m := ctx.Metadata
	if m == nil {
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "no metadata available",
			Evidence: map[string]any{},
		}
	}

	lastEditMs, hasTimestamp := m.LastEditMillis()
	editField := m.EditDateField()
	if !hasTimestamp && editField == "" {
		// The layer does not advertise edit tracking at all.
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "no last edit date available in metadata",
			Evidence: map[string]any{},
		}
	}
	if !hasTimestamp {
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("edit date field %q advertised but no timestamp reported", editField),
			Evidence: map[string]any{"edit_field": editField},
		}
	}

	lastEdit := time.UnixMilli(lastEditMs).UTC()
	ageMonths := now.Sub(lastEdit).Hours() / 24 / monthDays
	ev := map[string]any{
		"last_edit_date":   lastEdit.Format(time.RFC3339),
		"last_edit_ms":     lastEditMs,
		"months_old":       round1(ageMonths),
		"threshold_months": RecencyThresholdMonths,
	}
	if ageMonths > RecencyThresholdMonths {
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("layer not updated in %.0f months (threshold: %d)", ageMonths, RecencyThresholdMonths),
			Evidence: ev,
		}
	}
	return qa.RuleResult{
		Status:   qa.StatusPass,
		Message:  fmt.Sprintf("layer recently updated (%.0f months ago)", ageMonths),
		Evidence: ev,
	}
}

// commonWKIDs are coordinate systems the audit considers unremarkable:
// WGS84, Web Mercator, NY State Plane, and the eastern UTM zones.
var commonWKIDs = map[int]bool{
	4326:  true,
	3857:  true,
	2263:  true,
	2264:  true,
	26918: true,
	26919: true,
}

// deprecatedWKIDs are recognized but superseded codes.
var deprecatedWKIDs = map[int]int{
	102100: 3857,
}

func checkSpatialReference(ctx *qa.AcquisitionContext, _ qa.LayerConfig, _ time.Time) qa.RuleResult {
	m := ctx.Metadata
	if m == nil {
		return qa.RuleResult{
			Status:   qa.StatusNA,
			Message:  "no metadata available",
			Evidence: map[string]any{},
		}
	}

	wkid, ok := m.WKID()
	ev := map[string]any{}
	if ok {
		ev["wkid"] = wkid
	}
	if m.Extent != nil && m.Extent.SpatialReference != nil && m.Extent.SpatialReference.WKT != "" {
		wkt := m.Extent.SpatialReference.WKT
		if len(wkt) > 200 {
			wkt = wkt[:200]
		}
		ev["wkt"] = wkt
	}

	if !ok {
		return qa.RuleResult{
			Status:   qa.StatusFail,
			Message:  "no spatial reference WKID found",
			Evidence: ev,
		}
	}
	if wkid <= 0 {
		return qa.RuleResult{
			Status:   qa.StatusFail,
			Message:  fmt.Sprintf("spatial reference WKID is not a recognized positive integer: %d", wkid),
			Evidence: ev,
		}
	}
	if current, deprecated := deprecatedWKIDs[wkid]; deprecated {
		ev["superseded_by"] = current
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("deprecated spatial reference (WKID: %d, superseded by %d)", wkid, current),
			Evidence: ev,
		}
	}
	if !commonWKIDs[wkid] {
		return qa.RuleResult{
			Status:   qa.StatusWarn,
			Message:  fmt.Sprintf("unusual spatial reference (WKID: %d)", wkid),
			Evidence: ev,
		}
	}
	return qa.RuleResult{
		Status:   qa.StatusPass,
		Message:  fmt.Sprintf("spatial reference present (WKID: %d)", wkid),
		Evidence: ev,
	}
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
