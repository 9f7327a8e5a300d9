package rules

import (
	"strings"
	"testing"
	"time"

	"geoqa/internal/arcgis"
	"geoqa/internal/qa"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func iptr(i int) *int         { return &i }
func i64ptr(i int64) *int64   { return &i }
func fptr(f float64) *float64 { return &f }

// fullMetadata is a healthy layer info document: every completeness
// component present, common spatial reference, recent edit date.
func fullMetadata() *arcgis.LayerMetadata {
	return &arcgis.LayerMetadata{
		Name:         "Parks",
		Description:  "City park boundaries maintained by the parks department",
		GeometryType: "esriGeometryPoint",
		Extent: &arcgis.Extent{
			XMin:             fptr(-74.3),
			YMin:             fptr(40.5),
			XMax:             fptr(-73.7),
			YMax:             fptr(40.9),
			SpatialReference: &arcgis.SpatialReference{WKID: iptr(4326)},
		},
		Fields: []arcgis.FieldInfo{
			{Name: "OBJECTID", Type: "esriFieldTypeOID"},
			{Name: "Name", Type: "esriFieldTypeString"},
		},
		Capabilities:   "Query",
		MaxRecordCount: iptr(1000),
		AdvancedQuery:  &arcgis.AdvancedQuery{SupportsPagination: true},
		EditingInfo: &arcgis.EditingInfo{
			LastEditDate: i64ptr(testNow.AddDate(0, -3, 0).UnixMilli()),
		},
	}
}

func pointFeature(attrs map[string]any) qa.Feature {
	return qa.Feature{
		Attributes: attrs,
		Geometry:   &arcgis.Geometry{X: fptr(-73.97), Y: fptr(40.78)},
	}
}

func sampleFeatures(n int) []qa.Feature {
	features := make([]qa.Feature, n)
	for i := range features {
		features[i] = pointFeature(map[string]any{
			"OBJECTID": float64(i + 1),
			"Name":     "Feature",
		})
	}
	return features
}

// healthyContext models a large, fully working layer: metadata complete,
// sample fetched, count well above the page size, second page populated.
func healthyContext() *qa.AcquisitionContext {
	return &qa.AcquisitionContext{
		Metadata:      fullMetadata(),
		Features:      sampleFeatures(200),
		SampleFetched: true,
		TotalEstimate: i64ptr(45892),
		Pagination: &arcgis.PageProbe{
			PageSize:       1000,
			FirstReturned:  1000,
			SecondReturned: 1000,
		},
	}
}

func findResult(t *testing.T, results []qa.RuleResult, rule string) qa.RuleResult {
	t.Helper()
	for _, r := range results {
		if r.Rule == rule {
			return r
		}
	}
	t.Fatalf("rule %s not in results", rule)
	return qa.RuleResult{}
}

func TestEvaluateAlwaysNineResultsInOrder(t *testing.T) {
	contexts := []*qa.AcquisitionContext{
		healthyContext(),
		{}, // nothing acquired at all
		{Metadata: fullMetadata()},
	}
	want := Names()
	if len(want) != 9 {
		t.Fatalf("Names() returned %d rules, want 9", len(want))
	}
	for _, ctx := range contexts {
		results := EvaluateAt(ctx, qa.LayerConfig{}, testNow)
		if len(results) != 9 {
			t.Fatalf("EvaluateAt returned %d results, want 9", len(results))
		}
		for i, r := range results {
			if r.Rule != want[i] {
				t.Errorf("result %d rule = %s, want %s", i, r.Rule, want[i])
			}
			if r.Evidence == nil {
				t.Errorf("rule %s has nil evidence", r.Rule)
			}
		}
	}
}

func TestHealthyLayerPassesEverything(t *testing.T) {
	results := EvaluateAt(healthyContext(), qa.LayerConfig{Name: "Parks", ExpectedGeometry: qa.GeometryPoint}, testNow)
	for _, r := range results {
		if r.Status != qa.StatusPass {
			t.Errorf("rule %s = %s (%s), want PASS", r.Rule, r.Status, r.Message)
		}
	}
	if got := qa.Aggregate(results); got != qa.StatusPass {
		t.Errorf("aggregate = %s, want PASS", got)
	}
	if got := qa.HealthScore(results); got != 100 {
		t.Errorf("health score = %d, want 100", got)
	}
}

func TestUnreachableLayer(t *testing.T) {
	ctx := &qa.AcquisitionContext{
		Errors: []qa.AcquisitionError{
			{Op: "fetch_metadata", Kind: "timeout", Message: "request timed out after 3 attempts"},
		},
	}
	results := EvaluateAt(ctx, qa.LayerConfig{Name: "Down"}, testNow)

	reach := findResult(t, results, RuleReachability)
	if reach.Status != qa.StatusFail {
		t.Errorf("reachability = %s, want FAIL", reach.Status)
	}
	if !strings.Contains(reach.Message, "timed out") {
		t.Errorf("reachability message should cite the acquisition error, got %q", reach.Message)
	}
	if reach.Evidence["error_kind"] != "timeout" {
		t.Errorf("reachability evidence error_kind = %v, want timeout", reach.Evidence["error_kind"])
	}

	for _, rule := range []string{
		RuleQueryability, RuleMetadataCompleteness, RuleRecordAvailability,
		RulePaginationSupport, RuleSchemaSanity, RuleGeometryValidation,
		RuleUpdateRecency, RuleSpatialReference,
	} {
		if r := findResult(t, results, rule); r.Status != qa.StatusNA {
			t.Errorf("%s = %s, want NA when nothing was acquired", rule, r.Status)
		}
	}
	if got := qa.Aggregate(results); got != qa.StatusFail {
		t.Errorf("aggregate = %s, want FAIL", got)
	}
}

func TestQueryabilityFailsWhenSampleQueryFails(t *testing.T) {
	ctx := &qa.AcquisitionContext{
		Metadata: fullMetadata(),
		Errors: []qa.AcquisitionError{
			{Op: "fetch_sample", Kind: "http_error", Message: "HTTP 500"},
		},
	}
	r := checkQueryability(ctx, qa.LayerConfig{}, testNow)
	if r.Status != qa.StatusFail {
		t.Fatalf("queryability = %s, want FAIL", r.Status)
	}
	if r.Evidence["error_kind"] != "http_error" {
		t.Errorf("evidence error_kind = %v, want http_error", r.Evidence["error_kind"])
	}
}

func TestMetadataCompletenessBands(t *testing.T) {
	cases := []struct {
		name string
		meta *arcgis.LayerMetadata
		want qa.Status
	}{
		{"full", fullMetadata(), qa.StatusPass},
		{
			"half",
			&arcgis.LayerMetadata{
				GeometryType: "esriGeometryPolygon",
				Fields:       []arcgis.FieldInfo{{Name: "OBJECTID"}},
				Capabilities: "Query",
			},
			qa.StatusWarn,
		},
		{
			"nearly empty",
			&arcgis.LayerMetadata{GeometryType: "esriGeometryPolygon"},
			qa.StatusFail,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := checkMetadataCompleteness(&qa.AcquisitionContext{Metadata: c.meta}, qa.LayerConfig{}, testNow)
			if r.Status != c.want {
				t.Errorf("status = %s (%s), want %s", r.Status, r.Message, c.want)
			}
			if _, ok := r.Evidence["score"]; !ok {
				t.Error("evidence missing score")
			}
		})
	}
}

func TestRecordAvailability(t *testing.T) {
	t.Run("features present", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{SampleFetched: true, Features: sampleFeatures(3)}
		if r := checkRecordAvailability(ctx, qa.LayerConfig{}, testNow); r.Status != qa.StatusPass {
			t.Errorf("status = %s, want PASS", r.Status)
		}
	})
	t.Run("empty sample but positive estimate", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{SampleFetched: true, TotalEstimate: i64ptr(500)}
		if r := checkRecordAvailability(ctx, qa.LayerConfig{}, testNow); r.Status != qa.StatusWarn {
			t.Errorf("status = %s, want WARN", r.Status)
		}
	})
	t.Run("genuinely empty layer", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{SampleFetched: true, TotalEstimate: i64ptr(0)}
		if r := checkRecordAvailability(ctx, qa.LayerConfig{}, testNow); r.Status != qa.StatusFail {
			t.Errorf("status = %s, want FAIL", r.Status)
		}
	})
	t.Run("no sample at all", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{}
		if r := checkRecordAvailability(ctx, qa.LayerConfig{}, testNow); r.Status != qa.StatusNA {
			t.Errorf("status = %s, want NA", r.Status)
		}
	})
}

func TestPaginationSupport(t *testing.T) {
	t.Run("not needed when count fits one page", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{
			Metadata:      fullMetadata(),
			TotalEstimate: i64ptr(150),
		}
		r := checkPaginationSupport(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusNA {
			t.Errorf("status = %s (%s), want NA", r.Status, r.Message)
		}
	})

	t.Run("empty second page warns", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{
			Metadata:      fullMetadata(),
			TotalEstimate: i64ptr(2341),
			Pagination: &arcgis.PageProbe{
				PageSize:       200,
				FirstReturned:  200,
				SecondReturned: 0,
			},
		}
		r := checkPaginationSupport(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusWarn {
			t.Errorf("status = %s (%s), want WARN", r.Status, r.Message)
		}
		if !strings.Contains(r.Message, "may not work") {
			t.Errorf("message should flag pagination as suspect, got %q", r.Message)
		}
		if r.Evidence["second_page_features"] != 0 {
			t.Errorf("evidence second_page_features = %v, want 0", r.Evidence["second_page_features"])
		}
	})

	t.Run("probe request failure fails", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{
			Metadata:      fullMetadata(),
			TotalEstimate: i64ptr(5000),
			Errors: []qa.AcquisitionError{
				{Op: "probe_pagination", Kind: "http_error", Message: "HTTP 500"},
			},
		}
		r := checkPaginationSupport(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusFail {
			t.Fatalf("status = %s (%s), want FAIL", r.Status, r.Message)
		}
		if r.Evidence["error_kind"] != "http_error" {
			t.Errorf("evidence error_kind = %v, want http_error", r.Evidence["error_kind"])
		}
	})

	t.Run("ambiguous without count estimate", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{Metadata: fullMetadata()}
		if r := checkPaginationSupport(ctx, qa.LayerConfig{}, testNow); r.Status != qa.StatusWarn {
			t.Errorf("status = %s, want WARN", r.Status)
		}
	})

	t.Run("failed count cited in ambiguity", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{
			Metadata: fullMetadata(),
			Errors: []qa.AcquisitionError{
				{Op: "count_features", Kind: "http_error", Message: "HTTP 400"},
			},
		}
		r := checkPaginationSupport(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusWarn {
			t.Errorf("status = %s, want WARN", r.Status)
		}
		if !strings.Contains(r.Message, "count query failed") {
			t.Errorf("message = %q, want the count failure cited", r.Message)
		}
		if r.Evidence["error_kind"] != "http_error" {
			t.Errorf("evidence error_kind = %v, want http_error", r.Evidence["error_kind"])
		}
	})

	t.Run("ambiguous without probe", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{
			Metadata:      fullMetadata(),
			TotalEstimate: i64ptr(5000),
		}
		if r := checkPaginationSupport(ctx, qa.LayerConfig{}, testNow); r.Status != qa.StatusWarn {
			t.Errorf("status = %s, want WARN", r.Status)
		}
	})

	t.Run("working pagination", func(t *testing.T) {
		r := checkPaginationSupport(healthyContext(), qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusPass {
			t.Errorf("status = %s (%s), want PASS", r.Status, r.Message)
		}
	})
}

func TestSchemaSanity(t *testing.T) {
	t.Run("duplicate field names fail", func(t *testing.T) {
		meta := fullMetadata()
		meta.Fields = append(meta.Fields, arcgis.FieldInfo{Name: "NAME"})
		ctx := &qa.AcquisitionContext{
			Metadata:      meta,
			Features:      sampleFeatures(10),
			SampleFetched: true,
		}
		r := checkSchemaSanity(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusFail {
			t.Fatalf("status = %s (%s), want FAIL", r.Status, r.Message)
		}
		if !strings.Contains(r.Message, "duplicate") {
			t.Errorf("message should cite duplicates, got %q", r.Message)
		}
	})

	t.Run("missing objectid fails", func(t *testing.T) {
		meta := fullMetadata()
		meta.Fields = []arcgis.FieldInfo{{Name: "Name"}, {Name: "Address"}}
		ctx := &qa.AcquisitionContext{
			Metadata:      meta,
			Features:      sampleFeatures(10),
			SampleFetched: true,
		}
		r := checkSchemaSanity(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusFail {
			t.Fatalf("status = %s, want FAIL", r.Status)
		}
		if r.Evidence["has_objectid"] != false {
			t.Errorf("evidence has_objectid = %v, want false", r.Evidence["has_objectid"])
		}
	})

	t.Run("many high-null fields warn", func(t *testing.T) {
		meta := fullMetadata()
		meta.Fields = []arcgis.FieldInfo{
			{Name: "OBJECTID"},
			{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"},
		}
		features := make([]qa.Feature, 10)
		for i := range features {
			features[i] = pointFeature(map[string]any{"OBJECTID": float64(i + 1)})
		}
		ctx := &qa.AcquisitionContext{Metadata: meta, Features: features, SampleFetched: true}
		r := checkSchemaSanity(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusWarn {
			t.Fatalf("status = %s (%s), want WARN", r.Status, r.Message)
		}
		if r.Evidence["high_null_count"] != 5 {
			t.Errorf("evidence high_null_count = %v, want 5", r.Evidence["high_null_count"])
		}
	})

	t.Run("schema from attributes when metadata has no fields", func(t *testing.T) {
		features := []qa.Feature{
			pointFeature(map[string]any{"FID": float64(1), "Name": "x"}),
		}
		ctx := &qa.AcquisitionContext{Features: features, SampleFetched: true}
		r := checkSchemaSanity(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusPass {
			t.Errorf("status = %s (%s), want PASS via FID", r.Status, r.Message)
		}
	})

	t.Run("no features is NA", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{Metadata: fullMetadata(), SampleFetched: true}
		if r := checkSchemaSanity(ctx, qa.LayerConfig{}, testNow); r.Status != qa.StatusNA {
			t.Errorf("status = %s, want NA", r.Status)
		}
	})
}

func TestGeometryValidation(t *testing.T) {
	t.Run("empty geometry fails", func(t *testing.T) {
		features := sampleFeatures(5)
		features[2].Geometry = nil
		ctx := &qa.AcquisitionContext{Features: features, SampleFetched: true}
		r := checkGeometryValidation(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusFail {
			t.Fatalf("status = %s, want FAIL", r.Status)
		}
		if r.Evidence["empty_count"] != 1 {
			t.Errorf("evidence empty_count = %v, want 1", r.Evidence["empty_count"])
		}
	})

	t.Run("unclosed ring fails", func(t *testing.T) {
		features := []qa.Feature{{
			Attributes: map[string]any{"OBJECTID": float64(1)},
			Geometry: &arcgis.Geometry{
				Rings: [][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}},
			},
		}}
		ctx := &qa.AcquisitionContext{Features: features, SampleFetched: true}
		r := checkGeometryValidation(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusFail {
			t.Fatalf("status = %s, want FAIL", r.Status)
		}
		if r.Evidence["first_problem"] != "ring not closed" {
			t.Errorf("first_problem = %v, want ring not closed", r.Evidence["first_problem"])
		}
	})

	t.Run("kind mismatch warns", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{Features: sampleFeatures(5), SampleFetched: true}
		cfg := qa.LayerConfig{ExpectedGeometry: qa.GeometryPolygon}
		r := checkGeometryValidation(ctx, cfg, testNow)
		if r.Status != qa.StatusWarn {
			t.Fatalf("status = %s (%s), want WARN", r.Status, r.Message)
		}
		if r.Evidence["mismatch_count"] != 5 {
			t.Errorf("mismatch_count = %v, want 5", r.Evidence["mismatch_count"])
		}
	})

	t.Run("no expectation means no mismatch", func(t *testing.T) {
		ctx := &qa.AcquisitionContext{Features: sampleFeatures(5), SampleFetched: true}
		r := checkGeometryValidation(ctx, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusPass {
			t.Errorf("status = %s, want PASS", r.Status)
		}
	})
}

func TestUpdateRecency(t *testing.T) {
	t.Run("stale layer warns", func(t *testing.T) {
		meta := fullMetadata()
		meta.EditingInfo = &arcgis.EditingInfo{
			LastEditDate: i64ptr(testNow.AddDate(0, -30, 0).UnixMilli()),
		}
		r := checkUpdateRecency(&qa.AcquisitionContext{Metadata: meta}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusWarn {
			t.Fatalf("status = %s (%s), want WARN", r.Status, r.Message)
		}
		months, ok := r.Evidence["months_old"].(float64)
		if !ok || months < 28 || months > 31 {
			t.Errorf("months_old = %v, want roughly 30", r.Evidence["months_old"])
		}
	})

	t.Run("recent layer passes", func(t *testing.T) {
		r := checkUpdateRecency(&qa.AcquisitionContext{Metadata: fullMetadata()}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusPass {
			t.Errorf("status = %s (%s), want PASS", r.Status, r.Message)
		}
	})

	t.Run("advertised edit field without timestamp warns", func(t *testing.T) {
		meta := fullMetadata()
		meta.EditingInfo = nil
		meta.EditFieldsInfo = &arcgis.EditFields{EditDateField: "last_edited_date"}
		r := checkUpdateRecency(&qa.AcquisitionContext{Metadata: meta}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusWarn {
			t.Errorf("status = %s, want WARN", r.Status)
		}
	})

	t.Run("no edit tracking at all is NA", func(t *testing.T) {
		meta := fullMetadata()
		meta.EditingInfo = nil
		meta.EditFieldsInfo = nil
		r := checkUpdateRecency(&qa.AcquisitionContext{Metadata: meta}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusNA {
			t.Errorf("status = %s, want NA", r.Status)
		}
	})
}

func TestSpatialReference(t *testing.T) {
	withWKID := func(wkid *int, latest *int) *arcgis.LayerMetadata {
		meta := fullMetadata()
		meta.Extent.SpatialReference = &arcgis.SpatialReference{WKID: wkid, LatestWKID: latest}
		return meta
	}

	t.Run("common wkid passes", func(t *testing.T) {
		r := checkSpatialReference(&qa.AcquisitionContext{Metadata: withWKID(iptr(2263), nil)}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusPass {
			t.Errorf("status = %s, want PASS", r.Status)
		}
	})

	t.Run("missing wkid fails", func(t *testing.T) {
		meta := fullMetadata()
		meta.Extent.SpatialReference = nil
		r := checkSpatialReference(&qa.AcquisitionContext{Metadata: meta}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusFail {
			t.Errorf("status = %s, want FAIL", r.Status)
		}
	})

	t.Run("deprecated wkid warns with replacement", func(t *testing.T) {
		r := checkSpatialReference(&qa.AcquisitionContext{Metadata: withWKID(iptr(102100), nil)}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusWarn {
			t.Fatalf("status = %s, want WARN", r.Status)
		}
		if r.Evidence["superseded_by"] != 3857 {
			t.Errorf("superseded_by = %v, want 3857", r.Evidence["superseded_by"])
		}
	})

	t.Run("unusual wkid warns", func(t *testing.T) {
		r := checkSpatialReference(&qa.AcquisitionContext{Metadata: withWKID(iptr(26710), nil)}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusWarn {
			t.Errorf("status = %s, want WARN", r.Status)
		}
	})

	t.Run("latestWkid used as fallback", func(t *testing.T) {
		r := checkSpatialReference(&qa.AcquisitionContext{Metadata: withWKID(nil, iptr(4326))}, qa.LayerConfig{}, testNow)
		if r.Status != qa.StatusPass {
			t.Errorf("status = %s, want PASS", r.Status)
		}
	})
}

func TestRuleFaultDegradesToFail(t *testing.T) {
	boom := func(*qa.AcquisitionContext, qa.LayerConfig, time.Time) qa.RuleResult {
		panic("boom")
	}
	r := evaluateOne("exploding", boom, &qa.AcquisitionContext{}, qa.LayerConfig{}, testNow)
	if r.Status != qa.StatusFail {
		t.Fatalf("status = %s, want FAIL", r.Status)
	}
	if r.Rule != "exploding" {
		t.Errorf("rule = %s, want exploding", r.Rule)
	}
	if !strings.Contains(r.Message, "boom") {
		t.Errorf("message should cite the panic, got %q", r.Message)
	}
}
