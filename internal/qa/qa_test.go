package qa

import (
	"strings"
	"testing"
)

func TestMoreSevere(t *testing.T) {
	cases := []struct {
		a, b, want Status
	}{
		{StatusPass, StatusPass, StatusPass},
		{StatusPass, StatusWarn, StatusWarn},
		{StatusWarn, StatusFail, StatusFail},
		{StatusFail, StatusPass, StatusFail},
		{StatusNA, StatusPass, StatusPass},
		{StatusNA, StatusNA, StatusNA},
	}
	for _, c := range cases {
		if got := MoreSevere(c.a, c.b); got != c.want {
			t.Errorf("MoreSevere(%s, %s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all pass", []Status{StatusPass, StatusPass}, StatusPass},
		{"one warn", []Status{StatusPass, StatusWarn, StatusPass}, StatusWarn},
		{"one fail wins over warn", []Status{StatusWarn, StatusFail, StatusPass}, StatusFail},
		{"na ignored", []Status{StatusNA, StatusNA, StatusPass}, StatusPass},
		{"all na still pass", []Status{StatusNA, StatusNA}, StatusPass},
		{"empty", nil, StatusPass},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			results := make([]RuleResult, len(c.statuses))
			for i, s := range c.statuses {
				results[i] = RuleResult{Rule: "r", Status: s}
			}
			if got := Aggregate(results); got != c.want {
				t.Errorf("Aggregate = %s, want %s", got, c.want)
			}
		})
	}
}

func TestHealthScore(t *testing.T) {
	mk := func(statuses ...Status) []RuleResult {
		results := make([]RuleResult, len(statuses))
		for i, s := range statuses {
			results[i] = RuleResult{Status: s}
		}
		return results
	}

	if got := HealthScore(mk(StatusPass, StatusPass, StatusPass)); got != 100 {
		t.Errorf("all-pass score = %d, want 100", got)
	}
	if got := HealthScore(mk(StatusFail, StatusFail)); got != 0 {
		t.Errorf("all-fail score = %d, want 0", got)
	}
	if got := HealthScore(nil); got != 0 {
		t.Errorf("empty score = %d, want 0", got)
	}

	// One of each: (11+8+5+0) * 100 / (4*11) = 54.
	if got := HealthScore(mk(StatusPass, StatusNA, StatusWarn, StatusFail)); got != 54 {
		t.Errorf("mixed score = %d, want 54", got)
	}
}

func TestTopIssues(t *testing.T) {
	results := []RuleResult{
		{Rule: "a", Status: StatusPass, Message: "fine"},
		{Rule: "b", Status: StatusFail, Message: "broken"},
		{Rule: "c", Status: StatusWarn, Message: "iffy"},
		{Rule: "d", Status: StatusNA, Message: "skipped"},
		{Rule: "e", Status: StatusFail, Message: "also broken"},
		{Rule: "f", Status: StatusFail, Message: "should be cut"},
	}
	got := TopIssues(results)
	if !strings.Contains(got, "b: broken") || !strings.Contains(got, "c: iffy") || !strings.Contains(got, "e: also broken") {
		t.Errorf("TopIssues missing expected entries: %q", got)
	}
	if strings.Contains(got, "should be cut") {
		t.Errorf("TopIssues should cap at three entries: %q", got)
	}
	if strings.Contains(got, "fine") || strings.Contains(got, "skipped") {
		t.Errorf("TopIssues should only include WARN/FAIL: %q", got)
	}

	if got := TopIssues([]RuleResult{{Rule: "a", Status: StatusPass}}); got != "" {
		t.Errorf("clean layer TopIssues = %q, want empty", got)
	}
}

func TestLayerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     LayerConfig
		wantErr bool
		field   string
	}{
		{"valid", LayerConfig{Name: "Parks", ServiceURL: "https://gis.example.com/arcgis/rest/services/Parks/FeatureServer/0"}, false, ""},
		{"empty name", LayerConfig{ServiceURL: "https://gis.example.com/x"}, true, "layer_name"},
		{"empty url", LayerConfig{Name: "Parks"}, true, "service_url"},
		{"relative url", LayerConfig{Name: "Parks", ServiceURL: "/rest/services"}, true, "service_url"},
		{"bad scheme", LayerConfig{Name: "Parks", ServiceURL: "ftp://gis.example.com/x"}, true, "service_url"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, c.wantErr)
			}
			if err != nil {
				ce, ok := err.(*ConfigError)
				if !ok {
					t.Fatalf("error type = %T, want *ConfigError", err)
				}
				if ce.Field != c.field {
					t.Errorf("ConfigError.Field = %q, want %q", ce.Field, c.field)
				}
			}
		})
	}
}

func TestParseGeometryKind(t *testing.T) {
	cases := map[string]GeometryKind{
		"point":      GeometryPoint,
		"Point":      GeometryPoint,
		"multipoint": GeometryPoint,
		"polyline":   GeometryLine,
		"LineString": GeometryLine,
		"polygon":    GeometryPolygon,
		" Polygon ":  GeometryPolygon,
		"":           GeometryUnknown,
		"hexbin":     GeometryUnknown,
	}
	for in, want := range cases {
		if got := ParseGeometryKind(in); got != want {
			t.Errorf("ParseGeometryKind(%q) = %s, want %s", in, got, want)
		}
	}
}
