// Package qa defines the shared data model for the layer audit pipeline:
// statuses, layer configuration, rule results, and the per-layer report that
// is the contract with the reporting layer.
package qa

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Status is the verdict of a rule evaluation or a whole layer.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
	StatusNA   Status = "NA"
)

// severityRank orders statuses for aggregation. NA carries no severity.
func severityRank(s Status) int {
	switch s {
	case StatusFail:
		return 3
	case StatusWarn:
		return 2
	case StatusPass:
		return 1
	default:
		return 0
	}
}

// MoreSevere returns the more severe of two statuses (FAIL > WARN > PASS > NA).
func MoreSevere(a, b Status) Status {
	if severityRank(a) >= severityRank(b) {
		return a
	}
	return b
}

// GeometryKind is the expected geometry declared in the layer configuration.
type GeometryKind string

const (
	GeometryPoint   GeometryKind = "Point"
	GeometryLine    GeometryKind = "Line"
	GeometryPolygon GeometryKind = "Polygon"
	GeometryUnknown GeometryKind = "Unknown"
)

// ParseGeometryKind normalizes a free-form geometry string from the config.
// Unrecognized values map to Unknown rather than failing the layer.
func ParseGeometryKind(s string) GeometryKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "point", "multipoint":
		return GeometryPoint
	case "line", "polyline", "linestring":
		return GeometryLine
	case "polygon", "multipolygon":
		return GeometryPolygon
	default:
		return GeometryUnknown
	}
}

// LayerConfig identifies one layer under audit. Immutable once loaded.
type LayerConfig struct {
	Name             string       `json:"layer_name" yaml:"layer_name"`
	ServiceURL       string       `json:"service_url" yaml:"service_url"`
	ExpectedGeometry GeometryKind `json:"expected_geometry" yaml:"expected_geometry"`
	Owner            string       `json:"owner,omitempty" yaml:"owner,omitempty"`
	Notes            string       `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ConfigError reports an invalid LayerConfig. It fails the layer before
// acquisition begins.
type ConfigError struct {
	Layer  string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid layer config %q: %s: %s", e.Layer, e.Field, e.Reason)
}

// Validate checks the required fields. It returns a *ConfigError describing
// the first problem found.
func (c LayerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Layer: c.Name, Field: "layer_name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.ServiceURL) == "" {
		return &ConfigError{Layer: c.Name, Field: "service_url", Reason: "must not be empty"}
	}
	u, err := url.Parse(c.ServiceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Layer: c.Name, Field: "service_url", Reason: fmt.Sprintf("not a valid absolute URL: %q", c.ServiceURL)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Layer: c.Name, Field: "service_url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	return nil
}

// AcquisitionError records a network or parse failure that occurred while
// acquiring layer data but did not abort the layer.
type AcquisitionError struct {
	Op      string `json:"op"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e AcquisitionError) String() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// RuleResult is the outcome of one rule evaluation. Immutable once produced.
type RuleResult struct {
	Rule     string         `json:"rule_name"`
	Status   Status         `json:"status"`
	Message  string         `json:"message"`
	Evidence map[string]any `json:"evidence"`
}

// MetadataExcerpt is the slice of service metadata kept on the report for
// audit trails.
type MetadataExcerpt struct {
	Name           string `json:"name,omitempty"`
	GeometryType   string `json:"geometryType,omitempty"`
	MaxRecordCount *int   `json:"maxRecordCount,omitempty"`
	Capabilities   string `json:"capabilities,omitempty"`
}

// LayerReport aggregates one layer's audit outcome. Created once per layer
// per run and never mutated afterwards; this schema is the sole contract with
// the reporting collaborator.
type LayerReport struct {
	Layer         LayerConfig        `json:"layer"`
	OverallStatus Status             `json:"overall_status"`
	Results       []RuleResult       `json:"rule_results"`
	Excerpt       MetadataExcerpt    `json:"metadata_excerpt"`
	Errors        []AcquisitionError `json:"errors"`
	CountEstimate *int64             `json:"count_estimate,omitempty"`
	HealthScore   int                `json:"health_score"`
	TopIssues     string             `json:"top_issues"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Aggregate computes the overall status from a rule result set:
// FAIL if any FAIL, else WARN if any WARN, else PASS. NA results are ignored.
func Aggregate(results []RuleResult) Status {
	overall := StatusPass
	for _, r := range results {
		if r.Status == StatusFail || r.Status == StatusWarn {
			overall = MoreSevere(overall, r.Status)
		}
	}
	return overall
}

// HealthScore reduces a rule result set to a 0-100 score:
// PASS 11 points, NA 8, WARN 5, FAIL 0, normalized by the maximum.
func HealthScore(results []RuleResult) int {
	if len(results) == 0 {
		return 0
	}
	total := 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			total += 11
		case StatusNA:
			total += 8
		case StatusWarn:
			total += 5
		}
	}
	score := total * 100 / (len(results) * 11)
	if score > 100 {
		score = 100
	}
	return score
}

// TopIssues joins the first three WARN/FAIL results into a short
// semicolon-separated summary for flat report formats.
func TopIssues(results []RuleResult) string {
	var issues []string
	for _, r := range results {
		if r.Status == StatusFail || r.Status == StatusWarn {
			issues = append(issues, fmt.Sprintf("%s: %s", r.Rule, r.Message))
		}
		if len(issues) == 3 {
			break
		}
	}
	return strings.Join(issues, "; ")
}

// RunInfo describes one pipeline run for reports and the history store.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	ConfigPath  string    `json:"config_path"`
	OutputDir   string    `json:"output_dir"`
	TotalLayers int       `json:"total_layers"`
	PassCount   int       `json:"pass_count"`
	WarnCount   int       `json:"warn_count"`
	FailCount   int       `json:"fail_count"`
}
