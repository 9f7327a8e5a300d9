// Package report renders completed layer reports as CSV, Markdown, and
// per-layer JSON documents. It only reads the LayerReport contract; nothing
// here re-derives rule logic.
package report

import (
	"fmt"
	"strconv"

	"geoqa/internal/qa"
	"geoqa/internal/rules"
)

// Summary counts reports by overall status.
func Summary(reports []qa.LayerReport) (pass, warn, fail int) {
	for _, r := range reports {
		switch r.OverallStatus {
		case qa.StatusPass:
			pass++
		case qa.StatusWarn:
			warn++
		case qa.StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

// result returns the named rule result from a report, or a zero value when
// the report is malformed.
func result(rep qa.LayerReport, rule string) qa.RuleResult {
	for _, r := range rep.Results {
		if r.Rule == rule {
			return r
		}
	}
	return qa.RuleResult{Rule: rule, Status: qa.StatusNA}
}

// evidenceString renders one evidence value for flat formats. Numeric types
// survive both in-process values and a JSON round trip.
func evidenceString(ev map[string]any, key string) string {
	v, ok := ev[key]
	if !ok || v == nil {
		return ""
	}
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	}
	return fmt.Sprint(v)
}

func reachable(rep qa.LayerReport) bool {
	return result(rep, rules.RuleReachability).Status == qa.StatusPass
}
