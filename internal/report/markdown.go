package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"geoqa/internal/qa"
)

var statusEmoji = map[qa.Status]string{
	qa.StatusPass: "✅",
	qa.StatusWarn: "⚠️",
	qa.StatusFail: "❌",
	qa.StatusNA:   "➖",
}

// WriteMarkdown writes the human-readable run report: summary counts, the
// most common issues, layers grouped by overall status, and a detail table.
func WriteMarkdown(path string, reports []qa.LayerReport, run qa.RunInfo) error {
	content := MarkdownString(reports, run)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	return nil
}

// MarkdownString renders the report without touching the filesystem.
func MarkdownString(reports []qa.LayerReport, run qa.RunInfo) string {
	var b strings.Builder

	b.WriteString("# Geospatial QA Report\n\n")

	b.WriteString("## Run Metadata\n\n")
	fmt.Fprintf(&b, "- **Run ID:** %s\n", run.RunID)
	fmt.Fprintf(&b, "- **Timestamp:** %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Config File:** %s\n", run.ConfigPath)
	fmt.Fprintf(&b, "- **Total Layers:** %d\n\n", run.TotalLayers)

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **PASS:** %d\n", run.PassCount)
	fmt.Fprintf(&b, "- **WARN:** %d\n", run.WarnCount)
	fmt.Fprintf(&b, "- **FAIL:** %d\n\n", run.FailCount)

	writeCommonIssues(&b, reports)

	failed := filterByStatus(reports, qa.StatusFail)
	warned := filterByStatus(reports, qa.StatusWarn)
	passed := filterByStatus(reports, qa.StatusPass)

	writeGroupTable(&b, "Failed Layers", failed)
	writeGroupTable(&b, "Warning Layers", warned)
	if len(passed) > 0 {
		b.WriteString("## Passed Layers\n\n")
		for _, rep := range passed {
			count := "unknown count"
			if rep.CountEstimate != nil {
				count = fmt.Sprintf("%d features", *rep.CountEstimate)
			}
			fmt.Fprintf(&b, "- **%s** (%s)\n", rep.Layer.Name, count)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Detailed Results\n\n")
	b.WriteString("| Layer | Status | Reachable | Count | Geometry | Health | Issues |\n")
	b.WriteString("|-------|--------|-----------|-------|----------|--------|--------|\n")
	ordered := append(append(append([]qa.LayerReport{}, failed...), warned...), passed...)
	for _, rep := range ordered {
		count := "N/A"
		if rep.CountEstimate != nil {
			count = fmt.Sprintf("%d", *rep.CountEstimate)
		}
		geom := rep.Excerpt.GeometryType
		if geom == "" {
			geom = "N/A"
		}
		reach := statusEmoji[qa.StatusFail]
		if reachable(rep) {
			reach = statusEmoji[qa.StatusPass]
		}
		issueCount := 0
		for _, r := range rep.Results {
			if r.Status == qa.StatusFail || r.Status == qa.StatusWarn {
				issueCount++
			}
		}
		fmt.Fprintf(&b, "| %s | %s %s | %s | %s | %s | %d/100 | %d |\n",
			rep.Layer.Name, statusEmoji[rep.OverallStatus], rep.OverallStatus,
			reach, count, geom, rep.HealthScore, issueCount)
	}
	b.WriteString("\n")

	return b.String()
}

// writeCommonIssues lists the ten most frequent WARN/FAIL findings across the
// whole run.
func writeCommonIssues(b *strings.Builder, reports []qa.LayerReport) {
	counts := map[string]int{}
	for _, rep := range reports {
		for _, r := range rep.Results {
			if r.Status == qa.StatusFail || r.Status == qa.StatusWarn {
				counts[fmt.Sprintf("%s: %s", r.Rule, r.Message)]++
			}
		}
	}
	if len(counts) == 0 {
		return
	}

	type issueCount struct {
		issue string
		count int
	}
	issues := make([]issueCount, 0, len(counts))
	for issue, count := range counts {
		issues = append(issues, issueCount{issue, count})
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].count != issues[j].count {
			return issues[i].count > issues[j].count
		}
		return issues[i].issue < issues[j].issue
	})

	b.WriteString("## Most Common Issues\n\n")
	for i, ic := range issues {
		if i == 10 {
			break
		}
		fmt.Fprintf(b, "- **%dx** %s\n", ic.count, ic.issue)
	}
	b.WriteString("\n")
}

func writeGroupTable(b *strings.Builder, title string, reports []qa.LayerReport) {
	if len(reports) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	b.WriteString("| Layer Name | Service URL | Top Issues |\n")
	b.WriteString("|------------|-------------|------------|\n")
	for _, rep := range reports {
		fmt.Fprintf(b, "| %s | %s | %s |\n",
			rep.Layer.Name, truncate(rep.Layer.ServiceURL, 60), truncate(rep.TopIssues, 100))
	}
	b.WriteString("\n")
}

func filterByStatus(reports []qa.LayerReport, status qa.Status) []qa.LayerReport {
	var out []qa.LayerReport
	for _, rep := range reports {
		if rep.OverallStatus == status {
			out = append(out, rep)
		}
	}
	return out
}

// truncate caps s at n runes, never splitting a multibyte character.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
