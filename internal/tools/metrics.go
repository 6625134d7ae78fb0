package tools

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// Report globs relative to the workspace root. Synthesis statistics are
// preferred over the raw Yosys log.
var (
	statPatterns = []string{
		LogsDir + "/**/*yosys.stat.rpt",
		ReportsDir + "/**/*yosys.stat.rpt",
		ReportsDir + "/**/*synth_stat.txt",
	}
	yosysLogPatterns = []string{
		LogsDir + "/**/*yosys.log",
	}
	timingPatterns = []string{
		"{" + ReportsDir + "," + LogsDir + "}/**/*.{rpt,log}",
	}
)

// sciNumber matches report_power values such as 2.10e-04.
const sciNumber = `-?[0-9]+(?:\.[0-9]+)?(?:[eE][+-]?[0-9]+)?`

var (
	areaPattern       = regexp.MustCompile(`Chip area for module.*:\s*([0-9]+(?:\.[0-9]+)?)`)
	cellsPattern      = regexp.MustCompile(`Number of cells:\s*([0-9]+)`)
	cellsTablePattern = regexp.MustCompile(`(?m)^\s*([0-9]+)\s+.*cells`)
	wnsPattern        = regexp.MustCompile(`(?im)^\s*wns(?:\s+max)?\s*[:=]?\s*(-?[0-9]+(?:\.[0-9]+)?)`)
	powerPattern      = regexp.MustCompile(`(?m)^\s*Total` + strings.Repeat(`\s+(`+sciNumber+`)`, 4) + `\b`)
)

// MetricsReport is the structured data attached to get_metrics results.
type MetricsReport struct {
	Metrics core.Metrics `json:"metrics"`
	Source  string       `json:"source,omitempty"`
	Timing  string       `json:"timing_source,omitempty"`
}

// GetMetricsTool extracts area, cell count, slack and power from flow reports.
type GetMetricsTool struct {
	ws *Workspace
}

func NewGetMetricsTool(ws *Workspace) *GetMetricsTool { return &GetMetricsTool{ws: ws} }

func (t *GetMetricsTool) Name() string { return NameGetMetrics }

func (t *GetMetricsTool) Description() string {
	return "Extract PPA metrics (area, cell_count, worst_negative_slack, power) from the synthesis reports and logs."
}

func (t *GetMetricsTool) Schema() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *GetMetricsTool) Invoke(_ context.Context, _ map[string]any) (Output, error) {
	fsys := os.DirFS(t.ws.Root())
	report := MetricsReport{Metrics: emptyMetrics()}

	source := newestMatch(fsys, statPatterns)
	if source == "" {
		source = newestMatch(fsys, yosysLogPatterns)
	}
	if source != "" {
		content, err := fs.ReadFile(fsys, source)
		if err != nil {
			return Failedf("Error reading %s: %v", source, err), nil
		}
		report.Source = source
		for k, v := range ExtractSynthesisMetrics(string(content)) {
			report.Metrics[k] = v
		}
	}

	for _, path := range allMatches(fsys, timingPatterns) {
		if report.Metrics[core.MetricWorstNegativeSlack] != nil && report.Metrics[core.MetricPower] != nil {
			break
		}
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			continue
		}
		text := string(content)
		if report.Metrics[core.MetricWorstNegativeSlack] == nil {
			if v := ExtractWorstSlack(text); v != nil {
				report.Metrics[core.MetricWorstNegativeSlack] = v
				report.Timing = path
			}
		}
		if report.Metrics[core.MetricPower] == nil {
			report.Metrics[core.MetricPower] = ExtractPower(text)
		}
	}

	if !report.Metrics.HasValues() {
		if source == "" {
			return Failed("No Yosys log or report found. Run synthesis first."), nil
		}
		return Failedf("No metrics could be parsed from %s", source), nil
	}

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return Output{}, err
	}
	return Succeeded(string(payload), report), nil
}

func emptyMetrics() core.Metrics {
	m := make(core.Metrics, len(core.MetricKeys()))
	for _, k := range core.MetricKeys() {
		m[k] = nil
	}
	return m
}

// ExtractSynthesisMetrics reads area and cell count from Yosys statistics.
func ExtractSynthesisMetrics(content string) core.Metrics {
	m := core.Metrics{}
	if match := areaPattern.FindStringSubmatch(content); match != nil {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			m[core.MetricArea] = core.Float(v)
		}
	}
	match := cellsPattern.FindStringSubmatch(content)
	if match == nil {
		match = cellsTablePattern.FindStringSubmatch(content)
	}
	if match != nil {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			m[core.MetricCellCount] = core.Float(v)
		}
	}
	return m
}

// ExtractWorstSlack reads the worst negative slack (ns) from an STA report.
func ExtractWorstSlack(content string) *float64 {
	match := wnsPattern.FindStringSubmatch(content)
	if match == nil {
		return nil
	}
	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	return core.Float(v)
}

// ExtractPower reads total power (W) from a report_power table.
func ExtractPower(content string) *float64 {
	match := powerPattern.FindStringSubmatch(content)
	if match == nil {
		return nil
	}
	v, err := strconv.ParseFloat(match[4], 64)
	if err != nil {
		return nil
	}
	return core.Float(v)
}

func allMatches(fsys fs.FS, patterns []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		matches, err := doublestar.Glob(fsys, p)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func newestMatch(fsys fs.FS, patterns []string) string {
	var newest string
	var newestTime time.Time
	for _, m := range allMatches(fsys, patterns) {
		info, err := fs.Stat(fsys, m)
		if err != nil || info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest, newestTime = m, info.ModTime()
		}
	}
	return newest
}

// MetricsFromResult returns the metrics carried by a successful get_metrics
// result, or nil when the result holds none.
func MetricsFromResult(r core.ToolResult) core.Metrics {
	if !r.OK() {
		return nil
	}
	switch d := r.Data.(type) {
	case MetricsReport:
		if d.Metrics.HasValues() {
			return d.Metrics.Clone()
		}
	case *MetricsReport:
		if d != nil && d.Metrics.HasValues() {
			return d.Metrics.Clone()
		}
	}
	var parsed MetricsReport
	if err := json.Unmarshal([]byte(r.Payload), &parsed); err == nil && parsed.Metrics.HasValues() {
		return parsed.Metrics
	}
	return nil
}

