package insights

import (
	"fmt"
	"sort"
	"strings"

	"github.com/glassboxlabs/glassbox/internal/trace"
)

// Config tunes the analysis thresholds.
type Config struct {
	// SlowStepMs flags individual steps at or above this duration as
	// bottlenecks, and step types whose average latency reaches it.
	SlowStepMs float64
	// MinSuccessRate flags tools whose success rate falls below it.
	MinSuccessRate float64
	// MaxErrorCount flags tools with more raw failures than it.
	MaxErrorCount int
	// MinClusterSize is the minimum recurrence before failures cluster.
	MinClusterSize int
	// MaxBottlenecks caps the bottleneck list.
	MaxBottlenecks int
}

func (c Config) withDefaults() Config {
	if c.SlowStepMs <= 0 {
		c.SlowStepMs = 2000
	}
	if c.MinSuccessRate <= 0 {
		c.MinSuccessRate = 0.5
	}
	if c.MaxErrorCount <= 0 {
		c.MaxErrorCount = 5
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = 2
	}
	if c.MaxBottlenecks <= 0 {
		c.MaxBottlenecks = 10
	}
	return c
}

// ToolStats aggregates one tool's calls across all analyzed traces.
type ToolStats struct {
	Tool         string  `json:"tool"`
	Calls        int     `json:"calls"`
	Failures     int     `json:"failures"`
	SuccessRate  float64 `json:"success_rate"`
	MinLatencyMs float64 `json:"min_latency_ms"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	totalMs float64
}

// StepTypeStats aggregates usage and latency for one step type across all
// analyzed traces. Latency covers only the steps that recorded a duration;
// memory updates usually carry none.
type StepTypeStats struct {
	StepType     string  `json:"step_type"`
	Count        int     `json:"count"`
	Timed        int     `json:"timed"`
	MinLatencyMs float64 `json:"min_latency_ms"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	totalMs float64
}

// Shortcut flags a session that produced an answer without consulting any
// tool before presentation.
type Shortcut struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// Bottleneck is one unusually slow step.
type Bottleneck struct {
	SessionID  string  `json:"session_id"`
	StepID     int     `json:"step_id"`
	Stage      string  `json:"stage,omitempty"`
	Tool       string  `json:"tool,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// Report is the full analysis over a set of traces. The same input always
// produces the same report.
type Report struct {
	Sessions        int             `json:"sessions"`
	TotalSteps      int             `json:"total_steps"`
	TotalToolCalls  int             `json:"total_tool_calls"`
	TotalFailures   int             `json:"total_failures"`
	StepTypes       []StepTypeStats `json:"step_types,omitempty"`
	Tools           []ToolStats     `json:"tools,omitempty"`
	Shortcuts       []Shortcut      `json:"shortcuts,omitempty"`
	Failures        []Attribution   `json:"failures,omitempty"`
	Clusters        []Cluster       `json:"clusters,omitempty"`
	Bottlenecks     []Bottleneck    `json:"bottlenecks,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// Engine analyzes persisted traces into an operator-facing report.
type Engine struct {
	analyzer *Analyzer
	cfg      Config
}

// NewEngine creates an engine with the given thresholds.
func NewEngine(cfg Config) *Engine {
	return &Engine{analyzer: NewAnalyzer(), cfg: cfg.withDefaults()}
}

// Analyze builds the report. Input traces are read only; analysis never
// mutates or re-persists them.
func (e *Engine) Analyze(traces []*trace.Trace) *Report {
	sorted := make([]*trace.Trace, len(traces))
	copy(sorted, traces)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SessionID < sorted[j].SessionID })

	report := &Report{Sessions: len(sorted)}
	toolsByName := map[string]*ToolStats{}
	stepsByType := map[string]*StepTypeStats{}

	for _, t := range sorted {
		report.TotalSteps += len(t.Steps)

		for _, step := range t.Steps {
			tallyStepType(stepsByType, step)
			if step.Type == trace.StepToolCall {
				report.TotalToolCalls++
				e.tallyTool(toolsByName, step)
			}
			if step.DurationMs >= e.cfg.SlowStepMs {
				report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
					SessionID:  t.SessionID,
					StepID:     step.StepID,
					Stage:      step.Stage(),
					Tool:       step.ToolName,
					DurationMs: step.DurationMs,
				})
			}
		}

		report.Failures = append(report.Failures, e.analyzer.AttributeTrace(t)...)

		if sc := detectShortcut(t); sc != nil {
			report.Shortcuts = append(report.Shortcuts, *sc)
		}
	}

	report.TotalFailures = len(report.Failures)
	report.StepTypes = finalizeStepTypes(stepsByType)
	report.Tools = finalizeTools(toolsByName)
	report.Clusters = e.analyzer.Cluster(report.Failures, e.cfg.MinClusterSize)

	sort.Slice(report.Bottlenecks, func(i, j int) bool {
		a, b := report.Bottlenecks[i], report.Bottlenecks[j]
		if a.DurationMs != b.DurationMs {
			return a.DurationMs > b.DurationMs
		}
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		return a.StepID < b.StepID
	})
	if len(report.Bottlenecks) > e.cfg.MaxBottlenecks {
		report.Bottlenecks = report.Bottlenecks[:e.cfg.MaxBottlenecks]
	}

	report.Recommendations = e.recommend(report)
	return report
}

func (e *Engine) tallyTool(byName map[string]*ToolStats, step trace.Step) {
	name := step.ToolName
	if name == "" {
		name = "unknown_tool"
	}
	ts, ok := byName[name]
	if !ok {
		ts = &ToolStats{Tool: name, MinLatencyMs: step.DurationMs}
		byName[name] = ts
	}
	ts.Calls++
	if !step.Success {
		ts.Failures++
	}
	ts.totalMs += step.DurationMs
	if step.DurationMs < ts.MinLatencyMs {
		ts.MinLatencyMs = step.DurationMs
	}
	if step.DurationMs > ts.MaxLatencyMs {
		ts.MaxLatencyMs = step.DurationMs
	}
}

func tallyStepType(byType map[string]*StepTypeStats, step trace.Step) {
	name := string(step.Type)
	if name == "" {
		name = "unknown"
	}
	st, ok := byType[name]
	if !ok {
		st = &StepTypeStats{StepType: name}
		byType[name] = st
	}
	st.Count++
	if step.DurationMs <= 0 {
		return
	}
	st.Timed++
	st.totalMs += step.DurationMs
	if st.Timed == 1 || step.DurationMs < st.MinLatencyMs {
		st.MinLatencyMs = step.DurationMs
	}
	if step.DurationMs > st.MaxLatencyMs {
		st.MaxLatencyMs = step.DurationMs
	}
}

func finalizeStepTypes(byType map[string]*StepTypeStats) []StepTypeStats {
	names := make([]string, 0, len(byType))
	for name := range byType {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]StepTypeStats, 0, len(names))
	for _, name := range names {
		st := *byType[name]
		if st.Timed > 0 {
			st.AvgLatencyMs = st.totalMs / float64(st.Timed)
		}
		st.totalMs = 0
		out = append(out, st)
	}
	return out
}

func finalizeTools(byName map[string]*ToolStats) []ToolStats {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ToolStats, 0, len(names))
	for _, name := range names {
		ts := *byName[name]
		if ts.Calls > 0 {
			ts.SuccessRate = float64(ts.Calls-ts.Failures) / float64(ts.Calls)
			ts.AvgLatencyMs = ts.totalMs / float64(ts.Calls)
		}
		ts.totalMs = 0
		out = append(out, ts)
	}
	return out
}

// detectShortcut flags a session that reached presentation without a single
// tool call. Sessions that never presented (early exits) are not shortcuts.
func detectShortcut(t *trace.Trace) *Shortcut {
	presented := false
	for _, step := range t.Steps {
		if step.Stage() == "present" {
			presented = true
			break
		}
		if step.Type == trace.StepToolCall {
			return nil
		}
	}
	if !presented {
		return nil
	}
	return &Shortcut{
		SessionID: t.SessionID,
		Reason:    "answer presented without any tool call",
	}
}

func (e *Engine) recommend(r *Report) []string {
	var recs []string

	for _, ts := range r.Tools {
		switch {
		case ts.SuccessRate < e.cfg.MinSuccessRate:
			recs = append(recs, fmt.Sprintf(
				"Tool %q failed %d of %d calls (success rate %.0f%%, floor %.0f%%); review its inputs or implementation.",
				ts.Tool, ts.Failures, ts.Calls, ts.SuccessRate*100, e.cfg.MinSuccessRate*100))
		case ts.Failures > e.cfg.MaxErrorCount:
			recs = append(recs, fmt.Sprintf(
				"Tool %q accumulated %d failures (limit %d); investigate even though most calls succeed.",
				ts.Tool, ts.Failures, e.cfg.MaxErrorCount))
		}
	}

	for _, st := range r.StepTypes {
		if st.Timed > 0 && st.AvgLatencyMs >= e.cfg.SlowStepMs {
			recs = append(recs, fmt.Sprintf(
				"Average %s latency is %.0fms, at or above the %.0fms threshold; profile that stage of the pipeline.",
				st.StepType, st.AvgLatencyMs, e.cfg.SlowStepMs))
		}
	}

	for _, c := range r.Clusters {
		recs = append(recs, fmt.Sprintf(
			"Recurring failure (%d sessions) rooted in %s: %s",
			c.Count, c.RootCause, firstLine(c.ExampleError)))
	}

	if len(r.Shortcuts) > 0 && r.Sessions > 0 {
		share := float64(len(r.Shortcuts)) / float64(r.Sessions)
		if share >= 0.5 {
			recs = append(recs, fmt.Sprintf(
				"%d of %d sessions answered without tools; check whether the tool decision stage is too conservative.",
				len(r.Shortcuts), r.Sessions))
		}
	}

	if len(r.Bottlenecks) > 0 {
		b := r.Bottlenecks[0]
		target := b.Stage
		if b.Tool != "" {
			target = "tool " + b.Tool
		}
		recs = append(recs, fmt.Sprintf(
			"Slowest step took %.0fms (%s); consider a tighter timeout or caching.",
			b.DurationMs, target))
	}

	return recs
}

// Render formats the report as a plain-text summary for operators.
func (r *Report) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== Trace Insights ===\n")
	fmt.Fprintf(&b, "Sessions analyzed: %d\n", r.Sessions)
	fmt.Fprintf(&b, "Total steps: %d (tool calls: %d, failures: %d)\n",
		r.TotalSteps, r.TotalToolCalls, r.TotalFailures)

	if len(r.StepTypes) > 0 {
		fmt.Fprintf(&b, "\n--- Step types ---\n")
		for _, st := range r.StepTypes {
			if st.Timed > 0 {
				fmt.Fprintf(&b, "%s: %d steps, latency min/avg/max %.0f/%.0f/%.0f ms\n",
					st.StepType, st.Count, st.MinLatencyMs, st.AvgLatencyMs, st.MaxLatencyMs)
			} else {
				fmt.Fprintf(&b, "%s: %d steps, no recorded latency\n", st.StepType, st.Count)
			}
		}
	}

	if len(r.Tools) > 0 {
		fmt.Fprintf(&b, "\n--- Tool usage ---\n")
		for _, ts := range r.Tools {
			fmt.Fprintf(&b, "%s: %d calls, %.0f%% success, latency min/avg/max %.0f/%.0f/%.0f ms\n",
				ts.Tool, ts.Calls, ts.SuccessRate*100, ts.MinLatencyMs, ts.AvgLatencyMs, ts.MaxLatencyMs)
		}
	}

	if len(r.Shortcuts) > 0 {
		fmt.Fprintf(&b, "\n--- Shortcuts ---\n")
		for _, sc := range r.Shortcuts {
			fmt.Fprintf(&b, "%s: %s\n", sc.SessionID, sc.Reason)
		}
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "\n--- Failures ---\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "%s: %s\n", f.SessionID, f.String())
		}
	}

	if len(r.Clusters) > 0 {
		fmt.Fprintf(&b, "\n--- Failure clusters ---\n")
		for _, c := range r.Clusters {
			fmt.Fprintf(&b, "%dx %s: %s\n", c.Count, c.RootCause, firstLine(c.ExampleError))
		}
	}

	if len(r.Bottlenecks) > 0 {
		fmt.Fprintf(&b, "\n--- Bottlenecks ---\n")
		for _, bn := range r.Bottlenecks {
			target := bn.Stage
			if bn.Tool != "" {
				target = "tool " + bn.Tool
			}
			fmt.Fprintf(&b, "%s step %d (%s): %.0fms\n", bn.SessionID, bn.StepID, target, bn.DurationMs)
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(&b, "\n--- Recommendations ---\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
