package insights

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxlabs/glassbox/internal/trace"
)

func toolStep(id int, name string, success bool, durMs float64, errText string) trace.Step {
	return trace.Step{
		StepID:     id,
		Type:       trace.StepToolCall,
		ToolName:   name,
		DurationMs: durMs,
		Success:    success,
		Error:      errText,
		Metadata:   map[string]any{"stage": "decide_tool"},
	}
}

func decisionStep(id int, stage string) trace.Step {
	return trace.Step{
		StepID:   id,
		Type:     trace.StepDecision,
		Success:  true,
		Metadata: map[string]any{"stage": stage},
	}
}

func timedDecision(id int, stage string, durMs float64) trace.Step {
	s := decisionStep(id, stage)
	s.DurationMs = durMs
	return s
}

func memoryStep(id int) trace.Step {
	return trace.Step{
		StepID:   id,
		Type:     trace.StepMemoryUpdate,
		Success:  true,
		Metadata: map[string]any{"stage": "classify"},
	}
}

func hasRecommendation(r *Report, needle string) bool {
	for _, rec := range r.Recommendations {
		if strings.Contains(rec, needle) {
			return true
		}
	}
	return false
}

func testTrace(id string, steps ...trace.Step) *trace.Trace {
	return &trace.Trace{
		SessionID: id,
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Steps:     steps,
		Metadata:  trace.Metadata{TotalSteps: len(steps)},
	}
}

func TestAnalyzeToolStats(t *testing.T) {
	engine := NewEngine(Config{})
	traces := []*trace.Trace{
		testTrace("s1",
			toolStep(1, "calculator", true, 10, ""),
			toolStep(2, "calculator", false, 30, "division by zero"),
		),
		testTrace("s2",
			toolStep(1, "calculator", true, 20, ""),
			toolStep(2, "lookup", true, 5, ""),
		),
	}

	report := engine.Analyze(traces)

	assert.Equal(t, 2, report.Sessions)
	assert.Equal(t, 4, report.TotalToolCalls)

	require.Len(t, report.Tools, 2)
	calc := report.Tools[0]
	assert.Equal(t, "calculator", calc.Tool)
	assert.Equal(t, 3, calc.Calls)
	assert.Equal(t, 1, calc.Failures)
	assert.InDelta(t, 2.0/3.0, calc.SuccessRate, 0.001)
	assert.Equal(t, 10.0, calc.MinLatencyMs)
	assert.Equal(t, 30.0, calc.MaxLatencyMs)
	assert.InDelta(t, 20.0, calc.AvgLatencyMs, 0.001)
}

func TestAnalyzeStepTypeStats(t *testing.T) {
	engine := NewEngine(Config{})
	traces := []*trace.Trace{
		testTrace("s1",
			timedDecision(1, "classify", 120),
			timedDecision(2, "reason", 300),
			memoryStep(3),
			toolStep(4, "lookup", true, 50, ""),
		),
	}

	report := engine.Analyze(traces)

	require.Len(t, report.StepTypes, 3)

	dec := report.StepTypes[0]
	assert.Equal(t, "decision", dec.StepType)
	assert.Equal(t, 2, dec.Count)
	assert.Equal(t, 2, dec.Timed)
	assert.Equal(t, 120.0, dec.MinLatencyMs)
	assert.InDelta(t, 210.0, dec.AvgLatencyMs, 0.001)
	assert.Equal(t, 300.0, dec.MaxLatencyMs)

	mem := report.StepTypes[1]
	assert.Equal(t, "memory_update", mem.StepType)
	assert.Equal(t, 1, mem.Count)
	assert.Zero(t, mem.Timed)
	assert.Zero(t, mem.AvgLatencyMs)

	assert.Equal(t, "tool_call", report.StepTypes[2].StepType)
}

func TestAnalyzeDetectsShortcut(t *testing.T) {
	engine := NewEngine(Config{})

	shortcut := testTrace("fast",
		decisionStep(1, "classify"),
		decisionStep(2, "decide_tool"),
		decisionStep(3, "present"),
	)
	withTool := testTrace("thorough",
		decisionStep(1, "classify"),
		toolStep(2, "lookup", true, 5, ""),
		decisionStep(3, "present"),
	)
	earlyExit := testTrace("escalated",
		decisionStep(1, "classify"),
		decisionStep(2, "assess_safety"),
	)

	report := engine.Analyze([]*trace.Trace{shortcut, withTool, earlyExit})

	require.Len(t, report.Shortcuts, 1)
	assert.Equal(t, "fast", report.Shortcuts[0].SessionID)
}

func TestAnalyzeClustersFailures(t *testing.T) {
	engine := NewEngine(Config{MinClusterSize: 2})

	broken := func(id string) *trace.Trace {
		return testTrace(id,
			toolStep(1, "lookup", false, 5, `no entry for "unobtainium"`),
		)
	}
	report := engine.Analyze([]*trace.Trace{broken("a"), broken("b"), broken("c")})

	assert.Equal(t, 3, report.TotalFailures)
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, 3, report.Clusters[0].Count)
	assert.Equal(t, "tool:lookup", report.Clusters[0].RootCause)
	assert.NotEmpty(t, report.Recommendations)
}

func TestAnalyzeBottlenecks(t *testing.T) {
	engine := NewEngine(Config{SlowStepMs: 100})

	report := engine.Analyze([]*trace.Trace{
		testTrace("s1",
			toolStep(1, "lookup", true, 250, ""),
			toolStep(2, "calculator", true, 50, ""),
		),
	})

	require.Len(t, report.Bottlenecks, 1)
	assert.Equal(t, "lookup", report.Bottlenecks[0].Tool)
	assert.Equal(t, 250.0, report.Bottlenecks[0].DurationMs)
}

func TestAnalyzeDeterministic(t *testing.T) {
	engine := NewEngine(Config{})
	traces := []*trace.Trace{
		testTrace("s2", toolStep(1, "calculator", false, 10, "division by zero")),
		testTrace("s1", toolStep(1, "calculator", false, 10, "division by zero")),
		testTrace("s3",
			decisionStep(1, "classify"),
			decisionStep(2, "present"),
		),
	}

	first := engine.Analyze(traces)
	second := engine.Analyze(traces)
	assert.Equal(t, first, second)
	assert.Equal(t, first.Render(), second.Render())
}

func TestAnalyzeDoesNotMutateTraces(t *testing.T) {
	engine := NewEngine(Config{})
	tr := testTrace("s1", toolStep(1, "lookup", false, 5, "boom"))
	stepsBefore := len(tr.Steps)

	engine.Analyze([]*trace.Trace{tr})

	assert.Equal(t, stepsBefore, len(tr.Steps))
	assert.Equal(t, "boom", tr.Steps[0].Error)
}

func TestRecommendationsFlagUnreliableTool(t *testing.T) {
	engine := NewEngine(Config{})
	traces := []*trace.Trace{
		testTrace("s1",
			toolStep(1, "scheduler", false, 5, "invalid input: reminder time is in the past"),
			toolStep(2, "scheduler", false, 5, "invalid input: reminder time is in the past"),
			toolStep(3, "scheduler", true, 5, ""),
		),
	}

	report := engine.Analyze(traces)

	assert.True(t, hasRecommendation(report, "scheduler"),
		"expected a recommendation about the scheduler tool")
}

func TestRecommendationsUseConfiguredThresholds(t *testing.T) {
	steps := make([]trace.Step, 0, 20)
	for i := 1; i <= 20; i++ {
		ok := i > 6 // six failures out of twenty, success rate 0.7
		errText := ""
		if !ok {
			errText = "no entry"
		}
		steps = append(steps, toolStep(i, "lookup", ok, 5, errText))
	}
	tr := testTrace("s1", steps...)

	// 70% success clears the default floor but six failures exceed the
	// default error budget
	report := NewEngine(Config{}).Analyze([]*trace.Trace{tr})
	assert.True(t, hasRecommendation(report, "accumulated 6 failures"))

	// a stricter floor flags the same tool on its success rate instead
	report = NewEngine(Config{MinSuccessRate: 0.8}).Analyze([]*trace.Trace{tr})
	assert.True(t, hasRecommendation(report, `Tool "lookup" failed`))

	// a generous error budget with the default floor leaves it unflagged
	report = NewEngine(Config{MaxErrorCount: 10}).Analyze([]*trace.Trace{tr})
	assert.False(t, hasRecommendation(report, `Tool "lookup"`))
}

func TestRecommendationsFlagSlowStepTypes(t *testing.T) {
	engine := NewEngine(Config{SlowStepMs: 100})
	report := engine.Analyze([]*trace.Trace{testTrace("s1",
		timedDecision(1, "classify", 150),
		timedDecision(2, "reason", 250),
	)})

	assert.True(t, hasRecommendation(report, "Average decision latency"))
}

func TestRenderIncludesSections(t *testing.T) {
	engine := NewEngine(Config{SlowStepMs: 100})
	traces := []*trace.Trace{
		testTrace("s1",
			toolStep(1, "lookup", false, 250, "no entry"),
			decisionStep(2, "present"),
		),
		testTrace("s2",
			toolStep(1, "lookup", false, 10, "no entry"),
		),
	}

	text := engine.Analyze(traces).Render()
	assert.Contains(t, text, "=== Trace Insights ===")
	assert.Contains(t, text, "--- Step types ---")
	assert.Contains(t, text, "--- Tool usage ---")
	assert.Contains(t, text, "--- Failures ---")
	assert.Contains(t, text, "--- Failure clusters ---")
	assert.Contains(t, text, "--- Bottlenecks ---")
}
