package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxlabs/glassbox/internal/tool"
	"github.com/glassboxlabs/glassbox/internal/trace"
)

// scriptedBackend returns a canned reply per stage.
type scriptedBackend struct {
	replies map[string]string
	errs    map[string]error
}

func (b *scriptedBackend) Infer(ctx context.Context, req Request) (*Response, error) {
	if err, ok := b.errs[req.Stage]; ok {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{Text: b.replies[req.Stage], LatencyMs: 1}, nil
}

func happyReplies() map[string]string {
	return map[string]string{
		"classify":      `{"category":"dosage","age_group":"adult","intent":"question","confidence":0.9}`,
		"assess_safety": `{"risk_level":"low","needs_handoff":false,"advice":"answer plainly"}`,
		"decide_tool":   `{"tool_name":null,"reasoning":"no tool needed"}`,
		"reason":        `{"answer":"Adults can take 500mg every 4-6 hours.","citations":["lookup:paracetamol"]}`,
		"present":       "Adults can take 500mg every four to six hours.",
		"judge":         `{"approved":true,"notes":"accurate"}`,
		"explain":       "I classified the question, checked safety, and answered from reference data.",
	}
}

func newTestOrchestrator(t *testing.T, backend Backend) (*Orchestrator, *trace.Recorder) {
	t.Helper()
	store, err := trace.OpenFileStore(t.TempDir())
	require.NoError(t, err)
	recorder := trace.NewRecorder(store)
	registry := tool.NewRegistry(tool.NewCalculator(), tool.NewLookup())
	invoker := tool.NewInvoker(registry, recorder, time.Second)
	return NewOrchestrator(backend, invoker, recorder, Config{StageTimeout: 5 * time.Second}), recorder
}

func stageMarkers(t *testing.T, tr *trace.Trace) []string {
	t.Helper()
	var markers []string
	for _, step := range tr.Steps {
		if step.Type != trace.StepMemoryUpdate {
			continue
		}
		out, ok := step.Output.(map[string]any)
		require.True(t, ok)
		ns, ok := out["new_state"].(State)
		require.True(t, ok)
		markers = append(markers, ns.Stage)
	}
	return markers
}

func TestRunHappyPath(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedBackend{replies: happyReplies()})

	res := orch.Run(context.Background(), "How much paracetamol can I take?", nil)

	require.NotNil(t, res.Trace)
	assert.Contains(t, res.Answer, "500mg")
	assert.Contains(t, res.Answer, "How I found this answer")
	assert.Equal(t, []string{"lookup:paracetamol"}, res.Citations)

	markers := stageMarkers(t, res.Trace)
	require.Len(t, markers, 7) // six stage transitions plus the explanation
	assert.Equal(t, []string{
		StageClassified,
		StageSafetyEvaluated,
		StageToolsExecuted,
		StageReasoningComplete,
		StagePresented,
		StageJudged,
		StageJudged,
	}, markers)

	assert.NotNil(t, res.Trace.EndedAt)
	assert.Equal(t, res.Answer, res.Trace.FinalAnswer)
	assert.Zero(t, res.Trace.Metadata.TotalToolCalls)
}

func TestRunWithCalculatorTool(t *testing.T) {
	replies := happyReplies()
	replies["decide_tool"] = `{"tool_name":"calculator","arguments":{"expression":"2+2"},"reasoning":"math question"}`
	replies["reason"] = `{"answer":"2+2 equals 4.","citations":["calculator"]}`
	replies["present"] = "2 + 2 = 4."
	orch, _ := newTestOrchestrator(t, &scriptedBackend{replies: replies})

	res := orch.Run(context.Background(), "What is 2+2?", nil)

	assert.Contains(t, res.Answer, "4")
	assert.Equal(t, 1, res.Trace.Metadata.TotalToolCalls)

	var toolStep *trace.Step
	for i := range res.Trace.Steps {
		if res.Trace.Steps[i].Type == trace.StepToolCall {
			toolStep = &res.Trace.Steps[i]
		}
	}
	require.NotNil(t, toolStep)
	assert.True(t, toolStep.Success)
	assert.Equal(t, "calculator", toolStep.ToolName)

	out, ok := toolStep.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 4.0, out["result"])
}

func TestRunSafetyEarlyExit(t *testing.T) {
	replies := happyReplies()
	replies["assess_safety"] = `{"risk_level":"high","needs_handoff":true,"concerns":["possible overdose"],"advice":"escalate"}`
	orch, _ := newTestOrchestrator(t, &scriptedBackend{replies: replies})

	res := orch.Run(context.Background(), "I took 20 pills, what now?", nil)

	assert.Contains(t, res.Answer, HandoffMessage)
	// explanation still runs after the early exit
	assert.Contains(t, res.Answer, "How I found this answer")

	markers := stageMarkers(t, res.Trace)
	require.GreaterOrEqual(t, len(markers), 2)
	assert.Equal(t, StageSafetyExit, markers[1])

	for _, step := range res.Trace.Steps {
		assert.NotEqual(t, "reason", step.Stage(), "reasoning must not run after a safety exit")
	}
	assert.NotNil(t, res.Trace.EndedAt)
}

func TestRunSafetyBackendFailureEscalates(t *testing.T) {
	backend := &scriptedBackend{
		replies: happyReplies(),
		errs:    map[string]error{"assess_safety": errors.New("backend timeout")},
	}
	orch, _ := newTestOrchestrator(t, backend)

	res := orch.Run(context.Background(), "Can I double my dose?", nil)

	assert.Contains(t, res.Answer, HandoffMessage)

	// the failed risk read ends the session, so it is recorded as an abort
	var failedStep *trace.Step
	for i := range res.Trace.Steps {
		step := res.Trace.Steps[i]
		if step.Stage() == "assess_safety" && step.Type == trace.StepDecision {
			failedStep = &res.Trace.Steps[i]
		}
	}
	require.NotNil(t, failedStep)
	assert.False(t, failedStep.Success)
	assert.Equal(t, "abort", failedStep.Metadata["handled"])

	markers := stageMarkers(t, res.Trace)
	assert.Equal(t, StageSafetyExit, markers[len(markers)-1])
	assert.NotNil(t, res.Trace.EndedAt)
}

func TestRunToolFailureContinues(t *testing.T) {
	replies := happyReplies()
	replies["decide_tool"] = `{"tool_name":"calculator","arguments":{"expression":"1/0"},"reasoning":"math"}`
	orch, _ := newTestOrchestrator(t, &scriptedBackend{replies: replies})

	res := orch.Run(context.Background(), "What is 1/0?", nil)

	// the failed tool call is on the trace and the pipeline still answers
	assert.NotEmpty(t, res.Answer)
	assert.Equal(t, 1, res.Trace.Metadata.TotalToolCalls)

	var failed bool
	for _, step := range res.Trace.Steps {
		if step.Type == trace.StepToolCall && !step.Success {
			failed = true
			assert.Contains(t, step.Error, "division by zero")
		}
	}
	assert.True(t, failed)

	markers := stageMarkers(t, res.Trace)
	assert.Contains(t, markers, StageJudged)
}

func TestRunReasonFallbackTerminates(t *testing.T) {
	backend := &scriptedBackend{
		replies: happyReplies(),
		errs: map[string]error{
			"reason":  errors.New("backend timeout"),
			"explain": errors.New("backend timeout"),
		},
	}
	orch, _ := newTestOrchestrator(t, backend)

	res := orch.Run(context.Background(), "How much ibuprofen?", nil)

	assert.Equal(t, reasonFallbackMessage, res.Answer)

	var fallbackStep *trace.Step
	for i := range res.Trace.Steps {
		step := res.Trace.Steps[i]
		if step.Stage() == "reason" && step.Type == trace.StepDecision {
			fallbackStep = &res.Trace.Steps[i]
		}
	}
	require.NotNil(t, fallbackStep)
	assert.False(t, fallbackStep.Success)
	assert.Equal(t, "fallback", fallbackStep.Metadata["handled"])

	markers := stageMarkers(t, res.Trace)
	assert.Equal(t, StageReasoningComplete, markers[len(markers)-1])
}

func TestRunCancelledContext(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedBackend{replies: happyReplies()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := orch.Run(ctx, "anything", nil)

	assert.Equal(t, cancelledMessage, res.Answer)
	require.NotNil(t, res.Trace)
	assert.NotNil(t, res.Trace.EndedAt)

	var abortStep *trace.Step
	for i := range res.Trace.Steps {
		if res.Trace.Steps[i].Stage() == "abort" {
			abortStep = &res.Trace.Steps[i]
		}
	}
	require.NotNil(t, abortStep)
	assert.Equal(t, "abort", abortStep.Metadata["handled"])
}

func TestRunEmptyQuestion(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedBackend{replies: happyReplies()})

	res := orch.Run(context.Background(), "   ", nil)

	assert.Equal(t, "Please enter a question.", res.Answer)
	require.NotNil(t, res.Trace)
	assert.Equal(t, 1, res.Trace.Metadata.TotalDecisions)
	assert.NotNil(t, res.Trace.EndedAt)
}

func TestRunReportsProgress(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedBackend{replies: happyReplies()})

	var stages []string
	orch.Run(context.Background(), "How much aspirin?", func(stage, message string) {
		stages = append(stages, stage)
	})

	assert.Equal(t, []string{
		"classify", "assess_safety", "decide_tool", "reason", "present", "judge", "explain",
	}, stages)
}
