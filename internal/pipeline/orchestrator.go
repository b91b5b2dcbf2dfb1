package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/glassboxlabs/glassbox/internal/metrics"
	"github.com/glassboxlabs/glassbox/internal/tool"
	"github.com/glassboxlabs/glassbox/internal/trace"
)

const cancelledMessage = "The request was cancelled before an answer could be prepared."

// Config tunes the orchestrator.
type Config struct {
	// StageTimeout bounds each model call. Zero disables the deadline.
	StageTimeout time.Duration
}

// ProgressFunc receives a notification before each stage runs.
type ProgressFunc func(stage, message string)

// Result is what one pipeline run hands back to the transport layer.
type Result struct {
	SessionID string       `json:"session_id"`
	Answer    string       `json:"answer"`
	Citations []string     `json:"citations,omitempty"`
	Trace     *trace.Trace `json:"trace,omitempty"`
}

// Orchestrator drives a question through the fixed stage sequence, recording
// every decision, tool call, and state transition on the session's trace.
type Orchestrator struct {
	backend  Backend
	invoker  *tool.Invoker
	recorder *trace.Recorder
	cfg      Config
}

// NewOrchestrator wires the orchestrator to its backend, tools, and recorder.
func NewOrchestrator(backend Backend, invoker *tool.Invoker, recorder *trace.Recorder, cfg Config) *Orchestrator {
	return &Orchestrator{backend: backend, invoker: invoker, recorder: recorder, cfg: cfg}
}

type stageDef struct {
	name    string
	marker  string
	message string
	run     func(*Orchestrator, context.Context, string, State) outcome
}

var stageSequence = []stageDef{
	{"classify", StageClassified, "Analyzing your question...", (*Orchestrator).classify},
	{"assess_safety", StageSafetyEvaluated, "Checking safety...", (*Orchestrator).assessSafety},
	{"decide_tool", StageToolsExecuted, "Deciding whether a tool is needed...", (*Orchestrator).decideTool},
	{"reason", StageReasoningComplete, "Working out the answer...", (*Orchestrator).reason},
	{"present", StagePresented, "Preparing the response...", (*Orchestrator).present},
	{"judge", StageJudged, "Reviewing the answer...", (*Orchestrator).judge},
}

// Run processes one question end to end. It always returns a usable Result
// with a finalized trace; stage failures degrade to fallbacks rather than
// propagating.
func (o *Orchestrator) Run(ctx context.Context, question string, progress ProgressFunc) *Result {
	start := time.Now()
	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	sessionID := o.recorder.Start()
	st := State{Stage: StageInitialized, Question: strings.TrimSpace(question)}

	if st.Question == "" {
		o.recordDecision(sessionID, "intake",
			map[string]any{"question": question},
			map[string]any{
				"selected_action": "reject_empty",
				"reasoning":       "the question was empty",
			}, 0, nil, "")
		st.Answer = "Please enter a question."
		return o.finish(sessionID, start, st)
	}

	for _, sd := range stageSequence {
		if ctx.Err() != nil {
			st = o.abort(sessionID, st, ctx.Err())
			return o.finish(sessionID, start, st)
		}
		if progress != nil {
			progress(sd.name, sd.message)
		}

		out := sd.run(o, ctx, sessionID, st)
		marker := sd.marker
		if out.marker != "" {
			marker = out.marker
		}
		next := out.state
		next.Stage = marker
		o.transition(sessionID, sd.name, st, next, out.cause)
		st = next

		if out.terminate {
			break
		}
	}

	if progress != nil {
		progress("explain", "Explaining how the answer was found...")
	}
	st = o.explainStage(ctx, sessionID, st)

	return o.finish(sessionID, start, st)
}

func (o *Orchestrator) finish(sessionID string, start time.Time, st State) *Result {
	if err := o.recorder.SetFinalAnswer(sessionID, st.Answer); err != nil {
		slog.Warn("final answer not recorded", "session_id", sessionID, "error", err)
	}

	tr, err := o.recorder.End(sessionID)
	if err != nil && tr == nil {
		slog.Error("trace finalize failed", "session_id", sessionID, "error", err)
	}

	metrics.E2EDuration.Observe(time.Since(start).Seconds())
	return &Result{
		SessionID: sessionID,
		Answer:    st.Answer,
		Citations: st.Citations,
		Trace:     tr,
	}
}

func (o *Orchestrator) abort(sessionID string, st State, cause error) State {
	o.recordDecision(sessionID, "abort",
		map[string]any{"stage": st.Stage},
		map[string]any{
			"selected_action": "abort",
			"reasoning":       cause.Error(),
		}, 0, cause, "abort")

	next := st.clone()
	next.Answer = cancelledMessage
	o.transition(sessionID, "abort", st, next, "cancelled")
	return next
}

// infer runs one bounded model call and tracks per-stage latency.
func (o *Orchestrator) infer(ctx context.Context, stage, system, prompt string) (*Response, error) {
	if o.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.backend.Infer(ctx, Request{Stage: stage, System: system, Prompt: prompt})
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues(stage, "backend").Inc()
	}
	return resp, err
}

// recordDecision appends one decision step. When err is non-nil the step is
// marked failed and handled says how the pipeline recovered: "fallback",
// "ignored", or "abort".
func (o *Orchestrator) recordDecision(sessionID, stage string, input any, output map[string]any, durationMs float64, err error, handled string) {
	step := trace.Step{
		Type:       trace.StepDecision,
		Input:      input,
		Output:     output,
		DurationMs: durationMs,
		Success:    err == nil,
		Metadata:   map[string]any{"stage": stage},
	}
	if err != nil {
		step.Error = err.Error()
		if handled != "" {
			step.Metadata["handled"] = handled
		}
	}
	if _, aerr := o.recorder.Append(sessionID, step); aerr != nil {
		slog.Warn("decision step not recorded", "session_id", sessionID, "stage", stage, "error", aerr)
		metrics.Errors.WithLabelValues(stage, "trace_append").Inc()
	}
}

// transition appends the memory_update step for one state change.
func (o *Orchestrator) transition(sessionID, stage string, old, next State, cause string) {
	_, err := o.recorder.Append(sessionID, trace.Step{
		Type:  trace.StepMemoryUpdate,
		Input: map[string]any{"old_state": old},
		Output: map[string]any{
			"new_state": next,
			"diff":      Diff(old, next),
			"cause":     cause,
		},
		Success:  true,
		Metadata: map[string]any{"stage": stage},
	})
	if err != nil {
		slog.Warn("transition not recorded", "session_id", sessionID, "stage", stage, "error", err)
		metrics.Errors.WithLabelValues(stage, "trace_append").Inc()
	}
}
