package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/glassboxlabs/glassbox/internal/metrics"
	"github.com/glassboxlabs/glassbox/internal/trace"
)

// Result is the outcome of one tool invocation.
type Result struct {
	Success    bool    `json:"success"`
	Output     any     `json:"output,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// Invoker resolves tool names, validates arguments against the declared
// schema, executes with timing, and records exactly one tool_call step per
// invocation.
type Invoker struct {
	registry *Registry
	recorder *trace.Recorder
	timeout  time.Duration
}

// NewInvoker creates an invoker over the registry. A zero timeout disables
// the per-call deadline.
func NewInvoker(registry *Registry, recorder *trace.Recorder, timeout time.Duration) *Invoker {
	return &Invoker{registry: registry, recorder: recorder, timeout: timeout}
}

// Registry exposes the underlying registry for descriptor listing.
func (inv *Invoker) Registry() *Registry {
	return inv.registry
}

// Invoke runs the named tool and records the call on the session's trace.
// All failures are reported through the Result, never as a returned error:
// the pipeline decides how to recover.
func (inv *Invoker) Invoke(ctx context.Context, sessionID, stage, name string, args map[string]any) Result {
	start := time.Now()

	t, err := inv.registry.Get(name)
	if err != nil {
		return inv.record(sessionID, stage, name, args, Result{
			Success:    false,
			Error:      err.Error(),
			DurationMs: float64(time.Since(start).Milliseconds()),
		})
	}

	if err = inv.validate(t.Describe(), args); err != nil {
		return inv.record(sessionID, stage, name, args, Result{
			Success:    false,
			Error:      fmt.Sprintf("invalid arguments for tool %q: %v", name, err),
			DurationMs: float64(time.Since(start).Milliseconds()),
		})
	}

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	output, execErr := t.Execute(ctx, args)
	res := Result{
		Success:    execErr == nil,
		Output:     output,
		DurationMs: float64(time.Since(start).Milliseconds()),
	}
	if execErr != nil {
		res.Error = execErr.Error()
	}
	return inv.record(sessionID, stage, name, args, res)
}

func (inv *Invoker) validate(desc Descriptor, args map[string]any) error {
	schemaJSON, err := json.Marshal(desc.ArgumentSchema)
	if err != nil {
		return fmt.Errorf("schema encode: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("schema validate: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func (inv *Invoker) record(sessionID, stage, name string, args map[string]any, res Result) Result {
	status := "ok"
	if !res.Success {
		status = "error"
	}
	metrics.ToolCalls.WithLabelValues(name, status).Inc()
	metrics.ToolDuration.WithLabelValues(name).Observe(res.DurationMs / 1000)

	if sessionID == "" {
		return res
	}

	_, err := inv.recorder.Append(sessionID, trace.Step{
		Type:       trace.StepToolCall,
		Input:      map[string]any{"tool_name": name, "arguments": args},
		Output:     res.Output,
		ToolName:   name,
		DurationMs: res.DurationMs,
		Success:    res.Success,
		Error:      res.Error,
		Metadata:   map[string]any{"stage": stage},
	})
	if err != nil {
		// The invocation itself already happened; an unrecordable step is
		// an audit gap, not a tool failure.
		metrics.Errors.WithLabelValues(stage, "trace_append").Inc()
	}
	return res
}
