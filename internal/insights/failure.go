package insights

import (
	"fmt"
	"sort"
	"strings"

	"github.com/glassboxlabs/glassbox/internal/trace"
)

// Attribution is the root-cause read of one failed step.
type Attribution struct {
	SessionID         string   `json:"session_id"`
	StepID            int      `json:"step_id"`
	Stage             string   `json:"stage,omitempty"`
	RootCause         string   `json:"root_cause"`
	Severity          string   `json:"severity"`
	Confidence        float64  `json:"confidence"`
	Signals           []string `json:"signals,omitempty"`
	Error             string   `json:"error,omitempty"`
	DerivedFromStepID int      `json:"derived_from_step_id,omitempty"`
}

// Cluster groups attributions that share a root cause and error shape.
type Cluster struct {
	RootCause    string   `json:"root_cause"`
	Signature    string   `json:"signature"`
	Count        int      `json:"count"`
	Sessions     []string `json:"sessions"`
	ExampleError string   `json:"example_error,omitempty"`
}

// Analyzer attributes failed steps to root causes. It is stateless and
// deterministic: the same step in the same trace always yields the same
// attribution.
type Analyzer struct{}

// NewAnalyzer creates a failure analyzer.
func NewAnalyzer() *Analyzer { return &Analyzer{} }

// Attribute classifies one failed step. Returns nil for successful steps.
// Heuristics are checked in a fixed order; the first match names the root
// cause and every match counts toward confidence.
func (a *Analyzer) Attribute(step trace.Step, t *trace.Trace) *Attribution {
	if step.Success {
		return nil
	}

	errLower := strings.ToLower(step.Error)
	hasTimeout := containsAny(errLower, "timeout", "timed out", "deadline exceeded")
	hasMalformed := containsAny(errLower, "invalid argument", "invalid input")
	hasStateMiss := containsAny(errLower, "missing state key", "key not found", "no active trace")
	hasTool := step.ToolName != ""
	isDecision := step.Type == trace.StepDecision

	var signals []string
	if hasTimeout {
		signals = append(signals, "timeout")
	}
	if hasMalformed {
		signals = append(signals, "malformed_input")
	}
	if hasStateMiss {
		signals = append(signals, "state_miss")
	}
	if hasTool {
		signals = append(signals, "tool_error")
	}
	if isDecision {
		signals = append(signals, "decision_failure")
	}

	var rootCause string
	switch {
	case hasTimeout && hasTool:
		rootCause = "tool:" + step.ToolName
	case hasTimeout:
		rootCause = "llm"
	case hasMalformed:
		rootCause = "user_input"
	case hasStateMiss:
		rootCause = "memory"
	case hasTool:
		rootCause = "tool:" + step.ToolName
	case isDecision:
		rootCause = "llm"
	default:
		rootCause = "unknown"
	}

	confidence := float64(len(signals)) / 3.0
	if confidence > 1 {
		confidence = 1
	}
	if len(signals) == 0 {
		confidence = 0.1
	}

	attr := &Attribution{
		StepID:     step.StepID,
		Stage:      step.Stage(),
		RootCause:  rootCause,
		Severity:   severity(step),
		Confidence: confidence,
		Signals:    signals,
		Error:      step.Error,
	}
	if t != nil {
		attr.SessionID = t.SessionID
		attr.DerivedFromStepID = derivedFrom(step, t)
	}
	return attr
}

// AttributeTrace classifies every failed step of one trace, in step order.
func (a *Analyzer) AttributeTrace(t *trace.Trace) []Attribution {
	var out []Attribution
	for _, step := range t.Steps {
		if attr := a.Attribute(step, t); attr != nil {
			out = append(out, *attr)
		}
	}
	return out
}

// Cluster groups attributions by root cause and normalized error prefix,
// keeping groups seen at least minSize times. Clusters come back sorted by
// descending count, then signature.
func (a *Analyzer) Cluster(attrs []Attribution, minSize int) []Cluster {
	if minSize < 1 {
		minSize = 1
	}

	byKey := map[string]*Cluster{}
	for _, attr := range attrs {
		key := attr.RootCause + ":" + normalizeError(attr.Error)
		c, ok := byKey[key]
		if !ok {
			c = &Cluster{
				RootCause:    attr.RootCause,
				Signature:    key,
				ExampleError: attr.Error,
			}
			byKey[key] = c
		}
		c.Count++
		c.Sessions = append(c.Sessions, attr.SessionID)
	}

	var out []Cluster
	for _, c := range byKey {
		if c.Count >= minSize {
			sort.Strings(c.Sessions)
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

// severity maps how the pipeline handled the failure to impact: an aborted
// session is high, a fallback degraded the answer, an ignored failure only
// lost enrichment.
func severity(step trace.Step) string {
	handled, _ := step.Metadata["handled"].(string)
	switch handled {
	case "abort":
		return "high"
	case "fallback":
		return "medium"
	case "ignored":
		return "low"
	}
	return "medium"
}

// derivedFrom finds the nearest earlier failed step, the usual origin of a
// cascading failure (a decision fallback caused by a failed tool call).
func derivedFrom(step trace.Step, t *trace.Trace) int {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		prev := t.Steps[i]
		if prev.StepID >= step.StepID {
			continue
		}
		if !prev.Success {
			return prev.StepID
		}
	}
	return 0
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func normalizeError(err string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(err), " "))
	if len(norm) > 50 {
		norm = norm[:50]
	}
	return norm
}

// String renders an attribution for logs and reports.
func (a Attribution) String() string {
	return fmt.Sprintf("step %d (%s): %s, severity %s, confidence %.2f",
		a.StepID, a.Stage, a.RootCause, a.Severity, a.Confidence)
}
