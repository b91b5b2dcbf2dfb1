package trace

import (
	"fmt"
	"strings"
	"time"
)

// StepType classifies a trace step.
type StepType string

const (
	StepDecision     StepType = "decision"
	StepToolCall     StepType = "tool_call"
	StepMemoryUpdate StepType = "memory_update"
)

// Step is one immutable entry in a session's trace. Steps are append-only:
// once recorded they are never mutated.
type Step struct {
	StepID     int            `json:"step_id"`
	Type       StepType       `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Input      any            `json:"input"`
	Output     any            `json:"output"`
	ToolName   string         `json:"tool_name,omitempty"`
	DurationMs float64        `json:"duration_ms,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

// Metadata holds the per-trace counters.
type Metadata struct {
	TotalSteps         int     `json:"total_steps"`
	TotalToolCalls     int     `json:"total_tool_calls"`
	TotalDecisions     int     `json:"total_decisions"`
	TotalMemoryUpdates int     `json:"total_memory_updates"`
	DurationSeconds    float64 `json:"duration_seconds"`
}

// Trace is the complete step log for one session.
type Trace struct {
	SessionID   string     `json:"session_id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Steps       []Step     `json:"steps"`
	FinalAnswer string     `json:"final_answer,omitempty"`
	Metadata    Metadata   `json:"metadata"`
}

// Stage returns the originating stage name recorded in the step metadata.
func (s Step) Stage() string {
	stage, _ := s.Metadata["stage"].(string)
	return stage
}

// Summary returns the human-readable summary for a step, generating one
// from the step contents when the metadata does not carry it.
func (s Step) Summary() string {
	if sum, ok := s.Metadata["summary"].(string); ok && sum != "" {
		return sum
	}

	switch s.Type {
	case StepDecision:
		action := "unknown"
		reasoning := ""
		if out, ok := s.Output.(map[string]any); ok {
			if a, ok := out["selected_action"].(string); ok && a != "" {
				action = a
			}
			reasoning, _ = out["reasoning"].(string)
		}
		if reasoning != "" {
			return fmt.Sprintf("Decision: %s - %s", action, preview(reasoning, 100))
		}
		return fmt.Sprintf("Decision: %s", action)
	case StepToolCall:
		status := "ok"
		if !s.Success {
			status = "failed"
		}
		name := s.ToolName
		if name == "" {
			name = "unknown_tool"
		}
		return fmt.Sprintf("Tool %s: %s (%.0fms)", name, status, s.DurationMs)
	case StepMemoryUpdate:
		cause := "unknown"
		if out, ok := s.Output.(map[string]any); ok {
			if c, ok := out["cause"].(string); ok && c != "" {
				cause = c
			}
		}
		return fmt.Sprintf("Memory updated: %s", cause)
	}
	return fmt.Sprintf("Step %d: %s", s.StepID, s.Type)
}

func preview(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
