package pipeline

import "encoding/json"

// Stage markers. The pipeline moves through them in order; judged is
// terminal, safety_exit is the early-exit terminal.
const (
	StageInitialized       = "initialized"
	StageClassified        = "classified"
	StageSafetyEvaluated   = "safety_evaluated"
	StageSafetyExit        = "safety_exit"
	StageToolsExecuted     = "tools_executed"
	StageReasoningComplete = "reasoning_complete"
	StagePresented         = "presented"
	StageJudged            = "judged"
)

// Classification is the classify stage's read of the question.
type Classification struct {
	Category   string  `json:"category"`
	AgeGroup   string  `json:"age_group"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// SafetyAssessment is the safety stage's risk call.
type SafetyAssessment struct {
	RiskLevel    string   `json:"risk_level"`
	NeedsHandoff bool     `json:"needs_handoff"`
	Concerns     []string `json:"concerns,omitempty"`
	Advice       string   `json:"advice,omitempty"`
}

// ToolDecision records which tool, if any, the pipeline chose to run.
type ToolDecision struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// ToolOutcome is the recorded result of one tool invocation.
type ToolOutcome struct {
	ToolName   string  `json:"tool_name"`
	Success    bool    `json:"success"`
	Output     any     `json:"output,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// Verdict is the judge stage's review of the answer.
type Verdict struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes,omitempty"`
}

// State is the session's working memory. Stages never mutate a State they
// received; they build a modified copy and the orchestrator records the
// transition. The zero value plus a Question is a valid starting state.
type State struct {
	Stage          string            `json:"stage"`
	Question       string            `json:"question"`
	Classification *Classification   `json:"classification,omitempty"`
	Safety         *SafetyAssessment `json:"safety,omitempty"`
	ToolDecision   *ToolDecision     `json:"tool_decision,omitempty"`
	ToolResults    []ToolOutcome     `json:"tool_results,omitempty"`
	Draft          string            `json:"draft,omitempty"`
	Answer         string            `json:"answer,omitempty"`
	Citations      []string          `json:"citations,omitempty"`
	Verdict        *Verdict          `json:"verdict,omitempty"`
	Explanation    string            `json:"explanation,omitempty"`
}

// clone returns a copy safe to modify without touching the receiver.
func (s State) clone() State {
	out := s
	if s.Classification != nil {
		c := *s.Classification
		out.Classification = &c
	}
	if s.Safety != nil {
		sa := *s.Safety
		sa.Concerns = append([]string(nil), s.Safety.Concerns...)
		out.Safety = &sa
	}
	if s.ToolDecision != nil {
		td := *s.ToolDecision
		if s.ToolDecision.Arguments != nil {
			td.Arguments = make(map[string]any, len(s.ToolDecision.Arguments))
			for k, v := range s.ToolDecision.Arguments {
				td.Arguments[k] = v
			}
		}
		out.ToolDecision = &td
	}
	out.ToolResults = append([]ToolOutcome(nil), s.ToolResults...)
	out.Citations = append([]string(nil), s.Citations...)
	if s.Verdict != nil {
		v := *s.Verdict
		out.Verdict = &v
	}
	return out
}

// Diff computes the structural difference between two states as a map of
// field name to {"old": ..., "new": ...}. Unchanged fields are omitted.
func Diff(old, next State) map[string]any {
	oldMap := stateMap(old)
	nextMap := stateMap(next)

	diff := map[string]any{}
	for key, nv := range nextMap {
		ov, had := oldMap[key]
		if !had {
			diff[key] = map[string]any{"old": nil, "new": nv}
			continue
		}
		if !jsonEqual(ov, nv) {
			diff[key] = map[string]any{"old": ov, "new": nv}
		}
	}
	for key, ov := range oldMap {
		if _, still := nextMap[key]; !still {
			diff[key] = map[string]any{"old": ov, "new": nil}
		}
	}
	return diff
}

func stateMap(s State) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func jsonEqual(a, b any) bool {
	da, err := json.Marshal(a)
	if err != nil {
		return false
	}
	db, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(da) == string(db)
}
