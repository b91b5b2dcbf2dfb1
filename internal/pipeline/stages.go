package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/glassboxlabs/glassbox/internal/metrics"
	"github.com/glassboxlabs/glassbox/internal/prompts"
	"github.com/glassboxlabs/glassbox/internal/trace"
)

// HandoffMessage is returned verbatim when the safety stage escalates.
const HandoffMessage = "This may be a serious medical situation. Please seek professional medical help immediately."

const reasonFallbackMessage = "I could not put together a reliable answer this time. Please consult a pharmacist or your doctor."

// outcome is what one stage hands back to the run loop.
type outcome struct {
	state     State
	cause     string
	terminate bool
	marker    string // overrides the stage's default marker when set
}

func (o *Orchestrator) classify(ctx context.Context, sessionID string, st State) outcome {
	resp, err := o.infer(ctx, "classify", prompts.ClassifySystem, prompts.ClassifyUser(st.Question))
	next := st.clone()

	if err != nil {
		o.recordDecision(sessionID, "classify",
			map[string]any{"question": st.Question},
			map[string]any{
				"selected_action": "classify_fallback",
				"reasoning":       "classifier unavailable, treating as a general question",
			}, 0, err, "fallback")
		next.Classification = &Classification{Category: "general", AgeGroup: "unknown", Intent: "question"}
		return outcome{state: next, cause: "classification_fallback"}
	}

	doc := modelJSON(resp.Text)
	c := &Classification{
		Category:   strOr(gjson.Get(doc, "category").String(), "general"),
		AgeGroup:   strOr(gjson.Get(doc, "age_group").String(), "unknown"),
		Intent:     strOr(gjson.Get(doc, "intent").String(), "question"),
		Confidence: gjson.Get(doc, "confidence").Float(),
	}
	next.Classification = c

	o.recordDecision(sessionID, "classify",
		map[string]any{"question": st.Question},
		map[string]any{
			"selected_action": "category:" + c.Category,
			"reasoning":       fmt.Sprintf("intent %s, confidence %.2f", c.Intent, c.Confidence),
		}, resp.LatencyMs, nil, "")
	return outcome{state: next, cause: "classification"}
}

func (o *Orchestrator) assessSafety(ctx context.Context, sessionID string, st State) outcome {
	resp, err := o.infer(ctx, "assess_safety", prompts.SafetySystem,
		prompts.SafetyUser(st.Question, st.Classification))
	next := st.clone()

	if err != nil {
		// Without a risk read the answer cannot be trusted; the session
		// ends here, so the failure is an abort, not a degraded answer.
		o.recordDecision(sessionID, "assess_safety",
			map[string]any{"question": st.Question},
			map[string]any{
				"selected_action": "safety_fallback",
				"reasoning":       "risk assessment unavailable, escalating to a professional",
			}, 0, err, "abort")
		next.Safety = &SafetyAssessment{
			RiskLevel:    "high",
			NeedsHandoff: true,
			Concerns:     []string{"risk assessment unavailable"},
		}
		next.Answer = HandoffMessage
		metrics.EarlyExits.Inc()
		return outcome{state: next, cause: "safety_fallback", terminate: true, marker: StageSafetyExit}
	}

	doc := modelJSON(resp.Text)
	sa := &SafetyAssessment{
		RiskLevel:    strOr(gjson.Get(doc, "risk_level").String(), "low"),
		NeedsHandoff: gjson.Get(doc, "needs_handoff").Bool(),
		Advice:       gjson.Get(doc, "advice").String(),
	}
	for _, c := range gjson.Get(doc, "concerns").Array() {
		sa.Concerns = append(sa.Concerns, c.String())
	}
	next.Safety = sa

	o.recordDecision(sessionID, "assess_safety",
		map[string]any{"question": st.Question, "classification": st.Classification},
		map[string]any{
			"selected_action": "risk:" + sa.RiskLevel,
			"reasoning":       strOr(sa.Advice, "no additional guidance"),
			"needs_handoff":   sa.NeedsHandoff,
		}, resp.LatencyMs, nil, "")

	if sa.RiskLevel == "high" && sa.NeedsHandoff {
		next.Answer = HandoffMessage
		metrics.EarlyExits.Inc()
		return outcome{state: next, cause: "safety_handoff", terminate: true, marker: StageSafetyExit}
	}
	return outcome{state: next, cause: "safety_assessment"}
}

func (o *Orchestrator) decideTool(ctx context.Context, sessionID string, st State) outcome {
	descriptors := o.invoker.Registry().Describe()
	resp, err := o.infer(ctx, "decide_tool", prompts.ToolDecisionSystem,
		prompts.ToolDecisionUser(st.Question, st.Classification, descriptors))
	next := st.clone()

	if err != nil {
		o.recordDecision(sessionID, "decide_tool",
			map[string]any{"question": st.Question},
			map[string]any{
				"selected_action": "no_tool",
				"reasoning":       "tool decision unavailable, answering without tools",
			}, 0, err, "fallback")
		next.ToolDecision = &ToolDecision{}
		return outcome{state: next, cause: "tool_decision_fallback"}
	}

	doc := modelJSON(resp.Text)
	name := gjson.Get(doc, "tool_name").String()
	if name == "none" || name == "null" {
		name = ""
	}
	args, _ := gjson.Get(doc, "arguments").Value().(map[string]any)
	reasoning := gjson.Get(doc, "reasoning").String()
	next.ToolDecision = &ToolDecision{ToolName: name, Arguments: args, Reasoning: reasoning}

	action := "no_tool"
	if name != "" {
		action = "tool:" + name
	}
	o.recordDecision(sessionID, "decide_tool",
		map[string]any{"question": st.Question, "available_tools": o.invoker.Registry().Names()},
		map[string]any{
			"selected_action": action,
			"reasoning":       strOr(reasoning, "no tool needed"),
		}, resp.LatencyMs, nil, "")

	if name == "" {
		return outcome{state: next, cause: "tool_decision"}
	}

	res := o.invoker.Invoke(ctx, sessionID, "decide_tool", name, args)
	next.ToolResults = append(next.ToolResults, ToolOutcome{
		ToolName:   name,
		Success:    res.Success,
		Output:     res.Output,
		Error:      res.Error,
		DurationMs: res.DurationMs,
	})
	return outcome{state: next, cause: "tool:" + name}
}

func (o *Orchestrator) reason(ctx context.Context, sessionID string, st State) outcome {
	resp, err := o.infer(ctx, "reason", prompts.ReasonSystem,
		prompts.ReasonUser(st.Question, st.Classification, st.Safety, st.ToolResults))
	next := st.clone()

	if err != nil {
		o.recordDecision(sessionID, "reason",
			map[string]any{"question": st.Question},
			map[string]any{
				"selected_action": "reason_fallback",
				"reasoning":       "reasoning unavailable, returning a safe fallback answer",
			}, 0, err, "fallback")
		next.Draft = reasonFallbackMessage
		next.Answer = reasonFallbackMessage
		return outcome{state: next, cause: "reasoning_fallback", terminate: true}
	}

	doc := modelJSON(resp.Text)
	if gjson.Get(doc, "answer").Exists() {
		next.Draft = strings.TrimSpace(gjson.Get(doc, "answer").String())
		for _, c := range gjson.Get(doc, "citations").Array() {
			next.Citations = append(next.Citations, c.String())
		}
	} else {
		next.Draft = strings.TrimSpace(resp.Text)
	}
	if next.Draft == "" {
		next.Draft = reasonFallbackMessage
	}

	o.recordDecision(sessionID, "reason",
		map[string]any{"question": st.Question, "tool_results": st.ToolResults},
		map[string]any{
			"selected_action": "draft_answer",
			"reasoning":       fmt.Sprintf("drafted %d chars with %d citations", len(next.Draft), len(next.Citations)),
		}, resp.LatencyMs, nil, "")
	return outcome{state: next, cause: "reasoning"}
}

func (o *Orchestrator) present(ctx context.Context, sessionID string, st State) outcome {
	resp, err := o.infer(ctx, "present", prompts.PresentSystem, prompts.PresentUser(st.Draft))
	next := st.clone()

	if err != nil {
		o.recordDecision(sessionID, "present",
			map[string]any{"draft": st.Draft},
			map[string]any{
				"selected_action": "present_fallback",
				"reasoning":       "presenter unavailable, returning the draft unchanged",
			}, 0, err, "fallback")
		next.Answer = st.Draft
		return outcome{state: next, cause: "presentation_fallback"}
	}

	next.Answer = strOr(strings.TrimSpace(resp.Text), st.Draft)
	o.recordDecision(sessionID, "present",
		map[string]any{"draft": st.Draft},
		map[string]any{
			"selected_action": "present_answer",
			"reasoning":       fmt.Sprintf("rendered %d chars for the user", len(next.Answer)),
		}, resp.LatencyMs, nil, "")
	return outcome{state: next, cause: "presentation"}
}

func (o *Orchestrator) judge(ctx context.Context, sessionID string, st State) outcome {
	resp, err := o.infer(ctx, "judge", prompts.JudgeSystem,
		prompts.JudgeUser(st.Question, st.Answer, st.Safety))
	next := st.clone()

	if err != nil {
		o.recordDecision(sessionID, "judge",
			map[string]any{"answer": st.Answer},
			map[string]any{
				"selected_action": "skip_review",
				"reasoning":       "review unavailable, keeping the answer as presented",
			}, 0, err, "ignored")
		next.Verdict = &Verdict{Approved: true, Notes: "review unavailable"}
		return outcome{state: next, cause: "judgment_skipped"}
	}

	doc := modelJSON(resp.Text)
	approved := gjson.Get(doc, "approved").Bool()
	revised := strings.TrimSpace(gjson.Get(doc, "revised_answer").String())
	notes := gjson.Get(doc, "notes").String()

	action := "approve_answer"
	if !approved && revised != "" {
		next.Answer = revised
		action = "revise_answer"
	}
	next.Verdict = &Verdict{Approved: approved, Notes: notes}

	o.recordDecision(sessionID, "judge",
		map[string]any{"question": st.Question, "answer": st.Answer},
		map[string]any{
			"selected_action": action,
			"reasoning":       strOr(notes, "no concerns"),
		}, resp.LatencyMs, nil, "")
	return outcome{state: next, cause: "judgment"}
}

// explainStage enriches the final answer with a plain-language account of
// the trace. It is best effort: failures are recorded and ignored, and the
// stage marker stays where the run loop left it.
func (o *Orchestrator) explainStage(ctx context.Context, sessionID string, st State) State {
	tr, err := o.recorder.Get(sessionID)
	if err != nil {
		return st
	}

	resp, err := o.infer(ctx, "explain", prompts.ExplainSystem, prompts.ExplainUser(renderStepLog(tr)))
	if err != nil {
		o.recordDecision(sessionID, "explain",
			map[string]any{"steps": len(tr.Steps)},
			map[string]any{
				"selected_action": "skip_explanation",
				"reasoning":       "explainer unavailable",
			}, 0, err, "ignored")
		return st
	}

	explanation := strings.TrimSpace(resp.Text)
	if explanation == "" {
		return st
	}

	o.recordDecision(sessionID, "explain",
		map[string]any{"steps": len(tr.Steps)},
		map[string]any{
			"selected_action": "explain_trace",
			"reasoning":       fmt.Sprintf("explained %d steps", len(tr.Steps)),
		}, resp.LatencyMs, nil, "")

	next := st.clone()
	next.Explanation = explanation
	next.Answer = st.Answer + "\n\n---\nHow I found this answer:\n" + explanation
	o.transition(sessionID, "explain", st, next, "explanation")
	return next
}

func renderStepLog(t *trace.Trace) string {
	var b strings.Builder
	for _, s := range t.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s\n", s.StepID, s.Type, s.Summary())
	}
	return b.String()
}

func modelJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func strOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
