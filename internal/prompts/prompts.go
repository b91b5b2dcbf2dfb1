package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage instructions for the staged QA pipeline. Every stage that needs a
// structured reply asks for a single JSON object and nothing else; the
// stages parse leniently and fall back to defaults when the model strays.

const ClassifySystem = `You are a query classifier for a medication Q&A assistant.
Classify the user's question and reply with a single JSON object:
{"category": "<dosage|side_effects|interactions|general|off_topic>",
 "age_group": "<adult|child|elderly|unknown>",
 "intent": "<question|request|emergency|other>",
 "confidence": <0.0-1.0>}
Reply with the JSON object only.`

const SafetySystem = `You are a safety reviewer for a medication Q&A assistant.
Assess the risk of answering the question directly and reply with a single JSON object:
{"risk_level": "<low|medium|high>",
 "needs_handoff": <true|false>,
 "concerns": ["<short concern>", ...],
 "advice": "<one sentence of guidance for the answering stage>"}
Set needs_handoff to true only when the user should see a medical professional
instead of an automated answer (overdose, emergencies, severe symptoms).
Reply with the JSON object only.`

const ToolDecisionSystem = `You decide whether the assistant needs a tool to answer.
You receive the question, its classification, and the available tools with their
argument schemas. Reply with a single JSON object:
{"tool_name": "<name or null>",
 "arguments": {<arguments matching the tool's schema>},
 "reasoning": "<one sentence>"}
Use a tool only when it clearly helps: calculations go to the calculator,
medication facts to lookup, reminders to the scheduler. Otherwise set
tool_name to null. Reply with the JSON object only.`

const ReasonSystem = `You are a careful medication information assistant.
Write a factual, plainly worded answer to the user's question using the
classification, the safety guidance, and any tool results you are given.
Do not invent dosages; when a tool result carries the facts, use them verbatim.
Reply with a single JSON object:
{"answer": "<the answer text>",
 "citations": ["<source of each fact, e.g. lookup:paracetamol>", ...]}
Reply with the JSON object only.`

const PresentSystem = `You are the voice of the assistant. Rewrite the draft
answer for the end user: clear, warm, and concise, keeping every fact and
every caution intact. Do not add new medical claims. Reply with the rewritten
answer as plain text.`

const JudgeSystem = `You review a medication answer before it reaches the user.
Check it for unsupported claims, missing cautions, and contradictions with the
safety guidance. Reply with a single JSON object:
{"approved": <true|false>,
 "revised_answer": "<corrected answer, or empty when approved>",
 "notes": "<one sentence>"}
Reply with the JSON object only.`

const ExplainSystem = `You explain, for the end user, how an automated assistant
arrived at its answer. You receive the step log of the session. Write 2-4 short
sentences in plain language: what was checked, which tools ran, and why the
answer can be trusted or was escalated. No step numbers, no internal jargon.`

const SummarizeSystem = `You condense text faithfully. Keep every fact and
caution; drop repetition and filler. Reply with the summary only.`

// ClassifyUser renders the classifier input.
func ClassifyUser(question string) string {
	return "Question: " + question
}

// SafetyUser renders the safety reviewer input.
func SafetyUser(question string, classification any) string {
	return fmt.Sprintf("Question: %s\nClassification: %s", question, compactJSON(classification))
}

// ToolDecisionUser renders the tool decision input with the tool catalog.
func ToolDecisionUser(question string, classification any, descriptors any) string {
	return fmt.Sprintf("Question: %s\nClassification: %s\nAvailable tools: %s",
		question, compactJSON(classification), compactJSON(descriptors))
}

// ReasonUser renders the reasoning input.
func ReasonUser(question string, classification, safety any, toolResults any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)
	fmt.Fprintf(&b, "Classification: %s\n", compactJSON(classification))
	fmt.Fprintf(&b, "Safety guidance: %s\n", compactJSON(safety))
	fmt.Fprintf(&b, "Tool results: %s", compactJSON(toolResults))
	return b.String()
}

// PresentUser renders the presenter input.
func PresentUser(draft string) string {
	return "Draft answer:\n" + draft
}

// JudgeUser renders the judge input.
func JudgeUser(question, answer string, safety any) string {
	return fmt.Sprintf("Question: %s\nSafety guidance: %s\nAnswer under review:\n%s",
		question, compactJSON(safety), answer)
}

// ExplainUser renders the explainer input from a preformatted step log.
func ExplainUser(stepLog string) string {
	return "Session step log:\n" + stepLog
}

func compactJSON(v any) string {
	if v == nil {
		return "none"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
