package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glassboxlabs/glassbox/internal/insights"
	"github.com/glassboxlabs/glassbox/internal/pipeline"
	"github.com/glassboxlabs/glassbox/internal/trace"
)

// defaultTraceListLimit is how many traces are returned when the caller
// omits the ?limit= query parameter.
const defaultTraceListLimit = 20

type deps struct {
	cfg          config
	orchestrator *pipeline.Orchestrator
	recorder     *trace.Recorder
	store        trace.Store
	engine       *insights.Engine
	wsHandler    http.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/ask", d.wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("POST /ask", d.handleAsk)
	mux.HandleFunc("GET /api/traces", d.handleTraceList)
	mux.HandleFunc("GET /api/traces/{id}", d.handleTraceGet)
	mux.HandleFunc("GET /api/insights", d.handleInsights)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleAsk runs one question through the pipeline, streaming stage progress
// as server-sent events and finishing with the complete answer.
func (d deps) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	writeEvent := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	res := d.orchestrator.Run(r.Context(), req.Message, func(stage, message string) {
		writeEvent(map[string]any{"type": "progress", "stage": stage, "message": message})
	})

	complete := map[string]any{
		"type":       "complete",
		"session_id": res.SessionID,
		"response":   res.Answer,
		"citations":  res.Citations,
	}
	if d.cfg.debugTrace {
		complete["trace"] = res.Trace
	}
	writeEvent(complete)
}

// traceSummary is the list-view projection of a trace.
type traceSummary struct {
	SessionID       string  `json:"session_id"`
	StartedAt       string  `json:"started_at"`
	DurationSeconds float64 `json:"duration_seconds"`
	TotalSteps      int     `json:"total_steps"`
	TotalToolCalls  int     `json:"total_tool_calls"`
	FinalAnswer     string  `json:"final_answer,omitempty"`
}

func (d deps) handleTraceList(w http.ResponseWriter, r *http.Request) {
	traces, skipped, err := d.store.LoadAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sort.Slice(traces, func(i, j int) bool {
		return traces[i].StartedAt.After(traces[j].StartedAt)
	})

	limit := queryInt(r, "limit", defaultTraceListLimit)
	offset := queryInt(r, "offset", 0)
	total := len(traces)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	summaries := make([]traceSummary, 0, end-offset)
	for _, t := range traces[offset:end] {
		summaries = append(summaries, traceSummary{
			SessionID:       t.SessionID,
			StartedAt:       t.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
			DurationSeconds: t.Metadata.DurationSeconds,
			TotalSteps:      t.Metadata.TotalSteps,
			TotalToolCalls:  t.Metadata.TotalToolCalls,
			FinalAnswer:     t.FinalAnswer,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"traces":  summaries,
		"total":   total,
		"skipped": skipped,
	})
}

func (d deps) handleTraceGet(w http.ResponseWriter, r *http.Request) {
	t, err := d.recorder.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, trace.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

func (d deps) handleInsights(w http.ResponseWriter, r *http.Request) {
	traces, skipped, err := d.store.LoadAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if skipped > 0 {
		slog.Warn("insights skipping unreadable traces", "skipped", skipped)
	}

	report := d.engine.Analyze(traces)

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(report.Render()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
