package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/glassboxlabs/glassbox/internal/pipeline"
	"github.com/glassboxlabs/glassbox/internal/trace"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds the shared pipeline for all chat sessions.
type HandlerConfig struct {
	Orchestrator  *pipeline.Orchestrator
	MaxConcurrent int
	// IncludeTrace attaches the full trace to every complete event.
	IncludeTrace bool
}

// Handler manages WebSocket chat sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// askRequest is one text frame sent by the client.
type askRequest struct {
	Message string `json:"message"`
}

// event is one frame sent back to the client: progress while the pipeline
// runs, then complete with the answer.
type event struct {
	Type      string       `json:"type"`
	Stage     string       `json:"stage,omitempty"`
	Message   string       `json:"message,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Response  string       `json:"response,omitempty"`
	Citations []string     `json:"citations,omitempty"`
	Trace     *trace.Trace `json:"trace,omitempty"`
}

// ServeHTTP upgrades the connection and runs the chat session.
// Returns 503 at max concurrent capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runSession(r.Context(), conn)
}

func (h *Handler) runSession(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := newEventSender(conn)
	slog.Info("chat session started", "remote", conn.RemoteAddr().String())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "error", err)
			return
		}

		var req askRequest
		if err = json.Unmarshal(data, &req); err != nil {
			send(event{Type: "error", Message: "expected a JSON frame with a message field"})
			continue
		}

		res := h.cfg.Orchestrator.Run(ctx, req.Message, func(stage, message string) {
			send(event{Type: "progress", Stage: stage, Message: message})
		})

		complete := event{
			Type:      "complete",
			SessionID: res.SessionID,
			Response:  res.Answer,
			Citations: res.Citations,
		}
		if h.cfg.IncludeTrace {
			complete.Trace = res.Trace
		}
		send(complete)
	}
}

func newEventSender(conn *websocket.Conn) func(event) {
	var mu sync.Mutex
	return func(ev event) {
		mu.Lock()
		defer mu.Unlock()

		jsonBytes, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err = conn.WriteMessage(websocket.TextMessage, jsonBytes); err != nil {
			slog.Error("write event", "error", err)
		}
	}
}
