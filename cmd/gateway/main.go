package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/glassboxlabs/glassbox/internal/insights"
	"github.com/glassboxlabs/glassbox/internal/pipeline"
	"github.com/glassboxlabs/glassbox/internal/tool"
	"github.com/glassboxlabs/glassbox/internal/trace"
	"github.com/glassboxlabs/glassbox/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env")
	}

	cfg := loadConfig()

	store := openStore(cfg)
	defer store.Close()

	recorder := trace.NewRecorder(store)

	providerParams := agents.OpenAIProviderParams{}
	if cfg.openaiAPIKey != "" {
		providerParams.APIKey = param.NewOpt(cfg.openaiAPIKey)
	}
	if cfg.openaiBaseURL != "" {
		providerParams.BaseURL = param.NewOpt(cfg.openaiBaseURL)
	}
	provider := agents.NewOpenAIProvider(providerParams)

	backend := pipeline.NewAgentBackend(provider, cfg.model, cfg.maxTokens)

	registry := tool.NewRegistry(
		tool.NewCalculator(),
		tool.NewLookup(),
		tool.NewScheduler(),
		tool.NewSummarizer(pipeline.TextModel(backend)),
	)
	invoker := tool.NewInvoker(registry, recorder, cfg.toolTimeout)

	orch := pipeline.NewOrchestrator(backend, invoker, recorder, pipeline.Config{
		StageTimeout: cfg.stageTimeout,
	})

	engine := insights.NewEngine(insights.Config{
		SlowStepMs:     cfg.slowStepMs,
		MinSuccessRate: cfg.minSuccessRate,
		MaxErrorCount:  cfg.maxErrorCount,
		MinClusterSize: cfg.minClusterSize,
	})

	wsHandler := ws.NewHandler(ws.HandlerConfig{
		Orchestrator:  orch,
		MaxConcurrent: cfg.maxConcurrent,
		IncludeTrace:  cfg.debugTrace,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		cfg:          cfg,
		orchestrator: orch,
		recorder:     recorder,
		store:        store,
		engine:       engine,
		wsHandler:    wsHandler,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("gateway starting",
		"addr", addr,
		"model", cfg.model,
		"tools", registry.Names(),
		"max_concurrent", cfg.maxConcurrent)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// openStore picks PostgreSQL when TRACE_DB_URL is set, otherwise the local
// trace directory.
func openStore(cfg config) trace.Store {
	if cfg.traceDBURL != "" {
		store, err := trace.OpenSQLStore(cfg.traceDBURL)
		if err != nil {
			slog.Error("trace db unavailable", "error", err)
			os.Exit(1)
		}
		slog.Info("trace store ready", "backend", "postgres")
		return store
	}

	store, err := trace.OpenFileStore(cfg.traceDir)
	if err != nil {
		slog.Error("trace dir unavailable", "dir", cfg.traceDir, "error", err)
		os.Exit(1)
	}
	slog.Info("trace store ready", "backend", "file", "dir", cfg.traceDir)
	return store
}
