package main

import (
	"time"

	"github.com/glassboxlabs/glassbox/internal/env"
)

type config struct {
	port           string
	openaiAPIKey   string
	openaiBaseURL  string
	model          string
	maxTokens      int
	stageTimeout   time.Duration
	toolTimeout    time.Duration
	maxConcurrent  int
	traceDir       string
	traceDBURL     string
	debugTrace     bool
	slowStepMs     float64
	minSuccessRate float64
	maxErrorCount  int
	minClusterSize int
}

func loadConfig() config {
	return config{
		port:           env.Str("GATEWAY_PORT", "8000"),
		openaiAPIKey:   env.Str("OPENAI_API_KEY", ""),
		openaiBaseURL:  env.Str("OPENAI_BASE_URL", ""),
		model:          env.Str("PIPELINE_MODEL", "gpt-4o-mini"),
		maxTokens:      env.Int("PIPELINE_MAX_TOKENS", 800),
		stageTimeout:   env.Duration("STAGE_TIMEOUT", 30*time.Second),
		toolTimeout:    env.Duration("TOOL_TIMEOUT", 10*time.Second),
		maxConcurrent:  env.Int("MAX_CONCURRENT_SESSIONS", 100),
		traceDir:       env.Str("TRACE_DIR", "traces"),
		traceDBURL:     env.Str("TRACE_DB_URL", ""),
		debugTrace:     env.Bool("DEBUG_TRACE", false),
		slowStepMs:     env.Float("INSIGHTS_SLOW_STEP_MS", 2000),
		minSuccessRate: env.Float("INSIGHTS_MIN_SUCCESS_RATE", 0.5),
		maxErrorCount:  env.Int("INSIGHTS_MAX_ERROR_COUNT", 5),
		minClusterSize: env.Int("INSIGHTS_MIN_CLUSTER_SIZE", 2),
	}
}
