package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/glassboxlabs/glassbox/internal/insights"
	"github.com/glassboxlabs/glassbox/internal/trace"
)

func main() {
	dir := flag.String("dir", envOr("TRACE_DIR", "traces"), "directory containing trace .json files")
	dbURL := flag.String("db-url", envOr("TRACE_DB_URL", ""), "PostgreSQL trace database URL (overrides --dir)")
	slowMs := flag.Float64("slow-ms", 2000, "flag steps at or above this duration as bottlenecks")
	minSuccess := flag.Float64("min-success-rate", 0.5, "flag tools whose success rate falls below this")
	maxErrors := flag.Int("max-errors", 5, "flag tools with more failures than this")
	minCluster := flag.Int("min-cluster", 2, "minimum recurrence before failures cluster")
	asJSON := flag.Bool("json", false, "emit the report as JSON instead of text")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	store, err := openStore(*dbURL, *dir)
	if err != nil {
		slog.Error("open trace store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	traces, skipped, err := store.LoadAll()
	if err != nil {
		slog.Error("load traces", "error", err)
		os.Exit(1)
	}
	if len(traces) == 0 {
		fmt.Fprintln(os.Stderr, "no traces found")
		os.Exit(1)
	}
	if skipped > 0 {
		slog.Warn("skipped unreadable traces", "skipped", skipped)
	}

	engine := insights.NewEngine(insights.Config{
		SlowStepMs:     *slowMs,
		MinSuccessRate: *minSuccess,
		MaxErrorCount:  *maxErrors,
		MinClusterSize: *minCluster,
	})
	report := engine.Analyze(traces)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			slog.Error("encode report", "error", err)
			os.Exit(1)
		}
		return
	}

	fmt.Print(report.Render())
}

func openStore(dbURL, dir string) (trace.Store, error) {
	if dbURL != "" {
		return trace.OpenSQLStore(dbURL)
	}
	return trace.OpenFileStore(dir)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
