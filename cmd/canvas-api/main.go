// Command canvas-api exposes the simulator core over HTTP and websocket for
// any external UI to drive. The
// core itself never renders anything; this binary is purely a thin
// transport shell around internal/canvas/store and internal/canvas/orchestrator.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agirails/canvas-core/internal/canvas/actp"
	"github.com/agirails/canvas-core/internal/canvas/orchestrator"
	"github.com/agirails/canvas-core/internal/canvas/services"
	"github.com/agirails/canvas-core/internal/canvas/store"
	"github.com/agirails/canvas-core/internal/canvas/workerclient"
	"github.com/agirails/canvas-core/internal/logging"
	"github.com/agirails/canvas-core/internal/runtimeconfig"
	"github.com/agirails/canvas-core/internal/telemetry"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	configPath := flag.String("config", "", "path to a YAML runtime config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus /metrics listen address")
	execMode := flag.Bool("exec", true, "drive auto-runtime in script-execution mode instead of happy-path")
	flag.Parse()

	logger := logging.NewText(slog.LevelInfo)

	cfg, err := runtimeconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("canvas-api: load config: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	st := store.New(0, logger)
	acc := actp.New(st, logger)
	worker, err := workerclient.New(workerclient.Limits{
		MaxExecutionTimeMs: cfg.Limits.MaxExecutionTime.Milliseconds(),
		KillSwitchMargin:   cfg.Limits.KillSwitchMargin,
		MaxStackBytes:      cfg.Limits.MaxStackBytes,
		MaxConsoleLines:    cfg.Limits.MaxConsoleLines,
		MaxLogLineChars:    cfg.Limits.MaxLogLineChars,
		MaxOps:             cfg.Limits.MaxOps,
		MaxStateBytes:      cfg.Limits.MaxStateBytes,
		ProgramCacheSize:   64,
	}, logger, metrics)
	if err != nil {
		log.Fatalf("canvas-api: start worker: %v", err)
	}

	queue := services.NewQueue(cfg.Limits.MaxQueueSize, logger)
	handlers := map[string]services.Handler{
		"translate": services.TranslateHandler(services.MockBackend{}),
	}
	orch := orchestrator.New(st, acc, worker, queue, handlers, cfg.Limits, logger, metrics)

	hub := newHub()
	go hub.run()

	runner := newAutoRunner(st, orch, *execMode)
	api := newAPIServer(st, runner, hub)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			fmt.Fprintf(os.Stderr, "canvas-api: metrics server: %v\n", err)
		}
	}()

	log.Printf("canvas-api: listening on %s (metrics on %s)", *addr, *metricsAddr)
	if err := api.router().Run(*addr); err != nil {
		log.Fatalf("canvas-api: %v", err)
	}
}
