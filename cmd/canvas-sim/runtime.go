package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/agirails/canvas-core/internal/canvas/actp"
	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/orchestrator"
	"github.com/agirails/canvas-core/internal/canvas/scenario"
	"github.com/agirails/canvas-core/internal/canvas/services"
	"github.com/agirails/canvas-core/internal/canvas/snapshot"
	"github.com/agirails/canvas-core/internal/canvas/store"
	"github.com/agirails/canvas-core/internal/canvas/workerclient"
	"github.com/agirails/canvas-core/internal/logging"
	"github.com/agirails/canvas-core/internal/runtimeconfig"
	"github.com/agirails/canvas-core/internal/telemetry"
)

// runtime bundles everything a driver command (run/watch) needs to advance
// the simulation tick by tick.
type runtime struct {
	store  *store.Store
	orch   *orchestrator.Orchestrator
	worker *workerclient.Client
	cfg    runtimeconfig.Config
}

// newRuntime seeds a Store from a scenario file and wires an Orchestrator
// against it using cfg's limits.
func newRuntime(scenarioPath string, cfg runtimeconfig.Config, logger logging.Logger, metrics *telemetry.Metrics) (*runtime, error) {
	s, err := scenario.Load(scenarioPath)
	if err != nil {
		return nil, err
	}
	state, positions, err := scenario.Build(s)
	if err != nil {
		return nil, fmt.Errorf("build scenario: %w", err)
	}
	state.TickIntervalMs = cfg.TickIntervalMs
	if cfg.RuntimeMode != "" {
		state.RuntimeMode = domain.RuntimeMode(cfg.RuntimeMode)
	}

	st := store.New(state.RngSeed, logger)
	if err := st.Dispatch(store.Action{
		Kind:        store.LoadState,
		LoadedState: &state,
		LoadedPos:   positions,
		NowMs:       state.VirtualTimeMs,
	}); err != nil {
		return nil, fmt.Errorf("seed store: %w", err)
	}

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
		return nil, fmt.Errorf("start worker: %w", err)
	}

	queue := services.NewQueue(cfg.Limits.MaxQueueSize, logger)
	var backend services.Backend = services.MockBackend{}
	if cfg.TranslateURL != "" {
		backend = services.FallbackBackend{
			Primary:  &services.HTTPBackend{BaseURL: cfg.TranslateURL, Client: &http.Client{Timeout: 5 * time.Second}},
			Fallback: services.MockBackend{},
		}
	}
	handlers := map[string]services.Handler{
		"translate": services.TranslateHandler(backend),
	}

	orch := orchestrator.New(st, acc, worker, queue, handlers, cfg.Limits, logger, metrics)

	return &runtime{store: st, orch: orch, worker: worker, cfg: cfg}, nil
}

// beginRecording starts the store's event log with a full in-band snapshot,
// the way the canvas would on "start recording".
func beginRecording(st *store.Store) {
	st.StartRecording(func(state domain.CanvasState, positions map[string]domain.Position) interface{} {
		return snapshot.ExportFull(state, positions, time.Now().UTC().Format(time.RFC3339))
	})
}
