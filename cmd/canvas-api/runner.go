package main

import (
	"context"
	"log"
	"sync"
	"time"

	channerics "github.com/niceyeti/channerics/channels"

	"github.com/agirails/canvas-core/internal/canvas/orchestrator"
	"github.com/agirails/canvas-core/internal/canvas/store"
)

// autoRunner drives the virtual clock in ModeAuto: a ticker fires once
// per tickIntervalMs and each firing runs exactly one tick, until Stop
// closes the done channel.
type autoRunner struct {
	mu      sync.Mutex
	st      *store.Store
	orch    *orchestrator.Orchestrator
	execute bool
	done    chan struct{}
	running bool
}

func newAutoRunner(st *store.Store, orch *orchestrator.Orchestrator, execute bool) *autoRunner {
	return &autoRunner{st: st, orch: orch, execute: execute}
}

// Start begins the auto-ticker at the current tickIntervalMs. A no-op if
// already running.
func (r *autoRunner) Start(hub *wsHub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.done = make(chan struct{})
	done := r.done

	interval := time.Duration(r.st.State().TickIntervalMs) * time.Millisecond
	go func() {
		for range channerics.NewTicker(done, interval) {
			var err error
			if r.execute {
				err = r.orch.RunExecutionTick(context.Background())
			} else {
				err = r.orch.RunHappyPathTick(context.Background())
			}
			if err != nil {
				log.Printf("canvas-api: tick failed: %v", err)
				r.Stop()
				return
			}
			if hub != nil {
				hub.Broadcast("tick", r.st.State())
			}
		}
	}()
}

// Stop halts the auto-ticker. A no-op if not running.
func (r *autoRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.done)
}

func (r *autoRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
