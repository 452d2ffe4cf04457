// Package workerclient implements the request/response bridge to the
// sandbox "worker", complete with the INIT/READY handshake, a hard
// kill-switch timer above the VM's own cooperative interrupt, and
// worker-restart-on-crash. There is no real OS thread or process boundary
// here — Go's goroutines and goja's already-isolated Runtime give the same
// no-shared-heap guarantee — but the protocol shape (requestId correlation,
// READY/FATAL/RESULT, respawn-after-kill) is preserved so the orchestrator
// never has to know the difference.
package workerclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/agirails/canvas-core/internal/canvas/sandbox"
	"github.com/agirails/canvas-core/internal/logging"
	"github.com/agirails/canvas-core/internal/telemetry"
)

// Limits bundles the sandbox resource caps the client stamps onto every
// ExecuteRequest and the kill-switch margin layered above them.
type Limits struct {
	MaxExecutionTimeMs int64
	KillSwitchMargin   time.Duration
	MaxStackBytes      int64
	MaxConsoleLines    int
	MaxLogLineChars    int
	MaxOps             int
	MaxStateBytes      int
	ProgramCacheSize   int
}

// Client owns one sandbox.VM "worker" at a time, restarting it whenever the
// hard kill-switch fires or a call panics unexpectedly.
type Client struct {
	mu      sync.Mutex
	vm      *sandbox.VM
	ready   bool
	limits  Limits
	logger  logging.Logger
	metrics *telemetry.Metrics
	breaker *workerBreaker

	// spawnGroup collapses concurrent spawn requests (the initial INIT and
	// any kill-switch-triggered respawn racing against it) into a single
	// in-flight handshake, since goja VMs are cheap but not free to build
	// and two overlapping Execute timeouts can otherwise both call spawn.
	spawnGroup singleflight.Group
}

// New performs the INIT/READY handshake (synchronously — there is nothing
// to await, but the shape is kept for protocol fidelity) and returns a
// ready Client.
func New(limits Limits, logger logging.Logger, metrics *telemetry.Metrics) (*Client, error) {
	c := &Client{
		limits:  limits,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		breaker: newWorkerBreaker(5, 10*time.Second),
	}
	if err := c.spawn(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) spawn() error {
	_, err, _ := c.spawnGroup.Do("INIT", func() (interface{}, error) {
		vm, err := sandbox.NewVM(c.limits.ProgramCacheSize)
		if err != nil {
			return nil, fmt.Errorf("workerclient: INIT failed: %w", err)
		}
		c.mu.Lock()
		c.vm = vm
		c.ready = true
		c.mu.Unlock()
		c.logger.Info("workerclient: worker READY")
		return nil, nil
	})
	return err
}

// Reset respawns the worker with an empty program cache.
func (c *Client) Reset() error {
	return c.spawn()
}

// Execute sends one ExecuteRequest and waits for its RESULT, a hard
// kill-switch timeout, or ctx cancellation — whichever comes first.
func (c *Client) Execute(ctx context.Context, req sandbox.Request) sandbox.Result {
	if !c.breaker.Allow() {
		return sandbox.Result{
			Success:   false,
			Error:     &sandbox.ExecError{Type: sandbox.ErrRuntime, Message: "workerclient: worker unavailable after repeated respawns"},
			IDCounter: req.IDCounter,
		}
	}

	req = c.withLimits(req)
	requestID := uuid.NewString()
	resultCh := make(chan sandbox.Result, 1)

	c.mu.Lock()
	vm := c.vm
	c.mu.Unlock()

	var fatal bool // set by the recover below before its FATAL result is sent
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fatal = true
				resultCh <- sandbox.Result{
					Success:   false,
					Error:     &sandbox.ExecError{Type: sandbox.ErrRuntime, Message: fmt.Sprintf("workerclient: FATAL: %v", r)},
					IDCounter: req.IDCounter,
				}
			}
		}()
		resultCh <- vm.Execute(req)
	}()

	killAfter := time.Duration(req.MaxExecutionTimeMs)*time.Millisecond + c.limits.KillSwitchMargin
	timer := time.NewTimer(killAfter)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if fatal {
			if c.metrics != nil {
				c.metrics.WorkerRespawns.Inc()
			}
			if err := c.spawn(); err != nil {
				c.logger.Error("workerclient: respawn after FATAL failed: %v", err)
			}
			c.breaker.MarkFailure()
		} else {
			c.breaker.MarkSuccess()
		}
		return res
	case <-timer.C:
		c.logger.Warn("workerclient: request %s exceeded kill-switch budget", requestID)
		c.killAndRespawn()
		c.breaker.MarkFailure()
		return sandbox.Result{
			Success:   false,
			Error:     &sandbox.ExecError{Type: sandbox.ErrTimeout, Message: "workerclient: hard kill-switch fired"},
			IDCounter: req.IDCounter,
		}
	case <-ctx.Done():
		return sandbox.Result{
			Success:   false,
			Error:     &sandbox.ExecError{Type: sandbox.ErrRuntime, Message: ctx.Err().Error()},
			IDCounter: req.IDCounter,
		}
	}
}

func (c *Client) withLimits(req sandbox.Request) sandbox.Request {
	if req.MaxExecutionTimeMs <= 0 {
		req.MaxExecutionTimeMs = c.limits.MaxExecutionTimeMs
	}
	if req.MaxStackBytes <= 0 {
		req.MaxStackBytes = c.limits.MaxStackBytes
	}
	if req.MaxConsoleLines <= 0 {
		req.MaxConsoleLines = c.limits.MaxConsoleLines
	}
	if req.MaxLogLineChars <= 0 {
		req.MaxLogLineChars = c.limits.MaxLogLineChars
	}
	if req.MaxOps <= 0 {
		req.MaxOps = c.limits.MaxOps
	}
	if req.MaxStateBytes <= 0 {
		req.MaxStateBytes = c.limits.MaxStateBytes
	}
	return req
}

// killAndRespawn terminates the current worker reference (the stray
// goroutine finishes on its own time and its result is simply discarded,
// since resultCh is buffered) and spawns a fresh one.
func (c *Client) killAndRespawn() {
	if c.metrics != nil {
		c.metrics.WorkerTimeouts.Inc()
		c.metrics.WorkerRespawns.Inc()
	}
	c.logger.Warn("workerclient: kill-switch fired, respawning worker")
	if err := c.spawn(); err != nil {
		c.logger.Error("workerclient: respawn failed: %v", err)
	}
}
