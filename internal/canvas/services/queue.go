// Package services implements a bounded, batched job queue that lets agent
// scripts kick off asynchronous work (translation today) without suspending
// their synchronous tick: submit during the tick, poll the result through
// ctx.state.jobs on a later one.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/logging"
)

// maxDrainConcurrency bounds how many job handlers Drain runs in parallel —
// handlers are assumed independent (no agent ever owns two jobs sharing
// state), so fan-out is safe; the cap just avoids a burst of slow HTTP
// translate calls opening unbounded goroutines in one tick.
const maxDrainConcurrency = 4

// Handler executes one job's params and returns its raw result.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ErrQueueFull is returned when the bounded queue is at capacity.
var ErrQueueFull = errors.New("services: job queue is full")

// ErrDuplicateID is returned by SubmitWithID on a colliding job id — fatal
// to the calling agent's run.
var ErrDuplicateID = errors.New("services: duplicate job id")

// Queue is the bounded job queue.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]domain.ServiceJob
	order   []string
	maxSize int
	seq     int64
	logger  logging.Logger
}

// NewQueue constructs an empty queue capped at maxSize.
func NewQueue(maxSize int, logger logging.Logger) *Queue {
	return &Queue{
		jobs:    make(map[string]domain.ServiceJob),
		maxSize: maxSize,
		logger:  logging.OrNop(logger),
	}
}

// Submit enqueues a job under a fresh main-side job id.
func (q *Queue) Submit(jobType string, params map[string]interface{}, owner string, nowMs int64) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) >= q.maxSize {
		return "", ErrQueueFull
	}
	q.seq++
	id := fmt.Sprintf("job-%d", q.seq)
	q.insertLocked(id, jobType, params, owner, nowMs)
	return id, nil
}

// SubmitWithID enqueues a job under a caller-supplied id — used when the
// sandbox worker must mint deterministic `job-N` ids from its own id
// counter. Colliding ids are a fatal error for the caller.
func (q *Queue) SubmitWithID(id, jobType string, params map[string]interface{}, owner string, nowMs int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if len(q.jobs) >= q.maxSize {
		return ErrQueueFull
	}
	q.insertLocked(id, jobType, params, owner, nowMs)
	return nil
}

func (q *Queue) insertLocked(id, jobType string, params map[string]interface{}, owner string, nowMs int64) {
	q.jobs[id] = domain.ServiceJob{
		ID:           id,
		Type:         jobType,
		Params:       params,
		Status:       domain.JobPending,
		OwnerAgentID: owner,
		CreatedAtMs:  nowMs,
	}
	q.order = append(q.order, id)
}

// Pending returns every job still awaiting processing, in submission order.
func (q *Queue) Pending() []domain.ServiceJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.ServiceJob
	for _, id := range q.order {
		if j, ok := q.jobs[id]; ok && j.Status == domain.JobPending {
			out = append(out, j)
		}
	}
	return out
}

// Drain processes up to maxPerTick pending jobs (FIFO submission order)
// using handlers keyed by job type, capping each result's serialized output
// at maxOutputChars (truncated with a trailing marker). Jobs whose type has
// no registered handler, or whose handler errors, are marked failed.
//
// Drain does not remove jobs from the queue — orchestration happens in two
// steps (drain, then write-back+purge) so the orchestrator can copy results
// into agent state before the queue forgets them.
func (q *Queue) Drain(ctx context.Context, handlers map[string]Handler, maxPerTick, maxOutputChars int) []domain.ServiceJob {
	q.mu.Lock()
	pendingIDs := make([]string, 0, len(q.order))
	for _, id := range q.order {
		if j, ok := q.jobs[id]; ok && j.Status == domain.JobPending {
			pendingIDs = append(pendingIDs, id)
		}
	}
	if maxPerTick > 0 && len(pendingIDs) > maxPerTick {
		pendingIDs = pendingIDs[:maxPerTick]
	}
	q.mu.Unlock()

	// Each pending job is handed to its own goroutine, bounded by
	// maxDrainConcurrency; results land in a slot indexed by submission
	// order so the returned slice stays deterministic regardless of which
	// handler finishes first.
	processed := make([]domain.ServiceJob, len(pendingIDs))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxDrainConcurrency)
	for i, id := range pendingIDs {
		i, id := i, id
		group.Go(func() error {
			processed[i] = q.process(gctx, id, handlers, maxOutputChars)
			return nil
		})
	}
	_ = group.Wait() // process() never returns an error itself; failures are recorded as JobFailed
	return processed
}

func (q *Queue) process(ctx context.Context, id string, handlers map[string]Handler, maxOutputChars int) domain.ServiceJob {
	q.mu.Lock()
	job := q.jobs[id]
	q.mu.Unlock()

	handler, ok := handlers[job.Type]
	if !ok {
		job.Status = domain.JobFailed
		job.Error = fmt.Sprintf("no handler registered for job type %q", job.Type)
		q.store(job)
		return job
	}

	result, err := func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job handler panicked: %v", r)
			}
		}()
		return handler(ctx, job.Params)
	}()
	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
		q.store(job)
		return job
	}

	if s, ok := result.(string); ok && maxOutputChars > 0 && len(s) > maxOutputChars {
		result = s[:maxOutputChars] + "...[truncated]"
	}
	job.Status = domain.JobCompleted
	job.Result = result
	q.store(job)
	return job
}

func (q *Queue) store(job domain.ServiceJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
}

// PurgeTerminal removes every completed/failed job from the queue and
// returns them, so the orchestrator can write them into owning agents'
// ctx.state.jobs and then let the queue forget them.
func (q *Queue) PurgeTerminal() []domain.ServiceJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var done []domain.ServiceJob
	var remaining []string
	for _, id := range q.order {
		j, ok := q.jobs[id]
		if !ok {
			continue
		}
		if j.Status == domain.JobCompleted || j.Status == domain.JobFailed {
			done = append(done, j)
			delete(q.jobs, id)
			continue
		}
		remaining = append(remaining, id)
	}
	q.order = remaining
	return done
}

// Len returns the total number of jobs (pending + unpurged terminal) in the
// queue — used by telemetry.Metrics.JobQueueDepth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
