package workerclient

import (
	"sync"
	"time"
)

// breakerState is a closed/open/half-open machine trimmed to the one
// decision the worker client needs: "do I even try calling the worker".
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// workerBreaker stops Execute from hammering a worker that keeps crashing:
// after failureThreshold consecutive kill-switch/FATAL failures it opens and
// refuses calls for cooldown, then allows exactly one trial call (half-open)
// before deciding whether to close again or re-open.
type workerBreaker struct {
	mu sync.Mutex

	state            breakerState
	failureThreshold int
	cooldown         time.Duration

	consecutiveFailures int
	openedAt            time.Time
}

func newWorkerBreaker(failureThreshold int, cooldown time.Duration) *workerBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &workerBreaker{
		state:            breakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Allow reports whether a call may proceed, transitioning open->half-open
// once the cooldown has elapsed.
func (b *workerBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *workerBreaker) MarkSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = breakerClosed
}

func (b *workerBreaker) MarkFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}
