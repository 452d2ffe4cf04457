// Package replay implements deterministic playback of a recorded
// eventlog.Log against a private store.Store, never touching that store's
// own recording machinery.
package replay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	channerics "github.com/niceyeti/channerics/channels"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/eventlog"
	"github.com/agirails/canvas-core/internal/canvas/snapshot"
	"github.com/agirails/canvas-core/internal/canvas/store"
	"github.com/agirails/canvas-core/internal/logging"
)

// State is the playback machine's observable state.
type State string

const (
	StateIdle     State = "idle"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
	StateComplete State = "complete"
)

// baseStepIntervalMs is the wall-clock pacing of one replayed event at 1x
// speed; playback speed divides it, it is unrelated to the simulation's own
// tickIntervalMs.
const baseStepIntervalMs = 400

// Engine replays one recorded eventlog.Log against a scratch store, exposing
// VCR-style transport controls.
type Engine struct {
	mu sync.Mutex

	log     *eventlog.Log
	resolve snapshot.CodeResolver
	logger  logging.Logger

	st         *store.Store
	playback   State
	eventIndex int
	tick       int64

	stop chan struct{}
}

// New constructs a replay engine for log, resolving any code-free agent's
// source through resolve when the SESSION_INIT snapshot omits it.
func New(log *eventlog.Log, resolve snapshot.CodeResolver, logger logging.Logger) (*Engine, error) {
	if log == nil || len(log.Events) == 0 {
		return nil, fmt.Errorf("replay: log has no events to bootstrap from")
	}
	if log.Events[0].Type != eventlog.SessionInit {
		return nil, fmt.Errorf("replay: first event must be %s, got %s", eventlog.SessionInit, log.Events[0].Type)
	}
	e := &Engine{
		log:     log,
		resolve: resolve,
		logger:  logging.OrNop(logger),
	}
	if err := e.resetLocked(); err != nil {
		return nil, err
	}
	return e, nil
}

// State returns the current playback state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playback
}

// CurrentTick returns the virtual tick of the last applied event.
func (e *Engine) CurrentTick() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// TotalTicks returns the recording's final tick count.
func (e *Engine) TotalTicks() int64 { return e.log.Metadata.TotalTicks }

// CurrentEventIndex returns how many events have been applied so far.
func (e *Engine) CurrentEventIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eventIndex
}

// TotalEvents returns the total number of events in the recording.
func (e *Engine) TotalEvents() int { return len(e.log.Events) }

// Progress returns how far through the recording playback has advanced, in
// [0,1].
func (e *Engine) Progress() float64 {
	total := len(e.log.Events)
	if total == 0 {
		return 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.eventIndex) / float64(total)
}

// CanvasState returns the reconstructed state as of the last applied event.
func (e *Engine) CanvasState() domain.CanvasState {
	e.mu.Lock()
	st := e.st
	e.mu.Unlock()
	return st.State()
}

// Step applies exactly one event and advances the cursor.
func (e *Engine) Step() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepLocked()
}

func (e *Engine) stepLocked() error {
	if e.eventIndex >= len(e.log.Events) {
		e.playback = StateComplete
		return nil
	}
	ev := e.log.Events[e.eventIndex]
	if err := e.apply(ev); err != nil {
		return fmt.Errorf("replay: applying event %s (%s): %w", ev.ID, ev.Type, err)
	}
	e.eventIndex++
	e.tick = ev.Tick
	if e.eventIndex >= len(e.log.Events) {
		e.playback = StateComplete
	}
	return nil
}

// Reset rewinds to before the first event, re-bootstrapping from
// SESSION_INIT.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopPlaybackLocked()
	return e.resetLocked()
}

func (e *Engine) resetLocked() error {
	var init snapshot.Export
	if err := decodePayload(e.log.Events[0].Payload, &init); err != nil {
		return fmt.Errorf("replay: decoding SESSION_INIT snapshot: %w", err)
	}
	state, positions, err := snapshot.Hydrate(init, e.resolve)
	if err != nil {
		return fmt.Errorf("replay: hydrating SESSION_INIT snapshot: %w", err)
	}
	// Hydrate restores the determinism primitives the snapshot carries
	// in-band; the log-level envelope only backfills logs recorded before
	// the snapshot carried them.
	if init.RngSeed == 0 {
		state.RngSeed = e.log.Seed
	}
	if init.TickIntervalMs == 0 && e.log.InitialState.TickIntervalMs > 0 {
		state.TickIntervalMs = e.log.InitialState.TickIntervalMs
	}
	if init.IDCounter == 0 && e.log.InitialState.IDCounter > state.IDCounter {
		state.IDCounter = e.log.InitialState.IDCounter
	}

	e.st = store.New(e.log.Seed, e.logger)
	if err := e.st.Dispatch(store.Action{Kind: store.LoadState, LoadedState: &state, LoadedPos: positions, NowMs: state.VirtualTimeMs}); err != nil {
		return fmt.Errorf("replay: loading SESSION_INIT state: %w", err)
	}

	e.eventIndex = 1 // SESSION_INIT already applied
	e.tick = 0
	e.playback = StateIdle
	return nil
}

// JumpToEvent resets and replays up to and including event index i.
func (e *Engine) JumpToEvent(i int) error {
	if err := e.Reset(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.eventIndex <= i && e.eventIndex < len(e.log.Events) {
		if err := e.stepLocked(); err != nil {
			return err
		}
	}
	return nil
}

// JumpToTick resets and replays every event whose tick is <= tick.
func (e *Engine) JumpToTick(tick int64) error {
	if err := e.Reset(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.eventIndex < len(e.log.Events) {
		if e.log.Events[e.eventIndex].Tick > tick {
			break
		}
		if err := e.stepLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Play starts (or resumes) automatic playback at speedMultiplier real-time
// speed; a non-positive multiplier defaults to 1x. Play is a no-op if
// already playing.
func (e *Engine) Play(speedMultiplier float64) {
	e.mu.Lock()
	if e.playback == StatePlaying {
		e.mu.Unlock()
		return
	}
	if e.eventIndex >= len(e.log.Events) {
		e.playback = StateComplete
		e.mu.Unlock()
		return
	}
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	stop := make(chan struct{})
	e.stop = stop
	e.playback = StatePlaying
	e.mu.Unlock()

	interval := time.Duration(float64(baseStepIntervalMs)/speedMultiplier) * time.Millisecond
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for range channerics.OrDone(stop, ticker.C) {
			e.mu.Lock()
			if e.playback != StatePlaying {
				e.mu.Unlock()
				return
			}
			if err := e.stepLocked(); err != nil {
				e.logger.Error("replay: playback halted: %v", err)
				e.playback = StatePaused
				e.mu.Unlock()
				return
			}
			done := e.playback == StateComplete
			e.mu.Unlock()
			if done {
				return
			}
		}
	}()
}

// Pause halts automatic playback; Step/JumpTo* remain usable afterward.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playback == StatePlaying {
		e.playback = StatePaused
	}
	e.stopPlaybackLocked()
}

func (e *Engine) stopPlaybackLocked() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func decodePayload(raw interface{}, out interface{}) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (e *Engine) apply(ev eventlog.Event) error {
	switch ev.Type {
	case string(store.AddAgent):
		var p store.AgentAddedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.AddAgent, Agent: &p.Agent, Position: &p.Position, NowMs: ev.TimestampMs})

	case string(store.RemoveAgent):
		var p store.AgentRemovedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.RemoveAgent, AgentID: p.AgentID, NowMs: ev.TimestampMs})

	case string(store.AddConnection):
		var p store.ConnectionAddedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.AddConnection, Connection: &p.Connection, NowMs: ev.TimestampMs})

	case string(store.RemoveConnection):
		var p store.ConnectionRemovedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.RemoveConnection, ConnectionID: p.ConnectionID, NowMs: ev.TimestampMs})

	case string(store.UpdateAgentCode):
		var p store.AgentCodeUpdatedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.UpdateAgentCode, AgentID: p.AgentID, Code: p.Code, NowMs: ev.TimestampMs})

	case string(store.UpdateAgentBalance):
		var p store.AgentBalanceUpdatedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.UpdateAgentBalance, AgentID: p.AgentID, Balance: p.Balance, NowMs: ev.TimestampMs})

	case string(store.UpdateAgentStatus):
		var p store.AgentStatusUpdatedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.UpdateAgentStatus, AgentID: p.AgentID, Status: p.Status, NowMs: ev.TimestampMs})

	case string(store.UpdateAgentPosition):
		var p store.AgentPositionUpdatedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.UpdateAgentPosition, AgentID: p.AgentID, Position: &p.Position, NowMs: ev.TimestampMs})

	case string(store.UpdateConnState):
		var p store.ConnectionStateUpdatedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.UpdateConnState, ConnectionID: p.ConnectionID, ConnState: p.State, NowMs: ev.TimestampMs})

	case string(store.UpdateConnAmount):
		var p store.ConnectionAmountUpdatedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.UpdateConnAmount, ConnectionID: p.ConnectionID, Amount: p.Amount, NowMs: ev.TimestampMs})

	case string(store.UpdateConnHash):
		var p store.ConnectionHashUpdatedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.UpdateConnHash, ConnectionID: p.ConnectionID, Hash: p.Hash, NowMs: ev.TimestampMs})

	case string(store.StartRuntime):
		return e.st.Dispatch(store.Action{Kind: store.StartRuntime, NowMs: ev.TimestampMs})

	case string(store.StopRuntime):
		return e.st.Dispatch(store.Action{Kind: store.StopRuntime, NowMs: ev.TimestampMs})

	case string(store.TickRuntime):
		return e.st.Dispatch(store.Action{Kind: store.TickRuntime, NowMs: ev.TimestampMs})

	case string(store.SetTickInterval):
		var p store.TickIntervalSetPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.SetTickInterval, TickMs: p.TickIntervalMs, NowMs: ev.TimestampMs})

	case string(store.SetRuntimeMode):
		var p store.RuntimeModeSetPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.SetRuntimeMode, RuntimeMode: p.Mode, NowMs: ev.TimestampMs})

	case string(store.SetExecutionMode):
		var p store.ExecutionModeSetPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.SetExecutionMode, Execution: p.Execution, NowMs: ev.TimestampMs})

	case string(store.AppendEvent):
		var p store.EventAppendedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.AppendEvent, Event: &p.Event, NowMs: ev.TimestampMs})

	case string(store.SelectAgent):
		var p store.SelectionChangedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return e.st.Dispatch(store.Action{Kind: store.SelectAgent, SelectedID: p.AgentID, ClearSelect: p.AgentID == "", NowMs: ev.TimestampMs})

	case string(store.ToggleInspector):
		return e.st.Dispatch(store.Action{Kind: store.ToggleInspector, NowMs: ev.TimestampMs})

	default:
		return fmt.Errorf("replay: unrecognized event kind %q", ev.Type)
	}
}
