// Package actp implements the ACTP transaction state machine and its
// escrow accountant: a pure transition table plus a side-effecting
// accountant that moves funds through the store.
package actp

import (
	"errors"
	"fmt"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/store"
	"github.com/agirails/canvas-core/internal/logging"
)

// Sentinel errors classify validation failures for callers (the orchestrator
// translates these into the worker-result error kinds where an op
// application is in play).
var (
	ErrUnknownConnection = errors.New("actp: unknown connection")
	ErrInvalidTransition = errors.New("actp: invalid state transition")
	ErrInsufficientFunds = errors.New("actp: insufficient funds")
)

// The platform fee is max(floor(amount/100), 50_000) — 1%, $0.05 floor.
const (
	FeeDivisor    int64 = 100
	FeeFloorMicro int64 = 50_000
)

// Fee returns the platform fee retained on settlement of amountMicro.
func Fee(amountMicro int64) int64 {
	f := amountMicro / FeeDivisor
	if f < FeeFloorMicro {
		f = FeeFloorMicro
	}
	return f
}

// allowedTransitions is the ACTP lifecycle table.
var allowedTransitions = map[domain.ConnState][]domain.ConnState{
	domain.StateInitiated:  {domain.StateQuoted, domain.StateCommitted, domain.StateCancelled},
	domain.StateQuoted:     {domain.StateCommitted, domain.StateCancelled},
	domain.StateCommitted:  {domain.StateInProgress, domain.StateDelivered, domain.StateCancelled},
	domain.StateInProgress: {domain.StateDelivered, domain.StateDisputed, domain.StateCancelled},
	domain.StateDelivered:  {domain.StateSettled, domain.StateDisputed},
	domain.StateDisputed:   {domain.StateSettled},
	domain.StateSettled:    nil,
	domain.StateCancelled:  nil,
}

// autoAdvance is the happy-path progression, used by the UI "Advance"
// action and by happy-path-mode tick orchestration.
var autoAdvance = map[domain.ConnState]domain.ConnState{
	domain.StateInitiated:  domain.StateCommitted,
	domain.StateQuoted:     domain.StateCommitted,
	domain.StateCommitted:  domain.StateInProgress,
	domain.StateInProgress: domain.StateDelivered,
	domain.StateDelivered:  domain.StateSettled,
	domain.StateDisputed:   domain.StateSettled,
}

// IsAllowed reports whether from→to is a legal transition.
func IsAllowed(from, to domain.ConnState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AutoNext returns the happy-path successor of from, if any.
func AutoNext(from domain.ConnState) (domain.ConnState, bool) {
	next, ok := autoAdvance[from]
	return next, ok
}

// Snapshot is the per-tick balance map agentId -> balanceMicro, seeded
// from state at tick start and mutated in place as successive transitions
// in the same tick touch the same agent. This guarantees at most one funded
// commit per requester-tick even when multiple connections compete for the
// same balance.
type Snapshot map[string]int64

// NewSnapshot seeds a Snapshot from the current agent balances in state.
func NewSnapshot(state domain.CanvasState) Snapshot {
	snap := make(Snapshot, len(state.Agents))
	for id, a := range state.Agents {
		snap[id] = a.BalanceMic
	}
	return snap
}

// Balance returns agentID's balance as of the last mutation to snap.
func (s Snapshot) Balance(agentID string) int64 { return s[agentID] }

// Accountant applies ACTP transitions through the store, mutating the
// caller-supplied per-tick Snapshot alongside it.
type Accountant struct {
	store  *store.Store
	logger logging.Logger
}

// New constructs an Accountant bound to st.
func New(st *store.Store, logger logging.Logger) *Accountant {
	return &Accountant{store: st, logger: logging.OrNop(logger)}
}

// Transition validates and applies a single connection state change,
// performing whatever escrow accounting the transition implies. snap is
// mutated in place. nowMs is the caller's virtual clock reading.
func (a *Accountant) Transition(snap Snapshot, connID string, to domain.ConnState, nowMs int64) error {
	conn, ok := a.store.GetConnection(connID)
	if !ok {
		a.emitError(fmt.Sprintf("unknown connection %q", connID), "", connID, nowMs)
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if conn.State.IsTerminal() {
		a.emitError(fmt.Sprintf("connection %s is terminal (%s)", connID, conn.State), "", connID, nowMs)
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, connID)
	}
	if !IsAllowed(conn.State, to) {
		a.emitError(fmt.Sprintf("invalid transition %s -> %s for %s", conn.State, to, connID), "", connID, nowMs)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, conn.State, to)
	}

	switch to {
	case domain.StateCommitted:
		return a.commit(snap, conn, nowMs)
	case domain.StateSettled:
		return a.settle(snap, conn, nowMs)
	case domain.StateCancelled:
		return a.cancel(snap, conn, nowMs)
	default:
		return a.setState(conn, to, nowMs)
	}
}

func (a *Accountant) commit(snap Snapshot, conn domain.Connection, nowMs int64) error {
	bal := snap.Balance(conn.SourceID)
	if bal < conn.AmountMic {
		a.emitError("Insufficient funds", conn.SourceID, conn.ID, nowMs)
		if err := a.setState(conn, domain.StateCancelled, nowMs); err != nil {
			return err
		}
		return fmt.Errorf("%w: requester %s has %d, needs %d", ErrInsufficientFunds, conn.SourceID, bal, conn.AmountMic)
	}
	snap[conn.SourceID] = bal - conn.AmountMic
	if err := a.setBalance(conn.SourceID, snap[conn.SourceID], nowMs); err != nil {
		return err
	}
	return a.setState(conn, domain.StateCommitted, nowMs)
}

func (a *Accountant) settle(snap Snapshot, conn domain.Connection, nowMs int64) error {
	fee := Fee(conn.AmountMic)
	credit := conn.AmountMic - fee
	snap[conn.TargetID] = snap.Balance(conn.TargetID) + credit
	if err := a.setBalance(conn.TargetID, snap[conn.TargetID], nowMs); err != nil {
		return err
	}
	return a.setState(conn, domain.StateSettled, nowMs)
}

func (a *Accountant) cancel(snap Snapshot, conn domain.Connection, nowMs int64) error {
	if conn.State == domain.StateCommitted || conn.State == domain.StateInProgress {
		snap[conn.SourceID] = snap.Balance(conn.SourceID) + conn.AmountMic
		if err := a.setBalance(conn.SourceID, snap[conn.SourceID], nowMs); err != nil {
			return err
		}
	}
	return a.setState(conn, domain.StateCancelled, nowMs)
}

func (a *Accountant) setState(conn domain.Connection, to domain.ConnState, nowMs int64) error {
	return a.store.Dispatch(store.Action{
		Kind:         store.UpdateConnState,
		ConnectionID: conn.ID,
		ConnState:    to,
		NowMs:        nowMs,
	})
}

func (a *Accountant) setBalance(agentID string, balance, nowMs int64) error {
	return a.store.Dispatch(store.Action{
		Kind:    store.UpdateAgentBalance,
		AgentID: agentID,
		Balance: balance,
		NowMs:   nowMs,
	})
}

func (a *Accountant) emitError(message, agentID, connID string, nowMs int64) {
	ev := domain.RuntimeEvent{
		ID:           a.store.NextRuntimeEventID(),
		Type:         domain.EventError,
		TimestampMs:  nowMs,
		AgentID:      agentID,
		ConnectionID: connID,
		Payload:      map[string]interface{}{"message": message},
	}
	_ = a.store.Dispatch(store.Action{Kind: store.AppendEvent, Event: &ev, NowMs: nowMs})
	a.logger.Warn("actp: %s", message)
}
