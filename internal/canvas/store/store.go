package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/eventlog"
	"github.com/agirails/canvas-core/internal/logging"
)

// MaxEvents is the runtime-event console cap; overflow is dropped from the
// front.
const MaxEvents = 1000

// Store owns the single CanvasState, the sibling positions map, the
// persistent per-agent state map, and the event log — the only writer of
// all four. The mutex exists solely to let the CLI/API layers call Dispatch
// from more than one goroutine safely, not because the reducer itself needs
// concurrency control.
type Store struct {
	mu sync.Mutex

	state     domain.CanvasState
	positions map[string]domain.Position
	persist   map[string]map[string]interface{}

	log    *eventlog.Log
	logger logging.Logger

	runtimeEventSeq int64
}

// New creates a Store seeded with an empty CanvasState.
func New(seed int64, logger logging.Logger) *Store {
	state := domain.NewCanvasState(seed)
	l := eventlog.New(seed, eventlog.InitialState{
		VirtualTimeMs:  state.VirtualTimeMs,
		IDCounter:      state.IDCounter,
		RngSeed:        state.RngSeed,
		TickIntervalMs: state.TickIntervalMs,
	})
	return &Store{
		state:     state,
		positions: make(map[string]domain.Position),
		persist:   make(map[string]map[string]interface{}),
		log:       l,
		logger:    logging.OrNop(logger),
	}
}

// State returns an immutable snapshot (deep-enough copy for read-only use —
// callers must not mutate the returned maps).
func (s *Store) State() domain.CanvasState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// Log returns the underlying event log for recording/export.
func (s *Store) Log() *eventlog.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// StartRecording begins appending to the event log, bootstrapping it with a
// SESSION_INIT snapshot. snapshotFn builds the external wire
// shape (snapshot.FullExport) from the current state under the lock.
func (s *Store) StartRecording(snapshotFn func(domain.CanvasState, map[string]domain.Position) interface{}) eventlog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The log may have been created before LOAD_STATE replaced the state it
	// was seeded from; re-sync the bootstrap envelope to what is actually
	// being recorded.
	s.log.InitialState = eventlog.InitialState{
		VirtualTimeMs:  s.state.VirtualTimeMs,
		IDCounter:      s.state.IDCounter,
		RngSeed:        s.state.RngSeed,
		TickIntervalMs: s.state.TickIntervalMs,
	}
	snap := snapshotFn(cloneState(s.state), clonePositions(s.positions))
	return s.log.StartRecording(snap, s.state.VirtualTimeMs)
}

// GetAgent returns agent by id.
func (s *Store) GetAgent(id string) (domain.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.Agents[id]
	return a, ok
}

// GetConnection returns a connection by id.
func (s *Store) GetConnection(id string) (domain.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.Connections[id]
	return c, ok
}

// GetAgentConnections returns every connection incident on agentID (either
// as source or target), sorted by id for deterministic iteration.
func (s *Store) GetAgentConnections(agentID string) []domain.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Connection
	for _, c := range s.state.Connections {
		if c.SourceID == agentID || c.TargetID == agentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetAgentPosition returns the geometric position of agentID.
func (s *Store) GetAgentPosition(agentID string) (domain.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[agentID]
	return p, ok
}

// GetAgentState returns the persistent state object for agentID (a copy; the
// only legitimate way to mutate it is via ReplaceAgentState, called by the
// orchestrator after a worker run returns finalState).
func (s *Store) GetAgentState(agentID string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJSONObject(s.persist[agentID])
}

// ReplaceAgentState replaces agentID's persistent state wholesale with
// whatever the agent's run returned.
func (s *Store) ReplaceAgentState(agentID string, next map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist[agentID] = cloneJSONObject(next)
}

// ClearAgentState removes agentID's persistent state (reset or removal).
func (s *Store) ClearAgentState(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.persist, agentID)
}

// NextRuntimeEventID allocates the next console event id (distinct from the
// durable eventlog.Event ids, which are owned by eventlog.Log itself).
func (s *Store) NextRuntimeEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimeEventSeq++
	return fmt.Sprintf("revt-%d", s.runtimeEventSeq)
}

// AllAgentIDs returns every agent id in ascending lexicographic order —
// the deterministic per-tick execution order.
func (s *Store) AllAgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.state.Agents))
	for id := range s.state.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch applies action to the state and appends the matching typed
// event if one is warranted. Every arm that mutates state logs one
// canonical event, except the UPDATE_AGENT_CODE arm's resulting status
// reset (nothing extra), SET_ID_COUNTER (not logged), and RESET_RUNTIME
// and RESET_STATE (which clear the log instead); STEP_ONCE changes nothing.
func (s *Store) Dispatch(action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchLocked(action)
}

func (s *Store) dispatchLocked(action Action) error {
	switch action.Kind {
	case AddAgent:
		return s.addAgent(action)
	case RemoveAgent:
		return s.removeAgent(action)
	case AddConnection:
		return s.addConnection(action)
	case RemoveConnection:
		return s.removeConnection(action)
	case UpdateAgentCode:
		return s.updateAgentCode(action)
	case UpdateAgentBalance:
		return s.updateAgentBalance(action)
	case UpdateAgentStatus:
		return s.updateAgentStatus(action)
	case UpdateAgentPosition:
		return s.updateAgentPosition(action)
	case UpdateConnState:
		return s.updateConnState(action)
	case UpdateConnAmount:
		return s.updateConnAmount(action)
	case UpdateConnHash:
		return s.updateConnHash(action)
	case StartRuntime:
		s.state.IsRunning = true
		s.logEvent(eventlog.Kind(StartRuntime), RuntimeStartedPayload{}, action.NowMs)
		return nil
	case StopRuntime:
		s.state.IsRunning = false
		s.logEvent(eventlog.Kind(StopRuntime), RuntimeStoppedPayload{}, action.NowMs)
		return nil
	case TickRuntime:
		s.state.Tick++
		s.state.VirtualTimeMs += s.state.TickIntervalMs
		s.logEvent(eventlog.Kind(TickRuntime), RuntimeTickedPayload{Tick: s.state.Tick, VirtualTimeMs: s.state.VirtualTimeMs}, s.state.VirtualTimeMs)
		return nil
	case StepOnce:
		// StepOnce is a UI-level alias; orchestrator issues TickRuntime itself
		// after applying one happy-path/execution pass, so nothing to reduce.
		return nil
	case ResetRuntime:
		return s.resetRuntime(action)
	case ResetState:
		return s.resetState(action)
	case LoadState:
		return s.loadState(action)
	case SetIDCounter:
		s.state.IDCounter = action.IDCounter
		return nil // internal bookkeeping only; not independently logged
	case SetTickInterval:
		s.state.TickIntervalMs = action.TickMs
		s.logEvent(eventlog.Kind(SetTickInterval), TickIntervalSetPayload{TickIntervalMs: action.TickMs}, action.NowMs)
		return nil
	case SetRuntimeMode:
		s.state.RuntimeMode = action.RuntimeMode
		s.logEvent(eventlog.Kind(SetRuntimeMode), RuntimeModeSetPayload{Mode: action.RuntimeMode}, action.NowMs)
		return nil
	case SetExecutionMode:
		s.state.ExecutionMode = action.Execution
		s.logEvent(eventlog.Kind(SetExecutionMode), ExecutionModeSetPayload{Execution: action.Execution}, action.NowMs)
		return nil
	case AppendEvent:
		return s.appendEvent(action)
	case SelectAgent:
		if action.ClearSelect {
			s.state.SelectedAgentID = ""
		} else {
			s.state.SelectedAgentID = action.SelectedID
		}
		s.logEvent(eventlog.Kind(SelectAgent), SelectionChangedPayload{AgentID: s.state.SelectedAgentID}, action.NowMs)
		return nil
	case ToggleInspector:
		s.state.InspectorExpanded = !s.state.InspectorExpanded
		s.logEvent(eventlog.Kind(ToggleInspector), InspectorToggledPayload{Expanded: s.state.InspectorExpanded}, action.NowMs)
		return nil
	default:
		return fmt.Errorf("store: unknown action kind %q", action.Kind)
	}
}

func (s *Store) addAgent(action Action) error {
	if action.Agent == nil {
		return fmt.Errorf("store: ADD_AGENT requires an agent")
	}
	a := *action.Agent
	if a.ID == "" {
		a.ID = fmt.Sprintf("agent-%d", nextNumericSuffix(agentIDs(s.state), "agent-"))
	}
	if _, exists := s.state.Agents[a.ID]; exists {
		return fmt.Errorf("store: agent id %q already exists", a.ID)
	}
	if a.Status == "" {
		a.Status = domain.AgentIdle
	}
	s.state.Agents[a.ID] = a
	pos := domain.Position{}
	if action.Position != nil {
		pos = *action.Position
	}
	s.positions[a.ID] = pos
	s.logEvent(eventlog.Kind(AddAgent), AgentAddedPayload{Agent: a, Position: pos}, action.NowMs)
	return nil
}

func (s *Store) removeAgent(action Action) error {
	id := action.AgentID
	if _, ok := s.state.Agents[id]; !ok {
		return fmt.Errorf("store: agent %q not found", id)
	}
	delete(s.state.Agents, id)
	delete(s.positions, id)
	delete(s.persist, id)
	for connID, c := range s.state.Connections {
		if c.SourceID == id || c.TargetID == id {
			delete(s.state.Connections, connID)
		}
	}
	if s.state.SelectedAgentID == id {
		s.state.SelectedAgentID = ""
	}
	s.logEvent(eventlog.Kind(RemoveAgent), AgentRemovedPayload{AgentID: id}, action.NowMs)
	return nil
}

func (s *Store) addConnection(action Action) error {
	if action.Connection == nil {
		return fmt.Errorf("store: ADD_CONNECTION requires a connection")
	}
	c := *action.Connection
	if c.SourceID == c.TargetID {
		return fmt.Errorf("store: connection source and target must differ")
	}
	if c.AmountMic <= 0 {
		return fmt.Errorf("store: connection amount must be a positive integer")
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("conn-%d", nextNumericSuffix(connIDs(s.state), "conn-"))
	}
	if _, exists := s.state.Connections[c.ID]; exists {
		return fmt.Errorf("store: connection id %q already exists", c.ID)
	}
	if c.State == "" {
		c.State = domain.StateInitiated
	}
	s.state.Connections[c.ID] = c
	s.logEvent(eventlog.Kind(AddConnection), ConnectionAddedPayload{Connection: c}, action.NowMs)
	return nil
}

func (s *Store) removeConnection(action Action) error {
	id := action.ConnectionID
	if _, ok := s.state.Connections[id]; !ok {
		return fmt.Errorf("store: connection %q not found", id)
	}
	delete(s.state.Connections, id)
	s.logEvent(eventlog.Kind(RemoveConnection), ConnectionRemovedPayload{ConnectionID: id}, action.NowMs)
	return nil
}

func (s *Store) updateAgentCode(action Action) error {
	a, ok := s.state.Agents[action.AgentID]
	if !ok {
		return fmt.Errorf("store: agent %q not found", action.AgentID)
	}
	a.Code = action.Code
	if a.Status == domain.AgentError {
		a.Status = domain.AgentIdle // user is fixing the code
	}
	s.state.Agents[action.AgentID] = a
	s.logEvent(eventlog.Kind(UpdateAgentCode), AgentCodeUpdatedPayload{AgentID: action.AgentID, Code: action.Code}, action.NowMs)
	return nil
}

func (s *Store) updateAgentBalance(action Action) error {
	a, ok := s.state.Agents[action.AgentID]
	if !ok {
		return fmt.Errorf("store: agent %q not found", action.AgentID)
	}
	a.BalanceMic = action.Balance
	s.state.Agents[action.AgentID] = a
	s.logEvent(eventlog.Kind(UpdateAgentBalance), AgentBalanceUpdatedPayload{AgentID: action.AgentID, Balance: action.Balance}, action.NowMs)
	return nil
}

func (s *Store) updateAgentStatus(action Action) error {
	a, ok := s.state.Agents[action.AgentID]
	if !ok {
		return fmt.Errorf("store: agent %q not found", action.AgentID)
	}
	a.Status = action.Status
	s.state.Agents[action.AgentID] = a
	s.logEvent(eventlog.Kind(UpdateAgentStatus), AgentStatusUpdatedPayload{AgentID: action.AgentID, Status: action.Status}, action.NowMs)
	return nil
}

func (s *Store) updateAgentPosition(action Action) error {
	if _, ok := s.state.Agents[action.AgentID]; !ok {
		return fmt.Errorf("store: agent %q not found", action.AgentID)
	}
	pos := domain.Position{}
	if action.Position != nil {
		pos = *action.Position
	}
	s.positions[action.AgentID] = pos
	s.logEvent(eventlog.Kind(UpdateAgentPosition), AgentPositionUpdatedPayload{AgentID: action.AgentID, Position: pos}, action.NowMs)
	return nil
}

func (s *Store) updateConnState(action Action) error {
	c, ok := s.state.Connections[action.ConnectionID]
	if !ok {
		return fmt.Errorf("store: connection %q not found", action.ConnectionID)
	}
	c.State = action.ConnState
	c.UpdatedAtMs = action.NowMs
	s.state.Connections[action.ConnectionID] = c
	s.logEvent(eventlog.Kind(UpdateConnState), ConnectionStateUpdatedPayload{ConnectionID: action.ConnectionID, State: action.ConnState}, action.NowMs)
	return nil
}

func (s *Store) updateConnAmount(action Action) error {
	c, ok := s.state.Connections[action.ConnectionID]
	if !ok {
		return fmt.Errorf("store: connection %q not found", action.ConnectionID)
	}
	if action.Amount <= 0 {
		return fmt.Errorf("store: connection amount must be a positive integer")
	}
	c.AmountMic = action.Amount
	s.state.Connections[action.ConnectionID] = c
	s.logEvent(eventlog.Kind(UpdateConnAmount), ConnectionAmountUpdatedPayload{ConnectionID: action.ConnectionID, Amount: action.Amount}, action.NowMs)
	return nil
}

func (s *Store) updateConnHash(action Action) error {
	c, ok := s.state.Connections[action.ConnectionID]
	if !ok {
		return fmt.Errorf("store: connection %q not found", action.ConnectionID)
	}
	if c.DeliverableHash != "" {
		return fmt.Errorf("store: connection %q already has a deliverable hash", action.ConnectionID)
	}
	c.DeliverableHash = action.Hash
	s.state.Connections[action.ConnectionID] = c
	s.logEvent(eventlog.Kind(UpdateConnHash), ConnectionHashUpdatedPayload{ConnectionID: action.ConnectionID, Hash: action.Hash}, action.NowMs)
	return nil
}

func (s *Store) resetRuntime(action Action) error {
	s.log.Reset(eventlog.InitialState{
		VirtualTimeMs:  0,
		IDCounter:      1,
		RngSeed:        s.state.RngSeed,
		TickIntervalMs: s.state.TickIntervalMs,
	})
	s.state.Tick = 0
	s.state.VirtualTimeMs = 0
	s.state.IDCounter = 1
	s.state.Events = nil
	s.runtimeEventSeq = 0
	for id, a := range s.state.Agents {
		a.Status = domain.AgentIdle
		s.state.Agents[id] = a
	}
	// RESET_RUNTIME clears the log itself, so there is nothing left to
	// append the RESET_RUNTIME event to; callers that want it recorded must
	// call StartRecording again afterward.
	return nil
}

func (s *Store) resetState(action Action) error {
	seed := s.state.RngSeed
	s.state = domain.NewCanvasState(seed)
	s.positions = make(map[string]domain.Position)
	s.persist = make(map[string]map[string]interface{})
	s.runtimeEventSeq = 0
	s.log.Reset(eventlog.InitialState{
		VirtualTimeMs:  0,
		IDCounter:      1,
		RngSeed:        seed,
		TickIntervalMs: s.state.TickIntervalMs,
	})
	return nil
}

func (s *Store) loadState(action Action) error {
	if action.LoadedState == nil {
		return fmt.Errorf("store: LOAD_STATE requires a state")
	}
	next := cloneState(*action.LoadedState)
	next.PositionVersion = s.state.PositionVersion + 1
	s.state = next
	if action.LoadedPos != nil {
		s.positions = clonePositions(action.LoadedPos)
	} else {
		s.positions = make(map[string]domain.Position)
	}
	s.logEvent(eventlog.Kind(LoadState), StateLoadedPayload{State: next, Positions: clonePositions(s.positions)}, action.NowMs)
	return nil
}

func (s *Store) appendEvent(action Action) error {
	if action.Event == nil {
		return fmt.Errorf("store: APPEND_EVENT requires an event")
	}
	ev := *action.Event
	s.state.Events = append(s.state.Events, ev)
	if len(s.state.Events) > MaxEvents {
		s.state.Events = s.state.Events[len(s.state.Events)-MaxEvents:]
	}
	s.logEvent(eventlog.Kind(AppendEvent), EventAppendedPayload{Event: ev}, action.NowMs)
	return nil
}

func (s *Store) logEvent(kind eventlog.Kind, payload interface{}, nowMs int64) {
	s.log.Append(kind, payload, nowMs, s.state.Tick)
}

// --- helpers -----------------------------------------------------------

func agentIDs(state domain.CanvasState) []string {
	ids := make([]string, 0, len(state.Agents))
	for id := range state.Agents {
		ids = append(ids, id)
	}
	return ids
}

func connIDs(state domain.CanvasState) []string {
	ids := make([]string, 0, len(state.Connections))
	for id := range state.Connections {
		ids = append(ids, id)
	}
	return ids
}

// nextNumericSuffix scans ids of the form prefix+N and returns 1 + max(N),
// or 1 if no id matches, keeping freshly minted ids strictly above every
// previously seen suffix.
func nextNumericSuffix(ids []string, prefix string) int64 {
	var max int64
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimPrefix(id, prefix), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1
}

func cloneState(state domain.CanvasState) domain.CanvasState {
	out := state
	out.Agents = make(map[string]domain.Agent, len(state.Agents))
	for k, v := range state.Agents {
		out.Agents[k] = v
	}
	out.Connections = make(map[string]domain.Connection, len(state.Connections))
	for k, v := range state.Connections {
		out.Connections[k] = v
	}
	out.Events = append([]domain.RuntimeEvent(nil), state.Events...)
	return out
}

func clonePositions(positions map[string]domain.Position) map[string]domain.Position {
	out := make(map[string]domain.Position, len(positions))
	for k, v := range positions {
		out[k] = v
	}
	return out
}

func cloneJSONObject(obj map[string]interface{}) map[string]interface{} {
	if obj == nil {
		return nil
	}
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
