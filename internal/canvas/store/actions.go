// Package store implements the state store and reducer: a pure reducer
// over a closed, tagged-union action set.
package store

import "github.com/agirails/canvas-core/internal/canvas/domain"

// Kind enumerates the closed action set.
type Kind string

const (
	AddAgent            Kind = "ADD_AGENT"
	RemoveAgent         Kind = "REMOVE_AGENT"
	AddConnection       Kind = "ADD_CONNECTION"
	RemoveConnection    Kind = "REMOVE_CONNECTION"
	UpdateAgentCode     Kind = "UPDATE_AGENT_CODE"
	UpdateAgentBalance  Kind = "UPDATE_AGENT_BALANCE"
	UpdateAgentStatus   Kind = "UPDATE_AGENT_STATUS"
	UpdateAgentPosition Kind = "UPDATE_AGENT_POSITION"
	UpdateConnState     Kind = "UPDATE_CONNECTION_STATE"
	UpdateConnAmount    Kind = "UPDATE_CONNECTION_AMOUNT"
	UpdateConnHash      Kind = "UPDATE_CONNECTION_HASH"
	StartRuntime        Kind = "START_RUNTIME"
	StopRuntime         Kind = "STOP_RUNTIME"
	TickRuntime         Kind = "TICK_RUNTIME"
	StepOnce            Kind = "STEP_ONCE"
	ResetRuntime        Kind = "RESET_RUNTIME"
	ResetState          Kind = "RESET_STATE"
	LoadState           Kind = "LOAD_STATE"
	SetIDCounter        Kind = "SET_ID_COUNTER"
	SetTickInterval     Kind = "SET_TICK_INTERVAL"
	SetRuntimeMode      Kind = "SET_RUNTIME_MODE"
	SetExecutionMode    Kind = "SET_EXECUTION_MODE"
	AppendEvent         Kind = "APPEND_EVENT"
	SelectAgent         Kind = "SELECT_AGENT"
	ToggleInspector     Kind = "TOGGLE_INSPECTOR"
)

// Action is the single tagged-union action type dispatched to the reducer.
// Only the fields relevant to Kind are populated.
type Action struct {
	Kind Kind

	Agent        *domain.Agent
	Position     *domain.Position
	AgentID      string
	Connection   *domain.Connection
	ConnectionID string
	Code         string
	Balance      int64
	Status       domain.AgentStatus
	ConnState    domain.ConnState
	Amount       int64
	Hash         string
	IDCounter    int64
	TickMs       int64
	RuntimeMode  domain.RuntimeMode
	Execution    bool
	Event        *domain.RuntimeEvent
	LoadedState  *domain.CanvasState
	LoadedPos    map[string]domain.Position
	SelectedID   string
	ClearSelect  bool

	NowMs int64 // virtual/wall clock supplied by the caller, never read from system time
}
