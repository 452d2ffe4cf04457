// Package domain holds the canvas data model: agents, connections, runtime
// events and the aggregate CanvasState — plain structs with JSON tags and a
// handful of status enums.
package domain

// AgentType enumerates the roles an agent can play in a transaction.
type AgentType string

const (
	AgentRequester AgentType = "requester"
	AgentProvider  AgentType = "provider"
	AgentValidator AgentType = "validator"
)

// AgentStatus is the per-tick execution status of an agent.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentError     AgentStatus = "error"
)

// Agent is a node on the canvas. Balance is integer micro-USDC (10^6 = $1).
type Agent struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       AgentType   `json:"type"`
	Icon       string      `json:"icon,omitempty"`
	TemplateID string      `json:"templateId,omitempty"`
	BalanceMic int64       `json:"balanceMicro"`
	Status     AgentStatus `json:"status"`
	Code       string      `json:"code,omitempty"`
}

// Clone returns a deep copy (Agent has no nested mutable fields beyond Code,
// a string, so a value copy already suffices — Clone exists for call-site
// clarity and to keep the API stable if fields grow nested data later).
func (a Agent) Clone() Agent { return a }

// ConnState is the ACTP lifecycle state.
type ConnState string

const (
	StateInitiated  ConnState = "INITIATED"
	StateQuoted     ConnState = "QUOTED"
	StateCommitted  ConnState = "COMMITTED"
	StateInProgress ConnState = "IN_PROGRESS"
	StateDelivered  ConnState = "DELIVERED"
	StateSettled    ConnState = "SETTLED"
	StateDisputed   ConnState = "DISPUTED"
	StateCancelled  ConnState = "CANCELLED"
)

// IsTerminal reports whether state admits no further transitions.
func (s ConnState) IsTerminal() bool {
	return s == StateSettled || s == StateCancelled
}

// Connection is a directed transaction edge between two agents.
type Connection struct {
	// Immutable once created.
	ID          string `json:"id"`
	SourceID    string `json:"sourceId"`
	TargetID    string `json:"targetId"`
	AmountMic   int64  `json:"amountMicro"`
	Service     string `json:"service"`
	CreatedAtMs int64  `json:"createdAt"`

	// Mutable.
	State           ConnState `json:"state"`
	UpdatedAtMs     int64     `json:"updatedAt"`
	DeliverableHash string    `json:"deliverableHash,omitempty"`
}

// Clone returns a value copy; Connection has no nested mutable fields.
func (c Connection) Clone() Connection { return c }

// EventType classifies a RuntimeEvent for UI styling.
type EventType string

const (
	EventInfo    EventType = "info"
	EventSuccess EventType = "success"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
)

// RuntimeEvent is one line of the capped runtime log (distinct from the
// durable eventlog.Event — this is the human-facing console, not the
// replay substrate).
type RuntimeEvent struct {
	ID           string                 `json:"id"`
	Type         EventType              `json:"type"`
	TimestampMs  int64                  `json:"timestamp"`
	AgentID      string                 `json:"agentId,omitempty"`
	ConnectionID string                 `json:"connectionId,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// RuntimeMode sets how a running runtime advances: auto ticks on every
// tick interval, step advances one tick per explicit request.
type RuntimeMode string

const (
	ModeAuto RuntimeMode = "auto"
	ModeStep RuntimeMode = "step"
)

// Position is the geometric layout of one agent, kept in a sibling map
// outside the reducer's hot path.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CanvasState is the simulation aggregate. Positions are intentionally not
// embedded in the hot reducer path; PositionVersion bumps whenever
// LOAD_STATE replaces externally-kept geometry so view layers know to
// re-read it.
type CanvasState struct {
	Agents      map[string]Agent      `json:"agents"`
	Connections map[string]Connection `json:"connections"`
	Events      []RuntimeEvent        `json:"events"`

	IsRunning      bool        `json:"isRunning"`
	VirtualTimeMs  int64       `json:"virtualTimeMs"`
	IDCounter      int64       `json:"idCounter"`
	RngSeed        int64       `json:"rngSeed"`
	TickIntervalMs int64       `json:"tickIntervalMs"`
	RuntimeMode    RuntimeMode `json:"runtimeMode"`
	ExecutionMode  bool        `json:"executionMode"`

	InspectorExpanded bool   `json:"inspectorExpanded"`
	SelectedAgentID   string `json:"selectedAgentId,omitempty"`
	Tick              int64  `json:"tick"`

	PositionVersion int64 `json:"positionVersion"`
}

// NewCanvasState returns an empty, zeroed state with the default tick
// interval (1x = 2000ms) and executionMode on.
func NewCanvasState(seed int64) CanvasState {
	return CanvasState{
		Agents:         make(map[string]Agent),
		Connections:    make(map[string]Connection),
		Events:         nil,
		IDCounter:      1,
		RngSeed:        seed,
		TickIntervalMs: 2000,
		RuntimeMode:    ModeAuto,
		ExecutionMode:  true,
	}
}

// JobStatus is the lifecycle of one queued service job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ServiceJob is one unit of asynchronous work in the services job queue.
type ServiceJob struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Params        map[string]interface{} `json:"params"`
	Status        JobStatus              `json:"status"`
	Result        interface{}            `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	OwnerAgentID  string                 `json:"ownerAgentId"`
	CreatedAtMs   int64                  `json:"createdAt"`
	CompletedAtMs int64                  `json:"completedAt,omitempty"`
}

// AgentJobView is the shape written back into ctx.state.jobs[id] — only the
// fields an agent script is allowed to observe, never the full queue entry.
type AgentJobView struct {
	Status JobStatus   `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}
