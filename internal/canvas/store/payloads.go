package store

import "github.com/agirails/canvas-core/internal/canvas/domain"

// Payload types below are what eventlog.Event.Payload holds for each Kind.
// One plain JSON-tagged struct per event kind, rather than a flat struct of
// optional fields: the action kinds share almost nothing, so a flat struct
// would be mostly empty fields per event.

type AgentAddedPayload struct {
	Agent    domain.Agent    `json:"agent"`
	Position domain.Position `json:"position"`
}

type AgentRemovedPayload struct {
	AgentID string `json:"agentId"`
}

type ConnectionAddedPayload struct {
	Connection domain.Connection `json:"connection"`
}

type ConnectionRemovedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type AgentCodeUpdatedPayload struct {
	AgentID string `json:"agentId"`
	Code    string `json:"code"`
}

type AgentBalanceUpdatedPayload struct {
	AgentID string `json:"agentId"`
	Balance int64  `json:"balanceMicro"`
}

type AgentStatusUpdatedPayload struct {
	AgentID string             `json:"agentId"`
	Status  domain.AgentStatus `json:"status"`
}

type AgentPositionUpdatedPayload struct {
	AgentID  string          `json:"agentId"`
	Position domain.Position `json:"position"`
}

type ConnectionStateUpdatedPayload struct {
	ConnectionID string           `json:"connectionId"`
	State        domain.ConnState `json:"state"`
}

type ConnectionAmountUpdatedPayload struct {
	ConnectionID string `json:"connectionId"`
	Amount       int64  `json:"amountMicro"`
}

type ConnectionHashUpdatedPayload struct {
	ConnectionID string `json:"connectionId"`
	Hash         string `json:"deliverableHash"`
}

type RuntimeStartedPayload struct{}
type RuntimeStoppedPayload struct{}

type RuntimeTickedPayload struct {
	Tick          int64 `json:"tick"`
	VirtualTimeMs int64 `json:"virtualTimeMs"`
}

type RuntimeResetPayload struct{}
type StateResetPayload struct{}

type StateLoadedPayload struct {
	State     domain.CanvasState         `json:"state"`
	Positions map[string]domain.Position `json:"positions"`
}

type IDCounterSetPayload struct {
	IDCounter int64 `json:"idCounter"`
}

type TickIntervalSetPayload struct {
	TickIntervalMs int64 `json:"tickIntervalMs"`
}

type RuntimeModeSetPayload struct {
	Mode domain.RuntimeMode `json:"runtimeMode"`
}

type ExecutionModeSetPayload struct {
	Execution bool `json:"executionMode"`
}

type EventAppendedPayload struct {
	Event domain.RuntimeEvent `json:"event"`
}

type SelectionChangedPayload struct {
	AgentID string `json:"agentId,omitempty"`
}

type InspectorToggledPayload struct {
	Expanded bool `json:"expanded"`
}
