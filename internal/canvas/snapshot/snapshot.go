// Package snapshot implements the two canonical export shapes — a
// code-free "topology" share and a full export that includes agent source —
// plus the import path that rehydrates either one back into a
// domain.CanvasState.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agirails/canvas-core/internal/canvas/domain"
)

// Version tags distinguish the two export shapes on the wire.
const (
	VersionTopology = 1
	VersionFull     = 2
)

// AgentExport is one agent as written to either export shape. Code is only
// populated by ExportFull.
type AgentExport struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Type         domain.AgentType   `json:"type"`
	Icon         string             `json:"icon,omitempty"`
	TemplateID   string             `json:"templateId,omitempty"`
	BalanceMicro int64              `json:"balanceMicro"`
	Status       domain.AgentStatus `json:"status"`
	Code         string             `json:"code,omitempty"`
}

// ConnectionExport is one connection, deliberately omitting per-connection
// timestamps to keep payloads small and replay-safe.
type ConnectionExport struct {
	ID              string           `json:"id"`
	SourceID        string           `json:"sourceId"`
	TargetID        string           `json:"targetId"`
	AmountMicro     int64            `json:"amountMicro"`
	Service         string           `json:"service"`
	State           domain.ConnState `json:"state"`
	DeliverableHash string           `json:"deliverableHash,omitempty"`
}

// PositionExport is one agent's geometric position.
type PositionExport struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Export is the wire shape shared by both the topology share and the full
// export; Version distinguishes which one a given payload is, and whether
// Agents[i].Code is populated.
type Export struct {
	Version       int                `json:"version"`
	ExportedAt    string             `json:"exportedAt,omitempty"`
	Agents        []AgentExport      `json:"agents"`
	Connections   []ConnectionExport `json:"connections"`
	Positions     []PositionExport   `json:"positions"`
	VirtualTimeMs int64              `json:"virtualTimeMs"`

	// Determinism primitives, carried in-band so an import (or a replay
	// bootstrapping from a SESSION_INIT snapshot) restores them exactly.
	// The id counter in particular cannot be reconstructed from visible
	// ids alone: a purged job or removed entity may have consumed a higher
	// suffix that no surviving id shows.
	IDCounter      int64 `json:"idCounter,omitempty"`
	RngSeed        int64 `json:"rngSeed,omitempty"`
	TickIntervalMs int64 `json:"tickIntervalMs,omitempty"`
}

// ExportTopology builds the code-free external share format: deterministic
// (arrays sorted by id) and safe to hand to a third party.
func ExportTopology(state domain.CanvasState, positions map[string]domain.Position, exportedAt string) Export {
	return build(state, positions, exportedAt, VersionTopology, false)
}

// ExportFull builds the full export, identical to ExportTopology but with
// each agent's source code included.
func ExportFull(state domain.CanvasState, positions map[string]domain.Position, exportedAt string) Export {
	return build(state, positions, exportedAt, VersionFull, true)
}

func build(state domain.CanvasState, positions map[string]domain.Position, exportedAt string, version int, includeCode bool) Export {
	agentIDs := make([]string, 0, len(state.Agents))
	for id := range state.Agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	agents := make([]AgentExport, 0, len(agentIDs))
	for _, id := range agentIDs {
		a := state.Agents[id]
		ae := AgentExport{
			ID: a.ID, Name: a.Name, Type: a.Type, Icon: a.Icon, TemplateID: a.TemplateID,
			BalanceMicro: a.BalanceMic, Status: a.Status,
		}
		if includeCode {
			ae.Code = a.Code
		}
		agents = append(agents, ae)
	}

	connIDs := make([]string, 0, len(state.Connections))
	for id := range state.Connections {
		connIDs = append(connIDs, id)
	}
	sort.Strings(connIDs)

	conns := make([]ConnectionExport, 0, len(connIDs))
	for _, id := range connIDs {
		c := state.Connections[id]
		conns = append(conns, ConnectionExport{
			ID: c.ID, SourceID: c.SourceID, TargetID: c.TargetID, AmountMicro: c.AmountMic,
			Service: c.Service, State: c.State, DeliverableHash: c.DeliverableHash,
		})
	}

	posOut := make([]PositionExport, 0, len(agentIDs))
	for _, id := range agentIDs {
		if p, ok := positions[id]; ok {
			posOut = append(posOut, PositionExport{ID: id, X: p.X, Y: p.Y})
		}
	}

	return Export{
		Version:        version,
		ExportedAt:     exportedAt,
		Agents:         agents,
		Connections:    conns,
		Positions:      posOut,
		VirtualTimeMs:  state.VirtualTimeMs,
		IDCounter:      state.IDCounter,
		RngSeed:        state.RngSeed,
		TickIntervalMs: state.TickIntervalMs,
	}
}

// Marshal serializes an Export with stable key ordering already guaranteed
// by field declaration order — encoding/json preserves struct field order,
// so no extra work is needed to keep object keys stable.
func Marshal(e Export) ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// CodeResolver looks up a built-in template's source by id, used to
// rehydrate agent code on import of a code-free topology share.
type CodeResolver func(templateID string) (string, bool)

// Hydrate turns a decoded Export back into a domain.CanvasState and its
// sibling positions map. Agent code is rehydrated from templates keyed by
// templateId when the export carries no code of its own. The id counter is
// restored from the export's own idCounter field; the union of imported id
// suffixes only acts as a floor, covering hand-edited payloads and exports
// written before the counter was carried in-band.
func Hydrate(e Export, resolve CodeResolver) (domain.CanvasState, map[string]domain.Position, error) {
	state := domain.NewCanvasState(e.RngSeed)
	state.VirtualTimeMs = e.VirtualTimeMs
	if e.TickIntervalMs > 0 {
		state.TickIntervalMs = e.TickIntervalMs
	}

	var maxSuffix int64
	for _, ae := range e.Agents {
		code := ae.Code
		if code == "" && ae.TemplateID != "" && resolve != nil {
			if resolved, ok := resolve(ae.TemplateID); ok {
				code = resolved
			}
		}
		state.Agents[ae.ID] = domain.Agent{
			ID: ae.ID, Name: ae.Name, Type: ae.Type, Icon: ae.Icon, TemplateID: ae.TemplateID,
			BalanceMic: ae.BalanceMicro, Status: ae.Status, Code: code,
		}
		if n, ok := numericSuffix(ae.ID); ok && n > maxSuffix {
			maxSuffix = n
		}
	}

	for _, ce := range e.Connections {
		if ce.SourceID == ce.TargetID {
			return domain.CanvasState{}, nil, fmt.Errorf("snapshot: connection %q has equal source and target", ce.ID)
		}
		state.Connections[ce.ID] = domain.Connection{
			ID: ce.ID, SourceID: ce.SourceID, TargetID: ce.TargetID, AmountMic: ce.AmountMicro,
			Service: ce.Service, State: ce.State, DeliverableHash: ce.DeliverableHash,
		}
		if n, ok := numericSuffix(ce.ID); ok && n > maxSuffix {
			maxSuffix = n
		}
	}

	state.IDCounter = maxSuffix + 1
	if e.IDCounter > state.IDCounter {
		state.IDCounter = e.IDCounter
	}

	positions := make(map[string]domain.Position, len(e.Positions))
	for _, p := range e.Positions {
		positions[p.ID] = domain.Position{X: p.X, Y: p.Y}
	}

	return state, positions, nil
}

// numericSuffix extracts the trailing `-N` integer off an id of any prefix
// (agent-3, conn-7, tx-12, job-4), used to resync the shared id counter on
// import regardless of which prefix minted the highest number.
func numericSuffix(id string) (int64, bool) {
	i := len(id) - 1
	for i >= 0 && id[i] >= '0' && id[i] <= '9' {
		i--
	}
	if i == len(id)-1 || i < 0 || id[i] != '-' {
		return 0, false
	}
	var n int64
	for _, c := range id[i+1:] {
		n = n*10 + int64(c-'0')
	}
	return n, true
}
