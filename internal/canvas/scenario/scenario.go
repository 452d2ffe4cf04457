// Package scenario adds a YAML scenario format so a headless CLI (or a
// test) can seed a domain.CanvasState the way a browser user would by
// dragging agents onto the canvas and wiring connections between them.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agirails/canvas-core/internal/canvas/domain"
)

// AgentSpec is one agent entry in a scenario file. Code may be given
// directly, or left empty with Template set to pull stock source from the
// built-in registry (domain.LookupTemplate) — mirroring the topology
// import's templateId rehydration.
type AgentSpec struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Icon     string  `yaml:"icon,omitempty"`
	Template string  `yaml:"template,omitempty"`
	BalanceM int64   `yaml:"balanceMicro"`
	Code     string  `yaml:"code,omitempty"`
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
}

// ConnectionSpec is one connection entry in a scenario file.
type ConnectionSpec struct {
	ID      string `yaml:"id,omitempty"`
	Source  string `yaml:"source"`
	Target  string `yaml:"target"`
	AmountM int64  `yaml:"amountMicro"`
	Service string `yaml:"service"`
	State   string `yaml:"state,omitempty"`
}

// Scenario is the top-level YAML document shape.
type Scenario struct {
	Name           string           `yaml:"name"`
	Description    string           `yaml:"description,omitempty"`
	Seed           int64            `yaml:"seed"`
	TickIntervalMs int64            `yaml:"tickIntervalMs,omitempty"`
	RuntimeMode    string           `yaml:"runtimeMode,omitempty"`
	ExecutionMode  *bool            `yaml:"executionMode,omitempty"`
	Agents         []AgentSpec      `yaml:"agents"`
	Connections    []ConnectionSpec `yaml:"connections"`
}

// Load reads and parses a scenario file from path.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	return s, nil
}

// Save writes a scenario to path as YAML.
func Save(path string, s Scenario) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("scenario: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("scenario: write %s: %w", path, err)
	}
	return nil
}

// Build turns a Scenario into a seeded CanvasState and its sibling positions
// map, ready to be fed to a store through LOAD_STATE. Unknown agent types or
// connection endpoints referencing an undeclared agent are rejected.
func Build(s Scenario) (domain.CanvasState, map[string]domain.Position, error) {
	state := domain.NewCanvasState(s.Seed)
	if s.TickIntervalMs > 0 {
		state.TickIntervalMs = s.TickIntervalMs
	}
	if s.RuntimeMode == string(domain.ModeStep) {
		state.RuntimeMode = domain.ModeStep
	}
	if s.ExecutionMode != nil {
		state.ExecutionMode = *s.ExecutionMode
	}

	positions := make(map[string]domain.Position, len(s.Agents))
	var maxSuffix int64

	for _, as := range s.Agents {
		if as.ID == "" {
			return domain.CanvasState{}, nil, fmt.Errorf("scenario: agent missing id")
		}
		atype := domain.AgentType(as.Type)
		switch atype {
		case domain.AgentRequester, domain.AgentProvider, domain.AgentValidator:
		default:
			return domain.CanvasState{}, nil, fmt.Errorf("scenario: agent %q has unknown type %q", as.ID, as.Type)
		}

		code := as.Code
		if code == "" && as.Template != "" {
			tmpl, ok := domain.LookupTemplate(as.Template)
			if !ok {
				return domain.CanvasState{}, nil, fmt.Errorf("scenario: agent %q references unknown template %q", as.ID, as.Template)
			}
			code = tmpl.Code
		}

		state.Agents[as.ID] = domain.Agent{
			ID:         as.ID,
			Name:       as.Name,
			Type:       atype,
			Icon:       as.Icon,
			TemplateID: as.Template,
			BalanceMic: as.BalanceM,
			Status:     domain.AgentIdle,
			Code:       code,
		}
		positions[as.ID] = domain.Position{X: as.X, Y: as.Y}

		if n, ok := numericSuffix(as.ID); ok && n > maxSuffix {
			maxSuffix = n
		}
	}

	for _, cs := range s.Connections {
		if _, ok := state.Agents[cs.Source]; !ok {
			return domain.CanvasState{}, nil, fmt.Errorf("scenario: connection references unknown source agent %q", cs.Source)
		}
		if _, ok := state.Agents[cs.Target]; !ok {
			return domain.CanvasState{}, nil, fmt.Errorf("scenario: connection references unknown target agent %q", cs.Target)
		}
		if cs.Source == cs.Target {
			return domain.CanvasState{}, nil, fmt.Errorf("scenario: connection %q has equal source and target", cs.ID)
		}

		id := cs.ID
		if id == "" {
			id = fmt.Sprintf("tx-%d", maxSuffix+1)
		}
		cstate := domain.ConnState(cs.State)
		if cstate == "" {
			cstate = domain.StateInitiated
		}

		state.Connections[id] = domain.Connection{
			ID:        id,
			SourceID:  cs.Source,
			TargetID:  cs.Target,
			AmountMic: cs.AmountM,
			Service:   cs.Service,
			State:     cstate,
		}
		if n, ok := numericSuffix(id); ok && n > maxSuffix {
			maxSuffix = n
		}
	}

	state.IDCounter = maxSuffix + 1
	return state, positions, nil
}

// numericSuffix extracts the trailing `-N` integer off an id, matching
// snapshot.numericSuffix's contract so scenario-seeded and import-seeded
// CanvasStates resync their id counter identically.
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
