package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agirails/canvas-core/internal/canvas/domain"
)

func sampleState() (domain.CanvasState, map[string]domain.Position) {
	state := domain.NewCanvasState(42)
	state.VirtualTimeMs = 12000
	state.IDCounter = 9
	state.Agents["agent-3"] = domain.Agent{
		ID: "agent-3", Name: "Requester", Type: domain.AgentRequester,
		TemplateID: "tmpl-requester", BalanceMic: 1_000_000, Status: domain.AgentIdle, Code: "ctx.log('hi');",
	}
	state.Agents["agent-5"] = domain.Agent{
		ID: "agent-5", Name: "Provider", Type: domain.AgentProvider,
		BalanceMic: 0, Status: domain.AgentIdle,
	}
	state.Connections["tx-7"] = domain.Connection{
		ID: "tx-7", SourceID: "agent-3", TargetID: "agent-5", AmountMic: 500_000,
		Service: "translate", State: domain.StateCommitted,
	}
	positions := map[string]domain.Position{
		"agent-3": {X: 10, Y: 20},
		"agent-5": {X: 30, Y: 40},
	}
	return state, positions
}

func TestExportTopologyOmitsCode(t *testing.T) {
	state, positions := sampleState()
	e := ExportTopology(state, positions, "2026-07-30T00:00:00Z")

	assert.Equal(t, VersionTopology, e.Version)
	require.Len(t, e.Agents, 2)
	for _, a := range e.Agents {
		assert.Empty(t, a.Code)
	}
	require.Len(t, e.Connections, 1)
	assert.Equal(t, "tx-7", e.Connections[0].ID)
	require.Len(t, e.Positions, 2)
}

func TestExportFullIncludesCode(t *testing.T) {
	state, positions := sampleState()
	e := ExportFull(state, positions, "2026-07-30T00:00:00Z")

	var requester AgentExport
	for _, a := range e.Agents {
		if a.ID == "agent-3" {
			requester = a
		}
	}
	assert.Equal(t, "ctx.log('hi');", requester.Code)
}

func TestHydrateRoundTripsTopologyExportUsingTemplateResolver(t *testing.T) {
	state, positions := sampleState()
	e := ExportTopology(state, positions, "")

	resolver := func(templateID string) (string, bool) {
		if templateID == "tmpl-requester" {
			return "ctx.log('resolved');", true
		}
		return "", false
	}

	got, gotPositions, err := Hydrate(e, resolver)
	require.NoError(t, err)

	assert.Equal(t, "ctx.log('resolved');", got.Agents["agent-3"].Code)
	assert.Empty(t, got.Agents["agent-5"].Code)
	assert.Equal(t, state.VirtualTimeMs, got.VirtualTimeMs)
	assert.Equal(t, domain.Position{X: 10, Y: 20}, gotPositions["agent-3"])

	// determinism primitives ride in the export itself
	assert.Equal(t, state.IDCounter, got.IDCounter)
	assert.Equal(t, state.RngSeed, got.RngSeed)
	assert.Equal(t, state.TickIntervalMs, got.TickIntervalMs)
}

func TestHydrateFallsBackToSuffixScanWithoutCarriedCounter(t *testing.T) {
	state, positions := sampleState()
	e := ExportTopology(state, positions, "")
	e.IDCounter = 0 // export written before the counter was carried in-band

	got, _, err := Hydrate(e, nil)
	require.NoError(t, err)
	// union of imported ids: agent-5, tx-7 -> max suffix 7
	assert.Equal(t, int64(8), got.IDCounter)
}

func TestHydratePrefersCarriedCounterOverVisibleIDs(t *testing.T) {
	state, positions := sampleState()
	// a purged job once consumed a suffix no surviving id shows
	state.IDCounter = 31
	e := ExportFull(state, positions, "")

	got, _, err := Hydrate(e, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(31), got.IDCounter)
}

func TestHydrateFullExportPreservesCodeWithoutResolver(t *testing.T) {
	state, positions := sampleState()
	e := ExportFull(state, positions, "")

	got, _, err := Hydrate(e, nil)
	require.NoError(t, err)
	assert.Equal(t, "ctx.log('hi');", got.Agents["agent-3"].Code)
}

func TestHydrateRejectsSelfLoopConnection(t *testing.T) {
	e := Export{
		Agents: []AgentExport{{ID: "agent-1"}},
		Connections: []ConnectionExport{
			{ID: "tx-1", SourceID: "agent-1", TargetID: "agent-1"},
		},
	}
	_, _, err := Hydrate(e, nil)
	assert.Error(t, err)
}

func TestNumericSuffixExtractsTrailingInteger(t *testing.T) {
	n, ok := numericSuffix("agent-12")
	require.True(t, ok)
	assert.Equal(t, int64(12), n)

	_, ok = numericSuffix("no-suffix-here-")
	assert.False(t, ok)

	_, ok = numericSuffix("nodash123")
	assert.False(t, ok)
}
