package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/eventlog"
	"github.com/agirails/canvas-core/internal/canvas/snapshot"
	"github.com/agirails/canvas-core/internal/canvas/store"
	"github.com/agirails/canvas-core/internal/logging"
)

func sampleLog(t *testing.T) *eventlog.Log {
	t.Helper()

	init := snapshot.Export{
		Version: snapshot.VersionFull,
		Agents: []snapshot.AgentExport{
			{ID: "agent-a", Name: "Requester", Type: domain.AgentRequester, BalanceMicro: 100_000_000, Code: "ctx.log('a');"},
			{ID: "agent-b", Name: "Provider", Type: domain.AgentProvider, BalanceMicro: 0},
		},
		VirtualTimeMs: 0,
	}

	return &eventlog.Log{
		Version: 1,
		Seed:    7,
		InitialState: eventlog.InitialState{
			VirtualTimeMs: 0, IDCounter: 1, RngSeed: 7, TickIntervalMs: 2000,
		},
		Events: []eventlog.Event{
			{ID: "event-1", Type: eventlog.SessionInit, TimestampMs: 0, Tick: 0, Payload: init},
			{
				ID: "event-2", Type: string(store.AddConnection), TimestampMs: 0, Tick: 0,
				Payload: store.ConnectionAddedPayload{
					Connection: domain.Connection{
						ID: "tx-1", SourceID: "agent-a", TargetID: "agent-b", AmountMic: 1_000_000,
						Service: "translate", State: domain.StateInitiated,
					},
				},
			},
			{
				ID: "event-3", Type: string(store.TickRuntime), TimestampMs: 2000, Tick: 1,
				Payload: store.RuntimeTickedPayload{Tick: 1, VirtualTimeMs: 2000},
			},
			{
				ID: "event-4", Type: string(store.UpdateConnState), TimestampMs: 2000, Tick: 1,
				Payload: store.ConnectionStateUpdatedPayload{ConnectionID: "tx-1", State: domain.StateCommitted},
			},
		},
		Metadata: eventlog.Metadata{TotalTicks: 1, TotalEvents: 4},
	}
}

func TestNewBootstrapsFromSessionInit(t *testing.T) {
	log := sampleLog(t)
	eng, err := New(log, nil, logging.Nop)
	require.NoError(t, err)

	state := eng.CanvasState()
	require.Contains(t, state.Agents, "agent-a")
	assert.Equal(t, "ctx.log('a');", state.Agents["agent-a"].Code)
	assert.Equal(t, StateIdle, eng.State())
	assert.Equal(t, 1, eng.CurrentEventIndex())
}

func TestStepAppliesEventsInOrder(t *testing.T) {
	log := sampleLog(t)
	eng, err := New(log, nil, logging.Nop)
	require.NoError(t, err)

	require.NoError(t, eng.Step()) // ADD_CONNECTION
	state := eng.CanvasState()
	require.Contains(t, state.Connections, "tx-1")
	assert.Equal(t, domain.StateInitiated, state.Connections["tx-1"].State)

	require.NoError(t, eng.Step()) // TICK_RUNTIME
	require.NoError(t, eng.Step()) // UPDATE_CONNECTION_STATE
	state = eng.CanvasState()
	assert.Equal(t, domain.StateCommitted, state.Connections["tx-1"].State)
	assert.Equal(t, StateComplete, eng.State())
}

func TestJumpToEventReplaysUpToIndex(t *testing.T) {
	log := sampleLog(t)
	eng, err := New(log, nil, logging.Nop)
	require.NoError(t, err)

	require.NoError(t, eng.JumpToEvent(1))
	state := eng.CanvasState()
	require.Contains(t, state.Connections, "tx-1")
	assert.Equal(t, domain.StateInitiated, state.Connections["tx-1"].State)
	assert.Equal(t, 2, eng.CurrentEventIndex())
}

func TestJumpToTickStopsBeforeLaterTick(t *testing.T) {
	log := sampleLog(t)
	eng, err := New(log, nil, logging.Nop)
	require.NoError(t, err)

	require.NoError(t, eng.JumpToTick(0))
	state := eng.CanvasState()
	assert.Equal(t, domain.StateInitiated, state.Connections["tx-1"].State)

	require.NoError(t, eng.JumpToTick(1))
	state = eng.CanvasState()
	assert.Equal(t, domain.StateCommitted, state.Connections["tx-1"].State)
}

func TestResetReturnsToSessionInit(t *testing.T) {
	log := sampleLog(t)
	eng, err := New(log, nil, logging.Nop)
	require.NoError(t, err)

	require.NoError(t, eng.Step())
	require.NoError(t, eng.Reset())

	state := eng.CanvasState()
	assert.NotContains(t, state.Connections, "tx-1")
	assert.Equal(t, StateIdle, eng.State())
	assert.Equal(t, 1, eng.CurrentEventIndex())
}

func TestNewRejectsLogNotStartingWithSessionInit(t *testing.T) {
	log := sampleLog(t)
	log.Events = log.Events[1:]
	_, err := New(log, nil, logging.Nop)
	assert.Error(t, err)
}

func TestPlayAdvancesToCompletion(t *testing.T) {
	log := sampleLog(t)
	eng, err := New(log, nil, logging.Nop)
	require.NoError(t, err)

	eng.Play(50) // fast playback for a short test
	require.Eventually(t, func() bool {
		return eng.State() == StateComplete
	}, 2*time.Second, 5*time.Millisecond)

	state := eng.CanvasState()
	assert.Equal(t, domain.StateCommitted, state.Connections["tx-1"].State)
}
