package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/eventlog"
)

func addAgent(t *testing.T, st *Store, id string, balance int64) {
	t.Helper()
	require.NoError(t, st.Dispatch(Action{
		Kind:  AddAgent,
		Agent: &domain.Agent{ID: id, Name: id, Type: domain.AgentRequester, BalanceMic: balance},
	}))
}

func addConnection(t *testing.T, st *Store, id, src, dst string) {
	t.Helper()
	require.NoError(t, st.Dispatch(Action{
		Kind: AddConnection,
		Connection: &domain.Connection{
			ID: id, SourceID: src, TargetID: dst, AmountMic: 1_000_000, Service: "x",
		},
	}))
}

func TestAddAgentAllocatesMonotonicID(t *testing.T) {
	st := New(1, nil)
	addAgent(t, st, "agent-7", 0)

	require.NoError(t, st.Dispatch(Action{Kind: AddAgent, Agent: &domain.Agent{Name: "fresh"}}))

	_, ok := st.GetAgent("agent-8")
	assert.True(t, ok, "next generated id must exceed the highest imported suffix")
}

func TestAddConnectionRejectsSelfLoopAndBadAmount(t *testing.T) {
	st := New(1, nil)
	addAgent(t, st, "agent-1", 0)
	addAgent(t, st, "agent-2", 0)

	err := st.Dispatch(Action{Kind: AddConnection, Connection: &domain.Connection{
		ID: "tx-1", SourceID: "agent-1", TargetID: "agent-1", AmountMic: 1,
	}})
	assert.Error(t, err)

	err = st.Dispatch(Action{Kind: AddConnection, Connection: &domain.Connection{
		ID: "tx-1", SourceID: "agent-1", TargetID: "agent-2", AmountMic: 0,
	}})
	assert.Error(t, err)
}

func TestRemoveAgentCascades(t *testing.T) {
	st := New(1, nil)
	addAgent(t, st, "agent-1", 0)
	addAgent(t, st, "agent-2", 0)
	addConnection(t, st, "tx-1", "agent-1", "agent-2")
	st.ReplaceAgentState("agent-1", map[string]interface{}{"k": "v"})
	require.NoError(t, st.Dispatch(Action{Kind: SelectAgent, SelectedID: "agent-1"}))

	require.NoError(t, st.Dispatch(Action{Kind: RemoveAgent, AgentID: "agent-1"}))

	state := st.State()
	assert.NotContains(t, state.Agents, "agent-1")
	assert.Empty(t, state.Connections, "incident connections must be removed")
	assert.Empty(t, state.SelectedAgentID, "selection of the removed agent must clear")
	assert.Nil(t, st.GetAgentState("agent-1"), "persistent state must clear")
}

func TestUpdateAgentCodeResetsErrorStatus(t *testing.T) {
	st := New(1, nil)
	addAgent(t, st, "agent-1", 0)
	require.NoError(t, st.Dispatch(Action{Kind: UpdateAgentStatus, AgentID: "agent-1", Status: domain.AgentError}))

	require.NoError(t, st.Dispatch(Action{Kind: UpdateAgentCode, AgentID: "agent-1", Code: "ctx.log('fixed');"}))

	a, _ := st.GetAgent("agent-1")
	assert.Equal(t, domain.AgentIdle, a.Status)
	assert.Equal(t, "ctx.log('fixed');", a.Code)
}

func TestUpdateConnHashIsSetAtMostOnce(t *testing.T) {
	st := New(1, nil)
	addAgent(t, st, "agent-1", 0)
	addAgent(t, st, "agent-2", 0)
	addConnection(t, st, "tx-1", "agent-1", "agent-2")

	require.NoError(t, st.Dispatch(Action{Kind: UpdateConnHash, ConnectionID: "tx-1", Hash: "abc"}))
	err := st.Dispatch(Action{Kind: UpdateConnHash, ConnectionID: "tx-1", Hash: "def"})
	assert.Error(t, err)

	c, _ := st.GetConnection("tx-1")
	assert.Equal(t, "abc", c.DeliverableHash)
}

func TestResetRuntimeZeroesClockAndStatuses(t *testing.T) {
	st := New(1, nil)
	addAgent(t, st, "agent-1", 0)
	require.NoError(t, st.Dispatch(Action{Kind: UpdateAgentStatus, AgentID: "agent-1", Status: domain.AgentError}))
	require.NoError(t, st.Dispatch(Action{Kind: TickRuntime}))
	require.NoError(t, st.Dispatch(Action{Kind: TickRuntime}))

	require.NoError(t, st.Dispatch(Action{Kind: ResetRuntime}))

	state := st.State()
	assert.Equal(t, int64(0), state.Tick)
	assert.Equal(t, int64(0), state.VirtualTimeMs)
	assert.Equal(t, int64(1), state.IDCounter)
	assert.Empty(t, state.Events)
	assert.Equal(t, domain.AgentIdle, state.Agents["agent-1"].Status)
	assert.Empty(t, st.Log().Events, "RESET_RUNTIME clears the event log")
}

func TestTickRuntimeAdvancesClockByInterval(t *testing.T) {
	st := New(1, nil)
	require.NoError(t, st.Dispatch(Action{Kind: SetTickInterval, TickMs: 500}))

	require.NoError(t, st.Dispatch(Action{Kind: TickRuntime}))
	require.NoError(t, st.Dispatch(Action{Kind: TickRuntime}))

	state := st.State()
	assert.Equal(t, int64(2), state.Tick)
	assert.Equal(t, int64(1000), state.VirtualTimeMs)
}

func TestEventOverflowDropsFromFront(t *testing.T) {
	st := New(1, nil)
	for i := 0; i < MaxEvents+5; i++ {
		ev := domain.RuntimeEvent{ID: fmt.Sprintf("revt-%d", i), Type: domain.EventInfo}
		require.NoError(t, st.Dispatch(Action{Kind: AppendEvent, Event: &ev}))
	}

	state := st.State()
	require.Len(t, state.Events, MaxEvents)
	assert.Equal(t, "revt-5", state.Events[0].ID)
}

func TestLoadStateBumpsPositionVersion(t *testing.T) {
	st := New(1, nil)
	before := st.State().PositionVersion

	loaded := domain.NewCanvasState(1)
	loaded.Agents["agent-1"] = domain.Agent{ID: "agent-1", Type: domain.AgentProvider, Status: domain.AgentIdle}
	require.NoError(t, st.Dispatch(Action{
		Kind:        LoadState,
		LoadedState: &loaded,
		LoadedPos:   map[string]domain.Position{"agent-1": {X: 4, Y: 2}},
	}))

	state := st.State()
	assert.Equal(t, before+1, state.PositionVersion)
	p, ok := st.GetAgentPosition("agent-1")
	require.True(t, ok)
	assert.Equal(t, domain.Position{X: 4, Y: 2}, p)
}

func TestStartRecordingWritesSessionInitFirst(t *testing.T) {
	st := New(7, nil)
	addAgent(t, st, "agent-1", 500)

	ev := st.StartRecording(func(state domain.CanvasState, positions map[string]domain.Position) interface{} {
		return map[string]interface{}{"agents": len(state.Agents)}
	})

	assert.Equal(t, eventlog.SessionInit, ev.Type)
	log := st.Log()
	require.NotEmpty(t, log.Events)
	assert.Equal(t, eventlog.SessionInit, log.Events[0].Type)
	assert.Equal(t, "event-1", log.Events[0].ID)

	// Mutations after recording started are appended after SESSION_INIT.
	addAgent(t, st, "agent-2", 0)
	require.Len(t, log.Events, 2)
	assert.Equal(t, string(AddAgent), log.Events[1].Type)
}

func TestDispatchUnknownKindFails(t *testing.T) {
	st := New(1, nil)
	assert.Error(t, st.Dispatch(Action{Kind: Kind("NOT_A_THING")}))
}

func TestGetAgentConnectionsSortedByID(t *testing.T) {
	st := New(1, nil)
	addAgent(t, st, "agent-1", 0)
	addAgent(t, st, "agent-2", 0)
	addAgent(t, st, "agent-3", 0)
	addConnection(t, st, "tx-2", "agent-1", "agent-3")
	addConnection(t, st, "tx-1", "agent-1", "agent-2")

	conns := st.GetAgentConnections("agent-1")
	require.Len(t, conns, 2)
	assert.Equal(t, "tx-1", conns[0].ID)
	assert.Equal(t, "tx-2", conns[1].ID)
}
