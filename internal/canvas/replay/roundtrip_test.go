package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agirails/canvas-core/internal/canvas/actp"
	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/orchestrator"
	"github.com/agirails/canvas-core/internal/canvas/services"
	"github.com/agirails/canvas-core/internal/canvas/snapshot"
	"github.com/agirails/canvas-core/internal/canvas/store"
	"github.com/agirails/canvas-core/internal/canvas/workerclient"
	"github.com/agirails/canvas-core/internal/logging"
	"github.com/agirails/canvas-core/internal/runtimeconfig"
)

// records a live requester->provider session end to end, then replays the
// log and checks the reconstructed state matches the live one field for
// field: balances, connection states, deliverable hash, tick, clock.
func TestReplayReproducesLiveSession(t *testing.T) {
	st := store.New(7, logging.Nop)

	reqCode := `
for (const tx of ctx.transactions) {
  if (tx.state === "INITIATED") {
    ctx.transitionState(tx.id, "COMMITTED");
  } else if (tx.state === "DELIVERED") {
    ctx.transitionState(tx.id, "SETTLED");
  }
}
`
	provCode := `
for (const tx of ctx.incomingTransactions) {
  if (tx.state === "COMMITTED") {
    ctx.state.deliverables = ctx.state.deliverables || {};
    ctx.state.deliverables[tx.id] = "work-for-" + tx.id;
    ctx.transitionState(tx.id, "DELIVERED");
  }
}
`
	require.NoError(t, st.Dispatch(store.Action{
		Kind:  store.AddAgent,
		Agent: &domain.Agent{ID: "agent-a", Name: "Client", Type: domain.AgentRequester, BalanceMic: 100_000_000, Code: reqCode},
	}))
	require.NoError(t, st.Dispatch(store.Action{
		Kind:  store.AddAgent,
		Agent: &domain.Agent{ID: "agent-b", Name: "Translator", Type: domain.AgentProvider, BalanceMic: 0, Code: provCode},
	}))
	require.NoError(t, st.Dispatch(store.Action{
		Kind: store.AddConnection,
		Connection: &domain.Connection{
			ID: "tx-1", SourceID: "agent-a", TargetID: "agent-b",
			AmountMic: 10_000_000, Service: "translate", State: domain.StateInitiated,
		},
	}))

	// Non-default interval, set before recording starts: replay must pick
	// it up from the SESSION_INIT snapshot, not from any built-in default.
	require.NoError(t, st.Dispatch(store.Action{Kind: store.SetTickInterval, TickMs: 500}))

	st.StartRecording(func(state domain.CanvasState, positions map[string]domain.Position) interface{} {
		return snapshot.ExportFull(state, positions, "")
	})

	acc := actp.New(st, logging.Nop)
	worker, err := workerclient.New(workerclient.Limits{
		MaxExecutionTimeMs: 1000,
		KillSwitchMargin:   200 * time.Millisecond,
		MaxStackBytes:      1 << 20,
		MaxConsoleLines:    200,
		MaxLogLineChars:    2000,
		MaxOps:             200,
		MaxStateBytes:      200 * 1024,
		ProgramCacheSize:   8,
	}, logging.Nop, nil)
	require.NoError(t, err)
	queue := services.NewQueue(100, logging.Nop)
	orch := orchestrator.New(st, acc, worker, queue, nil, runtimeconfig.Default().Limits, logging.Nop, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, orch.RunExecutionTick(context.Background()))
	}

	live := st.State()
	require.Equal(t, int64(2000), live.VirtualTimeMs, "4 ticks at 500ms")
	require.Equal(t, domain.StateSettled, live.Connections["tx-1"].State)
	require.Equal(t, int64(90_000_000), live.Agents["agent-a"].BalanceMic)
	require.Equal(t, int64(9_900_000), live.Agents["agent-b"].BalanceMic)
	require.NotEmpty(t, live.Connections["tx-1"].DeliverableHash)

	eng, err := New(st.Log(), nil, logging.Nop)
	require.NoError(t, err)
	for eng.State() != StateComplete {
		require.NoError(t, eng.Step())
	}

	replayed := eng.CanvasState()
	assert.Equal(t, live.Tick, replayed.Tick)
	assert.Equal(t, live.VirtualTimeMs, replayed.VirtualTimeMs)
	assert.Equal(t, live.Agents["agent-a"].BalanceMic, replayed.Agents["agent-a"].BalanceMic)
	assert.Equal(t, live.Agents["agent-b"].BalanceMic, replayed.Agents["agent-b"].BalanceMic)
	assert.Equal(t, live.Connections["tx-1"].State, replayed.Connections["tx-1"].State)
	assert.Equal(t, live.Connections["tx-1"].DeliverableHash, replayed.Connections["tx-1"].DeliverableHash)
	assert.Equal(t, len(live.Events), len(replayed.Events))
	for i := range live.Events {
		assert.Equal(t, live.Events[i].ID, replayed.Events[i].ID)
		assert.Equal(t, live.Events[i].Type, replayed.Events[i].Type)
	}
}
