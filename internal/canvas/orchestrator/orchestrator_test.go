package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agirails/canvas-core/internal/canvas/actp"
	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/services"
	"github.com/agirails/canvas-core/internal/canvas/store"
	"github.com/agirails/canvas-core/internal/canvas/workerclient"
	"github.com/agirails/canvas-core/internal/logging"
	"github.com/agirails/canvas-core/internal/runtimeconfig"
)

func newOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	st := store.New(1, logging.Nop)
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
	handlers := map[string]services.Handler{
		"translate": services.TranslateHandler(services.MockBackend{}),
	}
	limits := runtimeconfig.Default().Limits
	o := New(st, acc, worker, queue, handlers, runtimeconfig.Limits{
		MaxJobsPerTick: limits.MaxJobsPerTick,
		MaxOutputChars: limits.MaxOutputChars,
	}, logging.Nop, nil)
	return o, st
}

func seedTwoAgents(t *testing.T, st *store.Store, reqCode, provCode string) {
	t.Helper()
	require.NoError(t, st.Dispatch(store.Action{
		Kind:  store.AddAgent,
		Agent: &domain.Agent{ID: "agent-a", Name: "Requester", Type: domain.AgentRequester, BalanceMic: 100_000_000, Code: reqCode},
	}))
	require.NoError(t, st.Dispatch(store.Action{
		Kind:  store.AddAgent,
		Agent: &domain.Agent{ID: "agent-b", Name: "Provider", Type: domain.AgentProvider, BalanceMic: 0, Code: provCode},
	}))
}

func TestHappyPathTickAdvancesOneStepAndTicksClock(t *testing.T) {
	o, st := newOrchestrator(t)
	seedTwoAgents(t, st, "", "")
	require.NoError(t, st.Dispatch(store.Action{
		Kind: store.AddConnection,
		Connection: &domain.Connection{
			SourceID: "agent-a", TargetID: "agent-b", AmountMic: 1_000_000, Service: "translate",
		},
	}))

	require.NoError(t, o.RunHappyPathTick(context.Background()))

	state := st.State()
	assert.Equal(t, int64(1), state.Tick)
	var conn domain.Connection
	for _, c := range state.Connections {
		conn = c
	}
	assert.Equal(t, domain.StateCommitted, conn.State)
	assert.Equal(t, int64(99_000_000), state.Agents["agent-a"].BalanceMic)
}

func TestHappyPathTickRunsToSettlement(t *testing.T) {
	o, st := newOrchestrator(t)
	seedTwoAgents(t, st, "", "")
	require.NoError(t, st.Dispatch(store.Action{
		Kind: store.AddConnection,
		Connection: &domain.Connection{
			SourceID: "agent-a", TargetID: "agent-b", AmountMic: 1_000_000, Service: "translate",
		},
	}))

	for i := 0; i < 6; i++ {
		require.NoError(t, o.RunHappyPathTick(context.Background()))
	}

	state := st.State()
	var conn domain.Connection
	for _, c := range state.Connections {
		conn = c
	}
	assert.Equal(t, domain.StateSettled, conn.State)
	assert.Equal(t, int64(99_000_000), state.Agents["agent-a"].BalanceMic)
	assert.Equal(t, int64(950_000), state.Agents["agent-b"].BalanceMic)
}

func TestExecutionTickCreatesTransactionFromScript(t *testing.T) {
	o, st := newOrchestrator(t)
	code := `ctx.createTransaction({provider: "agent-b", amountMicro: 2000000, service: "translate"});`
	seedTwoAgents(t, st, code, "")

	require.NoError(t, o.RunExecutionTick(context.Background()))

	state := st.State()
	require.Len(t, state.Connections, 1)
	var conn domain.Connection
	for _, c := range state.Connections {
		conn = c
	}
	assert.Equal(t, "agent-a", conn.SourceID)
	assert.Equal(t, "agent-b", conn.TargetID)
	assert.Equal(t, int64(2_000_000), conn.AmountMic)
	assert.Equal(t, domain.AgentCompleted, state.Agents["agent-a"].Status)
	assert.Equal(t, int64(2), state.IDCounter)
}

func TestExecutionTickAppliesDeliveredHashFromPersistentState(t *testing.T) {
	o, st := newOrchestrator(t)
	provCode := `
if (ctx.incomingTransactions.length > 0) {
  var tx = ctx.incomingTransactions[0];
  if (tx.state === "COMMITTED") {
    ctx.state.deliverable = "hello world";
    ctx.transitionState(tx.id, "DELIVERED");
  }
}
`
	seedTwoAgents(t, st, "", provCode)
	require.NoError(t, st.Dispatch(store.Action{
		Kind: store.AddConnection,
		Connection: &domain.Connection{
			ID: "tx-1", SourceID: "agent-a", TargetID: "agent-b", AmountMic: 1_000_000, Service: "translate", State: domain.StateCommitted,
		},
	}))

	require.NoError(t, o.RunExecutionTick(context.Background()))

	state := st.State()
	conn := state.Connections["tx-1"]
	assert.Equal(t, domain.StateDelivered, conn.State)
	assert.NotEmpty(t, conn.DeliverableHash)
}

func TestExecutionTickMarksAgentErrorOnValidationFailure(t *testing.T) {
	o, st := newOrchestrator(t)
	code := `ctx.createTransaction({provider: "agent-b", amountMicro: "nope", service: "x"});`
	seedTwoAgents(t, st, code, "")

	require.NoError(t, o.RunExecutionTick(context.Background()))

	state := st.State()
	assert.Equal(t, domain.AgentError, state.Agents["agent-a"].Status)
	var sawError bool
	for _, ev := range state.Events {
		if ev.Type == domain.EventError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestExecutionTickSubmitsJobAndDrainsResultIntoAgentState(t *testing.T) {
	o, st := newOrchestrator(t)
	code := `ctx.services.translate({text: "hi", to: "fr"});`
	seedTwoAgents(t, st, code, "")

	require.NoError(t, o.RunExecutionTick(context.Background()))

	persisted := st.GetAgentState("agent-a")
	require.NotNil(t, persisted)
	jobs, ok := persisted["jobs"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, jobs, 1)
}

func TestAbortHookStopsBeforeApplyingResult(t *testing.T) {
	o, st := newOrchestrator(t)
	code := `ctx.createTransaction({provider: "agent-b", amountMicro: 1000, service: "x"});`
	seedTwoAgents(t, st, code, "")

	aborted := false
	o.SetAbortHook(func() bool {
		if !aborted {
			aborted = true
			return false
		}
		return true
	})

	err := o.RunExecutionTick(context.Background())
	assert.ErrorIs(t, err, ErrAborted)

	state := st.State()
	assert.Empty(t, state.Connections)
}
