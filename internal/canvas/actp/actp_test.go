package actp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/store"
)

func seedTwoAgents(t *testing.T, st *store.Store, aBal, bBal int64) (agentA, agentB string) {
	t.Helper()
	require.NoError(t, st.Dispatch(store.Action{
		Kind:  store.AddAgent,
		Agent: &domain.Agent{ID: "agent-a", Type: domain.AgentRequester, BalanceMic: aBal},
	}))
	require.NoError(t, st.Dispatch(store.Action{
		Kind:  store.AddAgent,
		Agent: &domain.Agent{ID: "agent-b", Type: domain.AgentProvider, BalanceMic: bBal},
	}))
	return "agent-a", "agent-b"
}

func addConn(t *testing.T, st *store.Store, id, src, dst string, amount int64) {
	t.Helper()
	require.NoError(t, st.Dispatch(store.Action{
		Kind: store.AddConnection,
		Connection: &domain.Connection{
			ID: id, SourceID: src, TargetID: dst, AmountMic: amount, Service: "x",
		},
	}))
}

func TestHappyPathEscrow(t *testing.T) {
	st := store.New(1, nil)
	a, b := seedTwoAgents(t, st, 100_000_000, 0)
	addConn(t, st, "tx-1", a, b, 10_000_000)
	acct := New(st, nil)
	snap := NewSnapshot(st.State())

	require.NoError(t, acct.Transition(snap, "tx-1", domain.StateCommitted, 0))
	require.NoError(t, acct.Transition(snap, "tx-1", domain.StateInProgress, 0))
	require.NoError(t, acct.Transition(snap, "tx-1", domain.StateDelivered, 0))
	require.NoError(t, acct.Transition(snap, "tx-1", domain.StateSettled, 0))

	ag, _ := st.GetAgent(a)
	bg, _ := st.GetAgent(b)
	assert.Equal(t, int64(90_000_000), ag.BalanceMic)
	assert.Equal(t, int64(9_900_000), bg.BalanceMic)

	conn, _ := st.GetConnection("tx-1")
	assert.Equal(t, domain.StateSettled, conn.State)
}

func TestInsufficientFundsAtCommitCancels(t *testing.T) {
	st := store.New(1, nil)
	a, b := seedTwoAgents(t, st, 40_000, 0)
	addConn(t, st, "tx-1", a, b, 1_000_000)
	acct := New(st, nil)
	snap := NewSnapshot(st.State())

	err := acct.Transition(snap, "tx-1", domain.StateCommitted, 0)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	conn, _ := st.GetConnection("tx-1")
	assert.Equal(t, domain.StateCancelled, conn.State)
	ag, _ := st.GetAgent(a)
	assert.Equal(t, int64(40_000), ag.BalanceMic)

	state := st.State()
	require.NotEmpty(t, state.Events)
	assert.Equal(t, domain.EventError, state.Events[len(state.Events)-1].Type)
}

func TestCancelAfterCommitRefunds(t *testing.T) {
	st := store.New(1, nil)
	a, b := seedTwoAgents(t, st, 10_000_000, 0)
	addConn(t, st, "tx-1", a, b, 10_000_000)
	acct := New(st, nil)
	snap := NewSnapshot(st.State())

	require.NoError(t, acct.Transition(snap, "tx-1", domain.StateCommitted, 0))
	require.NoError(t, acct.Transition(snap, "tx-1", domain.StateCancelled, 0))

	ag, _ := st.GetAgent(a)
	bg, _ := st.GetAgent(b)
	assert.Equal(t, int64(10_000_000), ag.BalanceMic)
	assert.Equal(t, int64(0), bg.BalanceMic)
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	st := store.New(1, nil)
	a, b := seedTwoAgents(t, st, 10_000_000, 0)
	addConn(t, st, "tx-1", a, b, 10_000_000)
	acct := New(st, nil)
	snap := NewSnapshot(st.State())

	require.NoError(t, acct.Transition(snap, "tx-1", domain.StateCommitted, 0))
	require.NoError(t, acct.Transition(snap, "tx-1", domain.StateCancelled, 0))

	err := acct.Transition(snap, "tx-1", domain.StateCommitted, 0)
	require.Error(t, err)
	conn, _ := st.GetConnection("tx-1")
	assert.Equal(t, domain.StateCancelled, conn.State)
}

func TestFeeFloor(t *testing.T) {
	assert.Equal(t, int64(50_000), Fee(1_000_000))
	assert.Equal(t, int64(100_000), Fee(10_000_000))
}

func TestAutoNext(t *testing.T) {
	next, ok := AutoNext(domain.StateInitiated)
	require.True(t, ok)
	assert.Equal(t, domain.StateCommitted, next)

	_, ok = AutoNext(domain.StateSettled)
	assert.False(t, ok)
}
