package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLintSuggestsCtxMember(t *testing.T) {
	warnings := lintCode(`ctx.createTransacton({provider: "p", amountMicro: 1, service: "x"});`)
	require.Len(t, warnings, 1)
	assert.Equal(t, "'ctx.createTransacton' is not defined. Did you mean 'createTransaction'?", warnings[0])
}

func TestLintSuggestsTxProperty(t *testing.T) {
	warnings := lintCode(`for (const tx of ctx.transactions) { if (tx.stat === "DELIVERED") {} }`)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Unknown transaction property 'tx.stat'. Did you mean 'state'?", warnings[0])
}

func TestLintSilentOnValidCode(t *testing.T) {
	code := `
for (const tx of ctx.incomingTransactions) {
  ctx.log(tx.state + " " + tx.amountMicro);
}
ctx.state.count = (ctx.state.count || 0) + 1;
`
	assert.Empty(t, lintCode(code))
}

func TestLintDeduplicatesRepeatedAccess(t *testing.T) {
	warnings := lintCode(`ctx.blance; ctx.blance; ctx.blance;`)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "'ctx.blance' is not defined")
	assert.Contains(t, warnings[0], "'balance'")
}

func TestLintWarningNeverBlocksExecution(t *testing.T) {
	vm, err := NewVM(8)
	require.NoError(t, err)
	req := baseRequest(`
var x = ctx.balanec; // typo, resolves to undefined at runtime
ctx.log("still ran");
`)
	res := vm.Execute(req)
	require.True(t, res.Success)

	var sawWarn, sawLog bool
	for _, l := range res.Logs {
		if l.Level == LogWarn {
			sawWarn = true
		}
		if l.Message == "still ran" {
			sawLog = true
		}
	}
	assert.True(t, sawWarn)
	assert.True(t, sawLog)
}
