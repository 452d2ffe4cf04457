package sandbox

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/agirails/canvas-core/internal/canvas/domain"
)

// execCtx is the live, per-call state behind the ctx object exposed to
// agent code. Every ctx.* call only ever appends to ops/logs or mints an
// id — it never reaches into host state.
type execCtx struct {
	rt  *goja.Runtime
	req *Request

	idCounter   int64
	ops         []Op
	logs        []Log
	logLimitHit bool
}

var actpStates = map[string]bool{
	"INITIATED": true, "QUOTED": true, "COMMITTED": true, "IN_PROGRESS": true,
	"DELIVERED": true, "SETTLED": true, "DISPUTED": true, "CANCELLED": true,
}

func validationError(field, reason string) error {
	return fmt.Errorf("ValidationError for %s: %s", field, reason)
}

// throwf raises a validation-style error visible to the script as a thrown
// JS exception; Execute recovers it at the top level and classifies the
// run as a `validation` failure.
func (c *execCtx) throwf(field, reason string) {
	panic(c.rt.NewGoError(validationError(field, reason)))
}

func (c *execCtx) requireNonEmptyString(m map[string]interface{}, field string) string {
	v, _ := m[field].(string)
	return c.requireNonEmptyArg(v, field)
}

func (c *execCtx) requireNonEmptyArg(v interface{}, field string) string {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		c.throwf(field, "must be a non-empty string")
	}
	return s
}

func (c *execCtx) requireAmountMicro(m map[string]interface{}, field string) int64 {
	raw, ok := m[field]
	if !ok {
		c.throwf(field, "must be an integer (micro-USDC)")
	}
	f, ok := toFloat(raw)
	if !ok || f != float64(int64(f)) {
		c.throwf(field, "must be an integer (micro-USDC)")
	}
	n := int64(f)
	if n <= 0 {
		c.throwf(field, "must be a positive integer (micro-USDC)")
	}
	return n
}

func (c *execCtx) optionalPositiveInt(m map[string]interface{}, field string) *int64 {
	raw, ok := m[field]
	if !ok || raw == nil {
		return nil
	}
	f, ok := toFloat(raw)
	if !ok || f != float64(int64(f)) || int64(f) <= 0 {
		c.throwf(field, "must be a positive integer")
	}
	n := int64(f)
	return &n
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func (c *execCtx) requireACTPState(raw string, field string) domain.ConnState {
	if !actpStates[raw] {
		c.throwf(field, fmt.Sprintf("invalid ACTP state %q", raw))
	}
	return domain.ConnState(raw)
}

func (c *execCtx) requireTxID(v interface{}, field string) string {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		c.throwf(field, "must be a non-empty string")
	}
	return s
}

func (c *execCtx) nextID(prefix string) string {
	id := fmt.Sprintf("%s-%d", prefix, c.idCounter)
	c.idCounter++
	return id
}

// appendLog enforces the console caps: at most MaxConsoleLines entries,
// each at most MaxLogLineChars; overflow emits one "limit reached" warning
// and silently drops everything after.
func (c *execCtx) appendLog(level LogLevel, msg string) {
	if c.logLimitHit {
		return
	}
	maxLines := c.req.MaxConsoleLines
	if maxLines <= 0 {
		maxLines = 200
	}
	if len(c.logs) >= maxLines {
		c.logLimitHit = true
		c.logs = append(c.logs, Log{Level: LogWarn, Message: "console log limit reached; further logs dropped", TimestampMs: c.req.VirtualTimeMs})
		return
	}
	lineCap := c.req.MaxLogLineChars
	if lineCap <= 0 {
		lineCap = 2000
	}
	if len(msg) > lineCap {
		msg = msg[:lineCap] + "...[truncated]"
	}
	c.logs = append(c.logs, Log{Level: level, Message: msg, TimestampMs: c.req.VirtualTimeMs})
}

var errTooManyOps = fmt.Errorf("too many ops queued in a single run")

func (c *execCtx) pushOp(op Op) {
	capN := c.req.MaxOps
	if capN <= 0 {
		capN = 200
	}
	if len(c.ops) >= capN {
		panic(c.rt.NewGoError(errTooManyOps))
	}
	c.ops = append(c.ops, op)
}

func txViewToMap(v TxView) map[string]interface{} {
	m := map[string]interface{}{
		"id":          v.ID,
		"sourceId":    v.SourceID,
		"targetId":    v.TargetID,
		"amountMicro": v.AmountMicro,
		"service":     v.Service,
		"state":       v.State,
		"createdAt":   v.CreatedAtMs,
		"updatedAt":   v.UpdatedAtMs,
	}
	if v.DeliverableHash != "" {
		m["deliverableHash"] = v.DeliverableHash
	}
	return m
}

// buildCtx constructs the ctx global object and binds it into rt.
func buildCtx(rt *goja.Runtime, req *Request) (*execCtx, error) {
	c := &execCtx{rt: rt, req: req, idCounter: req.IDCounter}

	obj := rt.NewObject()
	_ = obj.Set("agentId", req.Agent.ID)
	_ = obj.Set("agentName", req.Agent.Name)
	_ = obj.Set("agentType", string(req.Agent.Type))
	_ = obj.Set("balance", req.Agent.BalanceMic)

	incoming := make([]map[string]interface{}, 0, len(req.IncomingTransactions))
	for _, t := range req.IncomingTransactions {
		incoming = append(incoming, txViewToMap(t))
	}
	txs := make([]map[string]interface{}, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		txs = append(txs, txViewToMap(t))
	}
	_ = obj.Set("incomingTransactions", incoming)
	_ = obj.Set("transactions", txs)

	state := req.PersistentState
	if state == nil {
		state = map[string]interface{}{}
	}
	_ = obj.Set("state", rt.ToValue(state))

	_ = obj.Set("log", func(call goja.FunctionCall) goja.Value {
		c.appendLog(LogInfo, argString(call, 0))
		return goja.Undefined()
	})
	_ = obj.Set("warn", func(call goja.FunctionCall) goja.Value {
		c.appendLog(LogWarn, argString(call, 0))
		return goja.Undefined()
	})
	_ = obj.Set("error", func(call goja.FunctionCall) goja.Value {
		c.appendLog(LogError, argString(call, 0))
		return goja.Undefined()
	})

	_ = obj.Set("createTransaction", func(call goja.FunctionCall) goja.Value {
		params := argObject(call, 0)
		provider := c.requireNonEmptyString(params, "provider")
		amount := c.requireAmountMicro(params, "amountMicro")
		service := c.requireNonEmptyString(params, "service")
		deadline := c.optionalPositiveInt(params, "deadlineMs")

		id := c.nextID("tx")
		c.pushOp(Op{
			Kind: OpCreateTx,
			CreateTx: &CreateTxFields{
				ID: id, Provider: provider, AmountMicro: amount, Service: service, DeadlineMs: deadline,
			},
		})
		return rt.ToValue(id)
	})

	_ = obj.Set("transitionState", func(call goja.FunctionCall) goja.Value {
		txID := c.requireTxID(call.Argument(0).Export(), "txId")
		newState := c.requireACTPState(call.Argument(1).String(), "newState")
		c.pushOp(Op{Kind: OpTransitionState, TxID: txID, State: string(newState)})
		return goja.Undefined()
	})

	_ = obj.Set("releaseEscrow", func(call goja.FunctionCall) goja.Value {
		txID := c.requireTxID(call.Argument(0).Export(), "txId")
		c.pushOp(Op{Kind: OpReleaseEscrow, TxID: txID})
		return goja.Undefined()
	})

	_ = obj.Set("initiateDispute", func(call goja.FunctionCall) goja.Value {
		txID := c.requireTxID(call.Argument(0).Export(), "txId")
		reason := c.requireNonEmptyArg(call.Argument(1).Export(), "reason")
		c.pushOp(Op{Kind: OpDispute, TxID: txID, Reason: reason})
		return goja.Undefined()
	})

	_ = obj.Set("cancelTransaction", func(call goja.FunctionCall) goja.Value {
		txID := c.requireTxID(call.Argument(0).Export(), "txId")
		c.pushOp(Op{Kind: OpCancel, TxID: txID})
		return goja.Undefined()
	})

	services := rt.NewObject()
	_ = services.Set("translate", func(call goja.FunctionCall) goja.Value {
		params := argObject(call, 0)
		c.requireNonEmptyString(params, "text")
		c.requireNonEmptyString(params, "to")
		id := c.nextID("job")
		c.pushOp(Op{Kind: OpSubmitJob, SubmitJob: &SubmitJobFields{ID: id, Kind: "translate", Params: params}})
		return rt.ToValue(id)
	})
	_ = obj.Set("services", services)

	if err := rt.Set("ctx", obj); err != nil {
		return nil, err
	}
	return c, nil
}

func argString(call goja.FunctionCall, i int) string {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func argObject(call goja.FunctionCall, i int) map[string]interface{} {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return map[string]interface{}{}
	}
	if m, ok := v.Export().(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}
