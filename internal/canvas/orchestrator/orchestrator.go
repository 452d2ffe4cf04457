// Package orchestrator implements the per-tick driver: it snapshots
// balances, runs agents in deterministic order, applies their returned ops
// through the escrow accountant, drains the job queue, and advances the
// virtual clock and id counter.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agirails/canvas-core/internal/canvas/actp"
	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/sandbox"
	"github.com/agirails/canvas-core/internal/canvas/services"
	"github.com/agirails/canvas-core/internal/canvas/store"
	"github.com/agirails/canvas-core/internal/canvas/workerclient"
	"github.com/agirails/canvas-core/internal/logging"
	"github.com/agirails/canvas-core/internal/runtimeconfig"
	"github.com/agirails/canvas-core/internal/telemetry"
)

// ErrAborted is returned by RunExecutionTick when the abort hook fires
// mid-tick; any worker result still in flight at that point is discarded
// rather than applied.
var ErrAborted = errors.New("orchestrator: tick aborted")

// dedupState tracks one agent's streak of identical consecutive info
// lines on no-op ticks.
type dedupState struct {
	message string
	count   int
}

// Orchestrator drives one tick at a time over a Store, using worker to
// execute agent scripts (execution mode) and an actp.Accountant to apply
// both scripted ops and happy-path auto-advances.
type Orchestrator struct {
	store      *store.Store
	accountant *actp.Accountant
	worker     *workerclient.Client
	queue      *services.Queue
	handlers   map[string]services.Handler
	limits     runtimeconfig.Limits
	logger     logging.Logger
	metrics    *telemetry.Metrics

	shouldAbort func() bool
	dedup       map[string]*dedupState
}

// New constructs an Orchestrator. handlers maps service job type to its
// Handler (translate is the one kind registered today).
func New(st *store.Store, acc *actp.Accountant, worker *workerclient.Client, queue *services.Queue, handlers map[string]services.Handler, limits runtimeconfig.Limits, logger logging.Logger, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		store:       st,
		accountant:  acc,
		worker:      worker,
		queue:       queue,
		handlers:    handlers,
		limits:      limits,
		logger:      logging.OrNop(logger),
		metrics:     metrics,
		shouldAbort: func() bool { return false },
		dedup:       make(map[string]*dedupState),
	}
}

// SetAbortHook installs the predicate checked before every agent execution
// and before applying its result. fn must be safe to call from
// the orchestrator's goroutine only.
func (o *Orchestrator) SetAbortHook(fn func() bool) {
	if fn == nil {
		fn = func() bool { return false }
	}
	o.shouldAbort = fn
}

// RunHappyPathTick advances every non-terminal connection one step along
// the ACTP happy path, applies escrow accounting against a single per-tick
// snapshot, and ticks the virtual clock.
func (o *Orchestrator) RunHappyPathTick(ctx context.Context) error {
	_, span := telemetry.StartTick(ctx, o.currentTick())
	defer span.End()

	state := o.store.State()
	nowMs := state.VirtualTimeMs
	snap := actp.NewSnapshot(state)

	connIDs := make([]string, 0, len(state.Connections))
	for id := range state.Connections {
		connIDs = append(connIDs, id)
	}
	sort.Strings(connIDs)

	for _, id := range connIDs {
		conn := state.Connections[id]
		if conn.State.IsTerminal() {
			continue
		}
		next, ok := actp.AutoNext(conn.State)
		if !ok {
			continue
		}
		if err := o.accountant.Transition(snap, id, next, nowMs); err != nil {
			o.logger.Warn("orchestrator: happy-path transition %s failed: %v", id, err)
			continue
		}
		if next == domain.StateDelivered {
			o.hashDeliverable(id, o.store.GetAgentState(conn.TargetID), nowMs)
		}
	}

	return o.store.Dispatch(store.Action{Kind: store.TickRuntime, NowMs: nowMs})
}

// RunExecutionTick runs every agent's code in ascending agentId order,
// applies its ops, drains the job queue, and ticks the clock.
func (o *Orchestrator) RunExecutionTick(ctx context.Context) error {
	tickCtx, span := telemetry.StartTick(ctx, o.currentTick())
	defer span.End()

	state := o.store.State()
	nowMs := state.VirtualTimeMs
	snap := actp.NewSnapshot(state)
	idCounter := o.reconcileIDCounter(state)

	for _, agentID := range o.store.AllAgentIDs() {
		if o.shouldAbort() {
			return ErrAborted
		}
		agent, ok := o.store.GetAgent(agentID)
		if !ok {
			continue
		}

		incoming, outgoing := o.txViewsFor(agentID)
		persistent := o.store.GetAgentState(agentID)

		req := sandbox.Request{
			Agent:                agent,
			VirtualTimeMs:        nowMs,
			IDCounter:            idCounter,
			IncomingTransactions: incoming,
			Transactions:         outgoing,
			PersistentState:      persistent,
			Code:                 agent.Code,
		}

		_ = o.store.Dispatch(store.Action{Kind: store.UpdateAgentStatus, AgentID: agentID, Status: domain.AgentRunning, NowMs: nowMs})

		agentCtx, aspan := telemetry.StartAgentExecution(tickCtx, agentID)
		res := o.worker.Execute(agentCtx, req)
		aspan.End()

		if o.shouldAbort() {
			return ErrAborted
		}

		if res.IDCounter > idCounter {
			idCounter = res.IDCounter
		}

		noOpTick := len(res.Ops) == 0
		o.emitLogs(agentID, res.Logs, noOpTick, nowMs)

		if !res.Success {
			o.failAgent(agentID, res.Error, nowMs)
			continue
		}

		delivered, ok := o.applyOps(snap, agentID, res.Ops, nowMs)
		if !ok {
			continue
		}
		for _, txID := range delivered {
			o.hashDeliverable(txID, res.FinalState, nowMs)
		}
		if res.FinalState != nil {
			o.store.ReplaceAgentState(agentID, res.FinalState)
		}
		_ = o.store.Dispatch(store.Action{Kind: store.UpdateAgentStatus, AgentID: agentID, Status: domain.AgentCompleted, NowMs: nowMs})
	}

	o.drainJobs(tickCtx)

	if err := o.store.Dispatch(store.Action{Kind: store.SetIDCounter, IDCounter: idCounter, NowMs: nowMs}); err != nil {
		return err
	}
	return o.store.Dispatch(store.Action{Kind: store.TickRuntime, NowMs: nowMs})
}

func (o *Orchestrator) currentTick() int64 {
	return o.store.State().Tick
}

// reconcileIDCounter returns max(state.idCounter,
// 1 + maxNumericSuffixAcrossExistingIds) so an imported topology whose
// tx-/job- ids already exceed the stored counter does not mint colliding
// ids.
func (o *Orchestrator) reconcileIDCounter(state domain.CanvasState) int64 {
	idCounter := state.IDCounter
	var txIDs []string
	for id := range state.Connections {
		txIDs = append(txIDs, id)
	}
	var jobIDs []string
	for _, j := range o.queue.Pending() {
		jobIDs = append(jobIDs, j.ID)
	}
	if next := maxNumericSuffix(txIDs, "tx-") + 1; next > idCounter {
		idCounter = next
	}
	if next := maxNumericSuffix(jobIDs, "job-") + 1; next > idCounter {
		idCounter = next
	}
	return idCounter
}

func maxNumericSuffix(ids []string, prefix string) int64 {
	var max int64
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimPrefix(id, prefix), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

// txViewsFor splits agentID's incident connections into incoming (agentID
// is the target) and outgoing (agentID is the source), matching ctx's
// `incomingTransactions` / `transactions` split.
func (o *Orchestrator) txViewsFor(agentID string) (incoming, outgoing []sandbox.TxView) {
	for _, c := range o.store.GetAgentConnections(agentID) {
		v := sandbox.TxView{
			ID:              c.ID,
			SourceID:        c.SourceID,
			TargetID:        c.TargetID,
			AmountMicro:     c.AmountMic,
			Service:         c.Service,
			State:           string(c.State),
			CreatedAtMs:     c.CreatedAtMs,
			UpdatedAtMs:     c.UpdatedAtMs,
			DeliverableHash: c.DeliverableHash,
		}
		if c.TargetID == agentID {
			incoming = append(incoming, v)
		}
		if c.SourceID == agentID {
			outgoing = append(outgoing, v)
		}
	}
	return incoming, outgoing
}

// applyOps applies every op in order, stopping at the first failure.
// It returns the tx ids that entered DELIVERED and whether the whole list
// applied cleanly.
func (o *Orchestrator) applyOps(snap actp.Snapshot, agentID string, ops []sandbox.Op, nowMs int64) ([]string, bool) {
	var delivered []string
	for _, op := range ops {
		err := o.applyOp(snap, agentID, op, nowMs, &delivered)
		if err != nil {
			o.logger.Warn("orchestrator: agent %s op %s rejected: %v", agentID, op.Kind, err)
			o.appendRuntimeEvent(agentID, opConnID(op), domain.EventError, err.Error(), nowMs)
			_ = o.store.Dispatch(store.Action{Kind: store.UpdateAgentStatus, AgentID: agentID, Status: domain.AgentError, NowMs: nowMs})
			if o.metrics != nil {
				o.metrics.AgentOpsRejected.Inc()
			}
			return nil, false
		}
		if o.metrics != nil {
			o.metrics.AgentOpsApplied.Inc()
		}
	}
	return delivered, true
}

func opConnID(op sandbox.Op) string {
	if op.Kind == sandbox.OpCreateTx && op.CreateTx != nil {
		return op.CreateTx.ID
	}
	return op.TxID
}

func (o *Orchestrator) applyOp(snap actp.Snapshot, agentID string, op sandbox.Op, nowMs int64, delivered *[]string) error {
	switch op.Kind {
	case sandbox.OpCreateTx:
		fields := op.CreateTx
		if fields == nil {
			return fmt.Errorf("orchestrator: CREATE_TX op missing fields")
		}
		return o.store.Dispatch(store.Action{
			Kind: store.AddConnection,
			Connection: &domain.Connection{
				ID:          fields.ID,
				SourceID:    agentID,
				TargetID:    fields.Provider,
				AmountMic:   fields.AmountMicro,
				Service:     fields.Service,
				CreatedAtMs: nowMs,
				State:       domain.StateInitiated,
			},
			NowMs: nowMs,
		})
	case sandbox.OpTransitionState:
		to := domain.ConnState(op.State)
		if err := o.accountant.Transition(snap, op.TxID, to, nowMs); err != nil {
			return err
		}
		if to == domain.StateDelivered {
			*delivered = append(*delivered, op.TxID)
		}
		return nil
	case sandbox.OpReleaseEscrow:
		return o.accountant.Transition(snap, op.TxID, domain.StateSettled, nowMs)
	case sandbox.OpCancel:
		return o.accountant.Transition(snap, op.TxID, domain.StateCancelled, nowMs)
	case sandbox.OpDispute:
		if err := o.accountant.Transition(snap, op.TxID, domain.StateDisputed, nowMs); err != nil {
			return err
		}
		o.appendRuntimeEvent(agentID, op.TxID, domain.EventWarning, fmt.Sprintf("dispute opened: %s", op.Reason), nowMs)
		return nil
	case sandbox.OpSubmitJob:
		fields := op.SubmitJob
		if fields == nil {
			return fmt.Errorf("orchestrator: SUBMIT_JOB op missing fields")
		}
		return o.queue.SubmitWithID(fields.ID, fields.Kind, fields.Params, agentID, nowMs)
	default:
		return fmt.Errorf("orchestrator: unknown op kind %q", op.Kind)
	}
}

// hashDeliverable reads the executing agent's finalState for a deliverable
// string and dispatches UPDATE_CONNECTION_HASH. A missing deliverable is a
// warning, not an error.
func (o *Orchestrator) hashDeliverable(txID string, finalState map[string]interface{}, nowMs int64) {
	if finalState == nil {
		o.logger.Warn("orchestrator: connection %s entered DELIVERED with no persistent state to hash", txID)
		return
	}
	content := stringDeliverable(finalState, txID)
	if content == "" {
		o.logger.Warn("orchestrator: connection %s entered DELIVERED but no deliverable was found to hash", txID)
		return
	}
	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])
	if err := o.store.Dispatch(store.Action{Kind: store.UpdateConnHash, ConnectionID: txID, Hash: hash, NowMs: nowMs}); err != nil {
		o.logger.Warn("orchestrator: could not record deliverable hash for %s: %v", txID, err)
	}
}

func stringDeliverable(finalState map[string]interface{}, txID string) string {
	if byTx, ok := finalState["deliverables"].(map[string]interface{}); ok {
		if s, ok := byTx[txID].(string); ok {
			return s
		}
	}
	if s, ok := finalState["deliverable"].(string); ok {
		return s
	}
	return ""
}

func (o *Orchestrator) failAgent(agentID string, execErr *sandbox.ExecError, nowMs int64) {
	msg := "unknown execution failure"
	if execErr != nil {
		msg = execErr.Message
	}
	o.logger.Warn("orchestrator: agent %s execution failed: %s", agentID, msg)
	o.appendRuntimeEvent(agentID, "", domain.EventError, msg, nowMs)
	_ = o.store.Dispatch(store.Action{Kind: store.UpdateAgentStatus, AgentID: agentID, Status: domain.AgentError, NowMs: nowMs})
}

// emitLogs appends one runtime event per worker log line, collapsing
// identical consecutive info lines on no-op ticks into a single summary.
func (o *Orchestrator) emitLogs(agentID string, logs []sandbox.Log, noOpTick bool, nowMs int64) {
	ds, ok := o.dedup[agentID]
	if !ok {
		ds = &dedupState{}
		o.dedup[agentID] = ds
	}

	if !noOpTick {
		o.flushDedup(agentID, ds, nowMs)
		for _, l := range logs {
			o.appendRuntimeEvent(agentID, "", eventTypeForLog(l.Level), l.Message, nowMs)
		}
		return
	}

	for _, l := range logs {
		if l.Level != sandbox.LogInfo {
			o.flushDedup(agentID, ds, nowMs)
			o.appendRuntimeEvent(agentID, "", eventTypeForLog(l.Level), l.Message, nowMs)
			continue
		}
		if ds.count > 0 && ds.message == l.Message {
			ds.count++
			continue
		}
		if ds.count == 0 && ds.message == l.Message {
			ds.count = 1
			continue
		}
		o.flushDedup(agentID, ds, nowMs)
		ds.message = l.Message
		ds.count = 0
		o.appendRuntimeEvent(agentID, "", domain.EventInfo, l.Message, nowMs)
	}
}

func (o *Orchestrator) flushDedup(agentID string, ds *dedupState, nowMs int64) {
	if ds.count == 0 {
		return
	}
	o.appendRuntimeEvent(agentID, "", domain.EventInfo, fmt.Sprintf("↻ (repeated %dx) %s", ds.count, ds.message), nowMs)
	ds.count = 0
	ds.message = ""
}

func eventTypeForLog(level sandbox.LogLevel) domain.EventType {
	switch level {
	case sandbox.LogWarn:
		return domain.EventWarning
	case sandbox.LogError:
		return domain.EventError
	default:
		return domain.EventInfo
	}
}

func (o *Orchestrator) appendRuntimeEvent(agentID, connID string, typ domain.EventType, message string, nowMs int64) {
	ev := domain.RuntimeEvent{
		ID:           o.store.NextRuntimeEventID(),
		Type:         typ,
		TimestampMs:  nowMs,
		AgentID:      agentID,
		ConnectionID: connID,
		Payload:      map[string]interface{}{"message": message},
	}
	_ = o.store.Dispatch(store.Action{Kind: store.AppendEvent, Event: &ev, NowMs: nowMs})
}

// drainJobs processes pending jobs, writes completed/failed results into
// each owning agent's ctx.state.jobs, then purges them from the global
// queue.
func (o *Orchestrator) drainJobs(ctx context.Context) {
	o.queue.Drain(ctx, o.handlers, o.limits.MaxJobsPerTick, o.limits.MaxOutputChars)
	done := o.queue.PurgeTerminal()

	byOwner := make(map[string][]domain.ServiceJob)
	for _, j := range done {
		byOwner[j.OwnerAgentID] = append(byOwner[j.OwnerAgentID], j)
	}
	for owner, jobs := range byOwner {
		state := o.store.GetAgentState(owner)
		if state == nil {
			state = map[string]interface{}{}
		}
		jobsMap, ok := state["jobs"].(map[string]interface{})
		if !ok {
			jobsMap = map[string]interface{}{}
		}
		for _, j := range jobs {
			view := domain.AgentJobView{Status: j.Status, Result: j.Result, Error: j.Error}
			jobsMap[j.ID] = view
		}
		state["jobs"] = jobsMap
		o.store.ReplaceAgentState(owner, state)
	}

	if o.metrics != nil {
		o.metrics.JobQueueDepth.Set(float64(o.queue.Len()))
	}
}
