// Package sandbox implements a short-lived, capability-restricted goja VM
// that runs one agent's script to completion per call and returns a
// plain-data result — never a live handle into host state.
package sandbox

import "github.com/agirails/canvas-core/internal/canvas/domain"

// TxView is the read-only transaction snapshot exposed to agent code as
// ctx.transactions / ctx.incomingTransactions.
type TxView struct {
	ID              string `json:"id"`
	SourceID        string `json:"sourceId"`
	TargetID        string `json:"targetId"`
	AmountMicro     int64  `json:"amountMicro"`
	Service         string `json:"service"`
	State           string `json:"state"`
	CreatedAtMs     int64  `json:"createdAt"`
	UpdatedAtMs     int64  `json:"updatedAt"`
	DeliverableHash string `json:"deliverableHash,omitempty"`
}

// Request is one ExecuteRequest.
type Request struct {
	Agent                domain.Agent
	VirtualTimeMs        int64
	IDCounter            int64
	IncomingTransactions []TxView
	Transactions         []TxView
	PersistentState      map[string]interface{}
	Code                 string

	MaxExecutionTimeMs int64
	MaxStackBytes      int64
	MaxConsoleLines    int
	MaxLogLineChars    int
	MaxOps             int
	MaxStateBytes      int
}

// OpKind enumerates the declarative state-change requests agent code can
// queue.
type OpKind string

const (
	OpCreateTx        OpKind = "CREATE_TX"
	OpTransitionState OpKind = "TRANSITION_STATE"
	OpReleaseEscrow   OpKind = "RELEASE_ESCROW"
	OpCancel          OpKind = "CANCEL"
	OpDispute         OpKind = "DISPUTE"
	OpSubmitJob       OpKind = "SUBMIT_JOB"
)

// CreateTxFields is the `tx` payload of a CREATE_TX op.
type CreateTxFields struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	AmountMicro int64  `json:"amountMicro"`
	Service     string `json:"service"`
	DeadlineMs  *int64 `json:"deadlineMs,omitempty"`
}

// SubmitJobFields is the `job` payload of a SUBMIT_JOB op.
type SubmitJobFields struct {
	ID     string                 `json:"id"`
	Kind   string                 `json:"service"`
	Params map[string]interface{} `json:"params"`
}

// Op is one queued host mutation request.
type Op struct {
	Kind OpKind

	CreateTx  *CreateTxFields
	TxID      string
	State     string
	Reason    string
	SubmitJob *SubmitJobFields
}

// LogLevel classifies one console line.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Log is one console line emitted by ctx.log/warn/error.
type Log struct {
	Level       LogLevel
	Message     string
	TimestampMs int64
}

// ErrorType classifies why a run failed.
type ErrorType string

const (
	ErrValidation ErrorType = "validation"
	ErrSyntax     ErrorType = "syntax"
	ErrRuntime    ErrorType = "runtime"
	ErrTimeout    ErrorType = "timeout"
	ErrResource   ErrorType = "resource"
)

// ExecError describes why a run failed.
type ExecError struct {
	Type    ErrorType
	Message string
	Line    int
}

// Result is the RESULT payload of one execution.
type Result struct {
	Success    bool
	Error      *ExecError
	IDCounter  int64
	Logs       []Log
	Ops        []Op
	FinalState map[string]interface{}
}
