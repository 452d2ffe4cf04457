package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dop251/goja"
)

// forbiddenConstructs rejects any async-control primitive pre-parse: the
// sandbox is synchronous-per-tick.
var forbiddenConstructs = regexp.MustCompile(`\basync\b|\bawait\b|\bPromise\b|\.then\s*\(`)

// VM runs agent scripts in fresh, short-lived goja runtimes, caching parsed
// *goja.Program by a hash of the source so unchanged agent code across
// ticks is not re-parsed. The cache holds only parsed bytecode, never
// runtime state; every Execute still gets a fresh Runtime.
type VM struct {
	programs *lru.Cache[string, *goja.Program]
}

// NewVM constructs a VM with a parsed-program cache of the given capacity.
func NewVM(cacheSize int) (*VM, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, *goja.Program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("sandbox: build program cache: %w", err)
	}
	return &VM{programs: c}, nil
}

// Execute runs req.Code to completion in a fresh Runtime, enforcing the
// wall-clock and stack caps and returning a Result that is always safe to
// JSON-serialize back to the main context.
func (v *VM) Execute(req Request) Result {
	if forbiddenConstructs.MatchString(req.Code) {
		return Result{
			Success:   false,
			Error:     &ExecError{Type: ErrValidation, Message: "agent scripts must be synchronous: async/await/Promise/.then are not permitted"},
			IDCounter: req.IDCounter,
		}
	}

	program, err := v.program(req.Code)
	if err != nil {
		return Result{
			Success:   false,
			Error:     &ExecError{Type: ErrSyntax, Message: err.Error(), Line: parseLineFromMessage(err.Error())},
			IDCounter: req.IDCounter,
		}
	}

	rt := goja.New()
	rt.SetMaxCallStackSize(stackFrameBudget(req.MaxStackBytes))

	execCtx, err := buildCtx(rt, &req)
	if err != nil {
		return Result{Success: false, Error: &ExecError{Type: ErrRuntime, Message: err.Error()}, IDCounter: req.IDCounter}
	}

	for _, w := range lintCode(req.Code) {
		execCtx.appendLog(LogWarn, w)
	}

	budget := req.MaxExecutionTimeMs
	if budget <= 0 {
		budget = 5000
	}
	timer := time.AfterFunc(time.Duration(budget)*time.Millisecond, func() {
		rt.Interrupt(errTimeoutSentinel)
	})
	defer timer.Stop()

	runErr := runProtected(rt, program)

	if runErr != nil {
		return classifyError(runErr, execCtx, req.IDCounter)
	}

	return finalizeResult(rt, execCtx, req)
}

// errTimeoutSentinel is the interrupt reason compared against on return —
// goja surfaces it back wrapped in a *goja.InterruptedError.
var errTimeoutSentinel = fmt.Errorf("sandbox: execution budget exceeded")

// runProtected calls RunProgram, recovering panics raised by host functions
// (ctx.* validation failures, op/log cap overruns) that are not goja's own
// panic-as-exception convention re-raised as Go errors.
func runProtected(rt *goja.Runtime, program *goja.Program) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("sandbox: panic during execution: %v", r)
		}
	}()
	_, err = rt.RunProgram(program)
	return err
}

func (v *VM) program(code string) (*goja.Program, error) {
	key := hashCode(code)
	if p, ok := v.programs.Get(key); ok {
		return p, nil
	}
	p, err := goja.Compile("agent.js", code, false)
	if err != nil {
		return nil, err
	}
	v.programs.Add(key, p)
	return p, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// stackFrameBudget converts a byte budget into an approximate call-stack
// frame count; goja.SetMaxCallStackSize takes a frame count, not bytes, so
// this is a coarse translation.
func stackFrameBudget(maxBytes int64) int {
	const bytesPerFrame = 2048
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	n := int(maxBytes / bytesPerFrame)
	if n < 32 {
		n = 32
	}
	return n
}

func classifyError(err error, c *execCtx, fallbackIDCounter int64) Result {
	if ie, ok := err.(*goja.InterruptedError); ok {
		_ = ie
		return Result{
			Success:   false,
			Error:     &ExecError{Type: ErrTimeout, Message: "execution exceeded the per-tick time budget"},
			IDCounter: fallbackIDCounter,
		}
	}
	if ex, ok := err.(*goja.Exception); ok {
		msg := ex.Error()
		kind := ErrRuntime
		goErr, isGoErr := ex.Value().Export().(error)
		if obj, ok := ex.Value().(*goja.Object); ok && !isGoErr {
			// A NewGoError object exports as a plain map; the Go error
			// itself sits on its "value" property.
			if v := obj.Get("value"); v != nil {
				goErr, isGoErr = v.Export().(error)
			}
		}
		if isGoErr {
			msg = goErr.Error()
			if isValidationMessage(msg) {
				kind = ErrValidation
			} else if errIsTooManyOps(goErr) {
				return Result{
					Success:   false,
					Error:     &ExecError{Type: ErrResource, Message: msg},
					IDCounter: fallbackIDCounter,
					Logs:      toLogs(c),
				}
			}
		}
		return Result{
			Success:   false,
			Error:     &ExecError{Type: kind, Message: msg, Line: parseLineFromStack(ex)},
			IDCounter: fallbackIDCounter,
			Logs:      toLogs(c),
		}
	}
	return Result{
		Success:   false,
		Error:     &ExecError{Type: ErrRuntime, Message: err.Error()},
		IDCounter: fallbackIDCounter,
		Logs:      toLogs(c),
	}
}

func errIsTooManyOps(err error) bool {
	return err != nil && err.Error() == errTooManyOps.Error()
}

func isValidationMessage(msg string) bool {
	return len(msg) >= len("ValidationError") && msg[:len("ValidationError")] == "ValidationError"
}

func toLogs(c *execCtx) []Log {
	if c == nil {
		return nil
	}
	return c.logs
}

var stackLineRe = regexp.MustCompile(`:(\d+):\d+`)

func parseLineFromStack(ex *goja.Exception) int {
	return parseLineFromMessage(ex.String())
}

func parseLineFromMessage(s string) int {
	m := stackLineRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	var line int
	_, _ = fmt.Sscanf(m[1], "%d", &line)
	return line
}

// finalizeResult reads ctx.state back out, validates it, and assembles the
// success Result.
func finalizeResult(rt *goja.Runtime, c *execCtx, req Request) Result {
	res := Result{
		Success:   true,
		IDCounter: c.idCounter,
		Logs:      c.logs,
		Ops:       c.ops,
	}

	ctxVal := rt.Get("ctx")
	if ctxVal == nil {
		return res
	}
	ctxObj := ctxVal.ToObject(rt)
	stateVal := ctxObj.Get("state")
	if stateVal == nil || goja.IsUndefined(stateVal) || goja.IsNull(stateVal) {
		return res
	}

	exported := stateVal.Export()
	obj, ok := exported.(map[string]interface{})
	if !ok {
		c.appendLog(LogWarn, "ctx.state must be a plain object; agent script returned a non-object, previous persistent state is kept")
		res.Logs = c.logs
		return res
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		c.appendLog(LogWarn, fmt.Sprintf("ctx.state could not be serialized: %v", err))
		res.Logs = c.logs
		return res
	}

	maxBytes := req.MaxStateBytes
	if maxBytes <= 0 {
		maxBytes = 200 * 1024
	}
	if len(raw) > maxBytes {
		return Result{
			Success:   false,
			Error:     &ExecError{Type: ErrResource, Message: fmt.Sprintf("ctx.state exceeded %d bytes", maxBytes)},
			IDCounter: c.idCounter,
			Logs:      c.logs,
		}
	}

	// Hand back the JSON form of the state, so numbers come back as float64
	// exactly as they would after an export/import round trip.
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = obj
	}
	res.FinalState = decoded
	return res
}
