// Package eventlog implements an append-only record of every reducer
// mutation of semantic interest, bootstrapped by a SESSION_INIT snapshot so
// mid-session recordings replay exactly. Payload is a plain interface{}
// since replay only ever needs to re-marshal it through JSON, never branch
// on its Go type outside the replay engine's own switch.
package eventlog

import (
	"fmt"
	"time"
)

// Kind mirrors store.Kind but is declared independently to avoid an import
// cycle in the direction eventlog->store; store imports eventlog, not the
// reverse.
type Kind = string

const SessionInit Kind = "SESSION_INIT"

// Event is one append-only log line.
type Event struct {
	ID          string      `json:"id"`
	Type        Kind        `json:"type"`
	TimestampMs int64       `json:"timestamp"`
	Tick        int64       `json:"tick"`
	Payload     interface{} `json:"payload"`
}

// InitialState is the minimal bootstrap a replay needs before consuming the
// SESSION_INIT event.
type InitialState struct {
	VirtualTimeMs  int64 `json:"virtualTimeMs"`
	IDCounter      int64 `json:"idCounter"`
	RngSeed        int64 `json:"rngSeed"`
	TickIntervalMs int64 `json:"tickIntervalMs"`
}

// Metadata describes a recorded session.
type Metadata struct {
	RecordedAt    time.Time `json:"recordedAt"`
	DurationMs    int64     `json:"duration"`
	TotalTicks    int64     `json:"totalTicks"`
	TotalEvents   int       `json:"totalEvents"`
	CanvasVersion int       `json:"canvasVersion"`
}

// Log is the append-only event log plus its bootstrap envelope:
// {version, seed, initialState, events, metadata}.
type Log struct {
	Version      int          `json:"version"`
	Seed         int64        `json:"seed"`
	InitialState InitialState `json:"initialState"`
	Events       []Event      `json:"events"`
	Metadata     Metadata     `json:"metadata"`

	nextSeq     int64
	recording   bool
	startedAtMs int64
}

// New creates an empty log that has not yet started recording.
func New(seed int64, initial InitialState) *Log {
	return &Log{
		Version:      1,
		Seed:         seed,
		InitialState: initial,
		Events:       nil,
		Metadata: Metadata{
			CanvasVersion: 2,
		},
		nextSeq: 1,
	}
}

// StartRecording appends the mandatory first SESSION_INIT event carrying a
// full in-band snapshot, so recordings begun mid-session replay exactly.
// snapshot must already be a plain JSON-serializable value (typically a
// snapshot.FullExport or snapshot.Topology).
func (l *Log) StartRecording(snapshot interface{}, nowMs int64) Event {
	l.recording = true
	l.startedAtMs = nowMs
	l.Metadata.RecordedAt = time.UnixMilli(nowMs).UTC()
	return l.append(SessionInit, snapshot, nowMs, 0)
}

// IsRecording reports whether StartRecording has been called.
func (l *Log) IsRecording() bool { return l.recording }

// Append records one typed event. It is a no-op returning the zero Event if
// recording has not started — callers that always want append-or-init
// should call StartRecording first via Store.
func (l *Log) Append(kind Kind, payload interface{}, timestampMs, tick int64) Event {
	if !l.recording {
		return Event{}
	}
	return l.append(kind, payload, timestampMs, tick)
}

func (l *Log) append(kind Kind, payload interface{}, timestampMs, tick int64) Event {
	ev := Event{
		ID:          fmt.Sprintf("event-%d", l.nextSeq),
		Type:        kind,
		TimestampMs: timestampMs,
		Tick:        tick,
		Payload:     payload,
	}
	l.nextSeq++
	l.Events = append(l.Events, ev)
	l.Metadata.TotalEvents = len(l.Events)
	if tick > l.Metadata.TotalTicks {
		l.Metadata.TotalTicks = tick
	}
	l.Metadata.DurationMs = timestampMs - l.startedAtMs
	return ev
}

// NextEventSeq returns the sequence number the next Append call will use —
// exposed so tests can assert monotonic id continuity without depending on
// the private counter.
func (l *Log) NextEventSeq() int64 { return l.nextSeq }

// Reset clears all recorded events and returns the log to its pre-recording
// state, matching RESET_RUNTIME's "clears the event log" requirement.
func (l *Log) Reset(initial InitialState) {
	l.InitialState = initial
	l.Events = nil
	l.nextSeq = 1
	l.recording = false
	l.Metadata = Metadata{CanvasVersion: l.Metadata.CanvasVersion}
}

// FromLoaded reconstructs a Log from a previously exported/serialized one —
// used by the replay engine to resume consuming events without re-recording.
func FromLoaded(version int, seed int64, initial InitialState, events []Event, meta Metadata) *Log {
	l := &Log{
		Version:      version,
		Seed:         seed,
		InitialState: initial,
		Events:       events,
		Metadata:     meta,
		recording:    false,
	}
	l.nextSeq = int64(len(events)) + 1
	return l
}
