package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordingLog() *Log {
	l := New(7, InitialState{VirtualTimeMs: 0, IDCounter: 1, RngSeed: 7, TickIntervalMs: 2000})
	l.StartRecording(map[string]interface{}{"agents": 2}, 4000)
	return l
}

func TestAppendBeforeRecordingIsNoOp(t *testing.T) {
	l := New(7, InitialState{RngSeed: 7})
	ev := l.Append("ADD_AGENT", nil, 0, 0)
	assert.Empty(t, ev.ID)
	assert.Empty(t, l.Events)
	assert.False(t, l.IsRecording())
}

func TestStartRecordingWritesSessionInitWithSnapshot(t *testing.T) {
	l := newRecordingLog()
	require.Len(t, l.Events, 1)
	assert.Equal(t, SessionInit, l.Events[0].Type)
	assert.Equal(t, "event-1", l.Events[0].ID)
	assert.Equal(t, int64(4000), l.Events[0].TimestampMs)
	assert.True(t, l.IsRecording())
	assert.Equal(t, int64(4000), l.Metadata.RecordedAt.UnixMilli())
}

func TestEventIDsAreStrictlyIncreasing(t *testing.T) {
	l := newRecordingLog()
	e2 := l.Append("ADD_AGENT", nil, 4000, 0)
	e3 := l.Append("TICK_RUNTIME", nil, 6000, 1)

	assert.Equal(t, "event-2", e2.ID)
	assert.Equal(t, "event-3", e3.ID)
	assert.Equal(t, int64(4), l.NextEventSeq())
}

func TestMetadataTracksTicksEventsAndDuration(t *testing.T) {
	l := newRecordingLog()
	l.Append("TICK_RUNTIME", nil, 6000, 1)
	l.Append("TICK_RUNTIME", nil, 8000, 2)

	assert.Equal(t, 3, l.Metadata.TotalEvents)
	assert.Equal(t, int64(2), l.Metadata.TotalTicks)
	assert.Equal(t, int64(4000), l.Metadata.DurationMs)
}

func TestResetClearsEventsAndStopsRecording(t *testing.T) {
	l := newRecordingLog()
	l.Append("ADD_AGENT", nil, 4000, 0)

	l.Reset(InitialState{VirtualTimeMs: 0, IDCounter: 1, RngSeed: 7, TickIntervalMs: 2000})

	assert.Empty(t, l.Events)
	assert.False(t, l.IsRecording())
	assert.Equal(t, int64(1), l.NextEventSeq())
	// Appends after reset stay no-ops until recording restarts.
	ev := l.Append("ADD_AGENT", nil, 0, 0)
	assert.Empty(t, ev.ID)
}

func TestFromLoadedResumesSequenceAfterLastEvent(t *testing.T) {
	l := newRecordingLog()
	l.Append("ADD_AGENT", nil, 4000, 0)

	loaded := FromLoaded(l.Version, l.Seed, l.InitialState, l.Events, l.Metadata)
	assert.Equal(t, int64(3), loaded.NextEventSeq())
	assert.Len(t, loaded.Events, 2)
	assert.False(t, loaded.IsRecording())
}
