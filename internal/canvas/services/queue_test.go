package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agirails/canvas-core/internal/canvas/domain"
)

func TestSubmitAndDrainTranslate(t *testing.T) {
	q := NewQueue(100, nil)
	id, err := q.Submit("translate", map[string]interface{}{"text": "hello", "to": "es"}, "agent-a", 0)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	handlers := map[string]Handler{"translate": TranslateHandler(MockBackend{})}
	processed := q.Drain(context.Background(), handlers, 10, 10_000)
	require.Len(t, processed, 1)
	assert.Equal(t, domain.JobCompleted, processed[0].Status)
	assert.Equal(t, "[ES] hello", processed[0].Result)

	done := q.PurgeTerminal()
	require.Len(t, done, 1)
	assert.Empty(t, q.Pending())
}

func TestSubmitWithIDCollisionIsFatal(t *testing.T) {
	q := NewQueue(100, nil)
	require.NoError(t, q.SubmitWithID("job-5", "translate", nil, "agent-a", 0))
	err := q.SubmitWithID("job-5", "translate", nil, "agent-a", 0)
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestDrainCapsPerTick(t *testing.T) {
	q := NewQueue(100, nil)
	for i := 0; i < 5; i++ {
		_, err := q.Submit("translate", map[string]interface{}{"text": "x", "to": "fr"}, "a", 0)
		require.NoError(t, err)
	}
	handlers := map[string]Handler{"translate": TranslateHandler(MockBackend{})}
	processed := q.Drain(context.Background(), handlers, 2, 10_000)
	assert.Len(t, processed, 2)
	assert.Len(t, q.Pending(), 3)
}

func TestDrainTruncatesOversizedOutput(t *testing.T) {
	q := NewQueue(10, nil)
	_, err := q.Submit("echo", nil, "a", 0)
	require.NoError(t, err)
	handlers := map[string]Handler{"echo": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return strings.Repeat("x", 20), nil
	}}
	processed := q.Drain(context.Background(), handlers, 10, 5)
	require.Len(t, processed, 1)
	assert.Equal(t, "xxxxx...[truncated]", processed[0].Result)
}

func TestDrainMarksUnknownTypeFailed(t *testing.T) {
	q := NewQueue(10, nil)
	_, err := q.Submit("bogus", nil, "a", 0)
	require.NoError(t, err)
	processed := q.Drain(context.Background(), map[string]Handler{}, 10, 10_000)
	require.Len(t, processed, 1)
	assert.Equal(t, domain.JobFailed, processed[0].Status)
}

func TestDrainMarksHandlerErrorFailed(t *testing.T) {
	q := NewQueue(10, nil)
	_, err := q.Submit("translate", map[string]interface{}{}, "a", 0)
	require.NoError(t, err)
	handlers := map[string]Handler{"translate": TranslateHandler(MockBackend{})}
	processed := q.Drain(context.Background(), handlers, 10, 10_000)
	require.Len(t, processed, 1)
	assert.Equal(t, domain.JobFailed, processed[0].Status)
	assert.Contains(t, processed[0].Error, "text is required")
}

func TestDrainPreservesSubmissionOrderUnderConcurrency(t *testing.T) {
	q := NewQueue(10, nil)
	for i := 0; i < 6; i++ {
		_, err := q.Submit("delay", map[string]interface{}{"n": i}, "a", 0)
		require.NoError(t, err)
	}
	handlers := map[string]Handler{"delay": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		n := params["n"].(int)
		time.Sleep(time.Duration(6-n) * time.Millisecond)
		return n, nil
	}}
	processed := q.Drain(context.Background(), handlers, 10, 10_000)
	require.Len(t, processed, 6)
	for i, job := range processed {
		assert.Equal(t, domain.JobCompleted, job.Status)
		assert.Equal(t, i, job.Result)
	}
}

func TestFallbackBackendUsesMockOnPrimaryError(t *testing.T) {
	primary := failingBackend{}
	fb := FallbackBackend{Primary: primary, Fallback: MockBackend{}}
	out, err := fb.Translate(context.Background(), "hi", "de", "")
	require.NoError(t, err)
	assert.Equal(t, "[DE] hi", out)
}

type failingBackend struct{}

func (failingBackend) Translate(context.Context, string, string, string) (string, error) {
	return "", errors.New("unreachable")
}

func TestQueueFullRejectsSubmit(t *testing.T) {
	q := NewQueue(1, nil)
	_, err := q.Submit("translate", nil, "a", 0)
	require.NoError(t, err)
	_, err = q.Submit("translate", nil, "a", 0)
	require.ErrorIs(t, err, ErrQueueFull)
}
