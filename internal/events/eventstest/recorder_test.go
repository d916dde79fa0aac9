package eventstest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/shortsplit/internal/events"
)

func TestRecorderKeepsOrder(t *testing.T) {
	r := &Recorder{}
	events.Emit(context.Background(), r, nil, events.New(events.TypeRunStarted, "run-1", map[string]any{"parts": 3}))
	events.Emit(context.Background(), r, nil, events.New(events.TypeRunCompleted, "run-1", nil))

	assert.Equal(t, []string{events.TypeRunStarted, events.TypeRunCompleted}, r.Types())
	assert.Equal(t, 3, r.Events()[0].Attributes["parts"])
	assert.False(t, r.Events()[0].OccurredAt.IsZero())
}

func TestEventsReturnsCopy(t *testing.T) {
	r := &Recorder{}
	_ = r.Publish(context.Background(), events.New(events.TypeRunFailed, "run-2", nil))

	got := r.Events()
	got[0].Type = "mutated"
	assert.Equal(t, []string{events.TypeRunFailed}, r.Types())
}
