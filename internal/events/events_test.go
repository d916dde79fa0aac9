package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingPublisher struct{ Nop }

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("broker down") }

func TestEmitLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	Emit(context.Background(), failingPublisher{}, zap.New(core), New(TypeRunFailed, "run-2", nil))

	entries := logs.FilterMessage("publish event failed").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, TypeRunFailed, entries[0].ContextMap()["type"])
	}
}

func TestEmitToleratesNilPublisher(t *testing.T) {
	assert.NotPanics(t, func() { Emit(context.Background(), nil, nil, New(TypeRunStarted, "x", nil)) })
}
