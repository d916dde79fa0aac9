// Package events publishes run and upload lifecycle events.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/shortsplit/pkg/logger"
)

const (
	TypeUploadCompleted  = "upload.completed"
	TypeRunStarted       = "run.started"
	TypeSegmentDelivered = "segment.delivered"
	TypeRunCompleted     = "run.completed"
	TypeRunFailed        = "run.failed"
)

// Event is the envelope written to the events topic.
type Event struct {
	Type       string         `json:"type"`
	Key        string         `json:"key"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// New stamps an event of type typ for key.
func New(typ, key string, attrs map[string]any) Event {
	return Event{Type: typ, Key: key, Attributes: attrs, OccurredAt: time.Now().UTC()}
}

// Publisher delivers events. Publishing is best effort: callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close(ctx context.Context) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close(context.Context) error          { return nil }

// Emit publishes e and logs, rather than returns, a failure.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Component(log, "events").Warn("publish event failed",
			zap.String("type", e.Type),
			zap.String("key", e.Key),
			zap.Error(err),
		)
	}
}
