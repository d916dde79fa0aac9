package events

import (
	"context"

	"github.com/your-org/shortsplit/pkg/kafka"
)

// KafkaPublisher writes events as JSON keyed by Event.Key, so every event for
// one run lands on the same partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	source   string
}

func NewKafkaPublisher(producer *kafka.Producer, source string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, source: source}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	return k.producer.PublishJSON(ctx, e.Key, e, map[string]string{
		"event_type": e.Type,
		"source":     k.source,
	})
}

func (k *KafkaPublisher) Close(ctx context.Context) error {
	return k.producer.Close(ctx)
}
