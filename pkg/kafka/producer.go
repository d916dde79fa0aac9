package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

var (
	ErrNoBrokers = errors.New("kafka: no brokers configured")
	ErrNoTopic   = errors.New("kafka: topic is required")
)

// Producer publishes keyed records to one topic. Records sharing a key are
// hashed to the same partition and keep their relative order.
type Producer struct {
	writer *kafkago.Writer
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafkago.Compression
	RequiredAcks kafkago.RequiredAcks
	MaxAttempts  int
	// Async makes Publish return once the record is queued. Delivery errors
	// are only reported through Completion.
	Async      bool
	Completion func(messages []kafkago.Message, err error)
}

// NewProducer validates cfg and builds the underlying writer. No connection is
// made until the first publish.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		return nil, ErrNoTopic
	}
	return &Producer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Compression:  cfg.Compression,
			RequiredAcks: cfg.RequiredAcks,
			MaxAttempts:  cfg.MaxAttempts,
			Async:        cfg.Async,
			Completion:   cfg.Completion,
		},
	}, nil
}

// Topic is the destination topic.
func (p *Producer) Topic() string {
	return p.writer.Topic
}

func (p *Producer) Publish(ctx context.Context, key, value []byte, headers map[string]string) error {
	return p.writer.WriteMessages(ctx, buildMessage(key, value, headers))
}

// PublishJSON marshals value and publishes it under key.
func (p *Producer) PublishJSON(ctx context.Context, key string, value any, headers map[string]string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.Publish(ctx, []byte(key), payload, headers)
}

// Close flushes queued records. It gives up waiting when ctx ends; the flush
// itself keeps going in the background.
func (p *Producer) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.writer.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close kafka writer: %w", ctx.Err())
	}
}

// buildMessage stamps the record and attaches headers in key order.
func buildMessage(key, value []byte, headers map[string]string) kafkago.Message {
	msg := kafkago.Message{
		Key:   key,
		Value: value,
		Time:  time.Now().UTC(),
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(headers[k])})
	}
	return msg
}

// CompressionFromString maps a codec name to kafka-go. "none" disables
// compression; anything unrecognised falls back to snappy.
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return 0
	case "gzip":
		return kafkago.Gzip
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}
