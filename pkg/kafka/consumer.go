// Package kafka moves bulletin analytics events between processes over
// segmentio/kafka-go. Producers write JSON bodies tagged with a type header;
// consumers hand each message to a MessageHandler and commit it once handled.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Message is a fetched record. Type is the TypeHeader value, empty for
// messages published without one.
type Message struct {
	Key       []byte
	Value     []byte
	Type      string
	Time      time.Time
	Partition int
	Offset    int64
}

// MessageHandler processes one message. A returned error leaves the message
// uncommitted.
type MessageHandler func(ctx context.Context, msg Message) error

// ConsumerOption adjusts the reader configuration.
type ConsumerOption func(*kafka.ReaderConfig)

// WithGroupID overrides the configured consumer group, letting two services
// each see every message on a topic.
func WithGroupID(id string) ConsumerOption {
	return func(rc *kafka.ReaderConfig) { rc.GroupID = id }
}

// FromEarliest makes a group with no committed offset start at the oldest
// retained message instead of the newest.
func FromEarliest() ConsumerOption {
	return func(rc *kafka.ReaderConfig) { rc.StartOffset = kafka.FirstOffset }
}

type ConsumerStats struct {
	Handled int64
	Failed  int64
}

// Consumer reads one topic within a consumer group.
type Consumer struct {
	reader  *kafka.Reader
	topic   string
	handler MessageHandler
	backoff time.Duration
	logger  *slog.Logger

	handled atomic.Int64
	failed  atomic.Int64
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	}
	for _, opt := range opts {
		opt(&rc)
	}
	return &Consumer{
		reader:  kafka.NewReader(rc),
		topic:   topic,
		handler: handler,
		backoff: time.Second,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", rc.GroupID),
	}
}

// Start fetches and dispatches messages until ctx is cancelled, then closes
// the reader. Fetch errors are retried after a pause.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "handled", c.handled.Load(), "failed", c.failed.Load())
				return nil
			}
			c.logger.Error("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		m := toMessage(msg)
		if err := c.handler(ctx, m); err != nil {
			c.failed.Add(1)
			c.logger.Error("handler failed", "partition", m.Partition, "offset", m.Offset, "type", m.Type, "error", err)
			continue
		}
		c.handled.Add(1)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("commit failed", "partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{Handled: c.handled.Load(), Failed: c.failed.Load()}
}

func (c *Consumer) Topic() string {
	return c.topic
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func toMessage(msg kafka.Message) Message {
	m := Message{
		Key:       msg.Key,
		Value:     msg.Value,
		Time:      msg.Time,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
	for _, h := range msg.Headers {
		if h.Key == TypeHeader {
			m.Type = string(h.Value)
			break
		}
	}
	return m
}

// DecodeJSON unmarshals a message body into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
