// Package kafka implements clickstream.Publisher on top of confluent-kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"clickstream/internal/clickstream"
	"clickstream/internal/validator"
)

const (
	ClientID = "clickstream-simulator-v2"
	Acks     = "all"
	Retries  = 3

	// flushSlice bounds each librdkafka flush so reports are dispatched while waiting.
	flushSlice = 100 * time.Millisecond
)

// Config holds the librdkafka producer settings the emitter uses.
type Config struct {
	BootstrapServers string
	ClientID         string
	Acks             string
	Retries          int
}

// NewConfig returns the producer settings for the given broker address.
func NewConfig(bootstrapServers string) Config {
	return Config{
		BootstrapServers: bootstrapServers,
		ClientID:         ClientID,
		Acks:             Acks,
		Retries:          Retries,
	}
}

// ConfigMap renders c as librdkafka properties.
func (c Config) ConfigMap() *ck.ConfigMap {
	return &ck.ConfigMap{
		"bootstrap.servers": c.BootstrapServers,
		"client.id":         c.ClientID,
		"acks":              c.Acks,
		"retries":           c.Retries,
	}
}

// Client publishes to Kafka. Delivery reports are read from the producer's
// events channel by Poll and Flush, so handlers run on the caller's goroutine.
type Client struct {
	producer *ck.Producer
	logger   *zap.Logger
}

func New(config Config, logger *zap.Logger) (*Client, error) {
	if err := validator.Validate("kafka client", config.BootstrapServers, logger); err != nil {
		return nil, err
	}

	producer, err := ck.NewProducer(config.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Client{
		producer: producer,
		logger:   logger.Named("kafka"),
	}, nil
}

// Publish implements clickstream.Publisher.Publish. The handler travels with
// the message as its opaque value and is recovered from the delivery report.
func (c *Client) Publish(_ context.Context, msg clickstream.Message, onResult clickstream.DeliveryHandler) error {
	topic := msg.Topic
	err := c.producer.Produce(&ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
		Opaque:         onResult,
	}, nil)

	return produceError(err)
}

// Poll implements clickstream.Publisher.Poll.
func (c *Client) Poll() int {
	var n int
	for {
		select {
		case ev := <-c.producer.Events():
			if c.dispatch(ev) {
				n++
			}
		default:
			return n
		}
	}
}

// Flush implements clickstream.Publisher.Flush. librdkafka counts undispatched
// reports as outstanding, so the events channel is drained between slices.
func (c *Client) Flush(ctx context.Context, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	for {
		c.Poll()

		remaining := c.producer.Len()
		if remaining == 0 {
			return 0
		}

		left := time.Until(deadline)
		if left <= 0 || ctx.Err() != nil {
			return remaining
		}

		c.producer.Flush(int(min(left, flushSlice).Milliseconds()))
	}
}

// Close implements clickstream.Publisher.Close.
func (c *Client) Close() {
	c.producer.Close()
}

func (c *Client) dispatch(ev ck.Event) bool {
	switch e := ev.(type) {
	case *ck.Message:
		onResult, ok := e.Opaque.(clickstream.DeliveryHandler)
		if !ok || onResult == nil {
			return false
		}
		onResult(report(e))
		return true
	case ck.Error:
		c.logger.Warn("kafka client error",
			zap.String("code", e.Code().String()),
			zap.Bool("fatal", e.IsFatal()),
			zap.Error(e),
		)
	}

	return false
}

func report(m *ck.Message) clickstream.DeliveryReport {
	r := clickstream.DeliveryReport{
		Partition: m.TopicPartition.Partition,
		Offset:    int64(m.TopicPartition.Offset),
		Key:       m.Key,
		Err:       m.TopicPartition.Error,
	}
	if m.TopicPartition.Topic != nil {
		r.Topic = *m.TopicPartition.Topic
	}

	return r
}

func produceError(err error) error {
	if err == nil {
		return nil
	}

	var kerr ck.Error
	if errors.As(err, &kerr) && kerr.Code() == ck.ErrQueueFull {
		return fmt.Errorf("%w: %w", clickstream.ErrBufferFull, err)
	}

	return fmt.Errorf("failed to produce message: %w", err)
}
