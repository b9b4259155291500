package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"clickstream/internal/clickstream"
)

func TestNewConfig(t *testing.T) {
	cm := NewConfig("broker-1:9092").ConfigMap()

	assert.Equal(t, &ck.ConfigMap{
		"bootstrap.servers": "broker-1:9092",
		"client.id":         "clickstream-simulator-v2",
		"acks":              "all",
		"retries":           3,
	}, cm)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewConfig("localhost:9092")
	cfg.Acks = "sometimes"

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create kafka producer")
}

func TestNew_MissingBroker(t *testing.T) {
	_, err := New(NewConfig(""), zap.NewNop())
	require.Error(t, err)
}

func TestProduceError(t *testing.T) {
	assert.NoError(t, produceError(nil))

	full := produceError(ck.NewError(ck.ErrQueueFull, "Local: Queue full", false))
	assert.ErrorIs(t, full, clickstream.ErrBufferFull)

	other := produceError(ck.NewError(ck.ErrMsgSizeTooLarge, "Broker: Message size too large", false))
	assert.NotErrorIs(t, other, clickstream.ErrBufferFull)
	assert.Contains(t, other.Error(), "failed to produce message")
}

func TestDispatch(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := &Client{logger: zap.New(core)}

	topic := clickstream.Topic
	var got []clickstream.DeliveryReport
	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: 2, Offset: 41, Error: errors.New("timed out")},
		Key:            []byte("session"),
		Opaque:         clickstream.DeliveryHandler(func(r clickstream.DeliveryReport) { got = append(got, r) }),
	}

	assert.True(t, c.dispatch(msg))
	require.Len(t, got, 1)
	assert.Equal(t, clickstream.Topic, got[0].Topic)
	assert.Equal(t, int32(2), got[0].Partition)
	assert.Equal(t, int64(41), got[0].Offset)
	assert.Equal(t, []byte("session"), got[0].Key)
	assert.EqualError(t, got[0].Err, "timed out")

	assert.False(t, c.dispatch(&ck.Message{TopicPartition: ck.TopicPartition{Topic: &topic}}))
	assert.False(t, c.dispatch(ck.NewError(ck.ErrAllBrokersDown, "all brokers down", false)))
	assert.Equal(t, 1, logs.FilterMessage("kafka client error").Len())
}

func TestClient_FlushReportsUndelivered(t *testing.T) {
	client, err := New(NewConfig("127.0.0.1:1"), zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	err = client.Publish(context.Background(), clickstream.Message{
		Topic: clickstream.Topic,
		Key:   []byte("k"),
		Value: []byte(`{}`),
	}, func(clickstream.DeliveryReport) {})
	require.NoError(t, err)

	assert.Equal(t, 0, client.Poll())
	assert.Equal(t, 1, client.Flush(context.Background(), 200*time.Millisecond))
}
