package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"clickstream/internal/clickstream"
	"clickstream/internal/clickstream/clickstreamtest"
	"clickstream/internal/clickstream/metrics"
	"clickstream/internal/clickstream/tracing"
)

func msg() clickstream.Message {
	return clickstream.Message{Topic: clickstream.Topic, Key: []byte("session"), Value: []byte(`{"a":1}`)}
}

func TestMetricsPublisher_WrapsHandler(t *testing.T) {
	fake := &clickstreamtest.Publisher{Remaining: 2}
	p := NewMetricsPublisher(fake, metrics.NewRegistry())

	var reports int
	require.NoError(t, p.Publish(context.Background(), msg(), func(clickstream.DeliveryReport) { reports++ }))
	require.NoError(t, p.Publish(context.Background(), msg(), nil))

	assert.Equal(t, 2, p.Poll())
	assert.Equal(t, 1, reports)
	assert.Equal(t, 2, p.Flush(context.Background(), time.Second))

	p.Close()
	assert.True(t, fake.Closed())
	assert.Equal(t, []string{
		clickstreamtest.OpPublish,
		clickstreamtest.OpPublish,
		clickstreamtest.OpPoll,
		clickstreamtest.OpFlush,
		clickstreamtest.OpClose,
	}, fake.Ops())
}

func TestMetricsPublisher_PropagatesErrors(t *testing.T) {
	fake := &clickstreamtest.Publisher{PublishErrs: []error{clickstream.ErrBufferFull}}
	p := NewMetricsPublisher(fake, metrics.NewRegistry())

	err := p.Publish(context.Background(), msg(), nil)
	assert.ErrorIs(t, err, clickstream.ErrBufferFull)
	assert.Equal(t, 0, p.Poll())
}

func TestTracedPublisher_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	boom := errors.New("boom")
	fake := &clickstreamtest.Publisher{PublishErrs: []error{nil, boom}, Remaining: 1}
	p := NewTracedPublisher(fake, tracing.NewTracerFromProvider(tp, "test"))

	require.NoError(t, p.Publish(context.Background(), msg(), nil))
	require.ErrorIs(t, p.Publish(context.Background(), msg(), nil), boom)
	assert.Equal(t, 1, p.Poll())
	assert.Equal(t, 1, p.Flush(context.Background(), 10*time.Second))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "publisher.publish", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "publisher.flush", spans[2].Name())
}
