package publisher

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"clickstream/internal/clickstream"
	"clickstream/internal/clickstream/tracing"
)

// TracedPublisher wraps a clickstream.Publisher with distributed tracing
// Layer order: TracedPublisher -> MetricsPublisher -> driver
type TracedPublisher struct {
	publisher clickstream.Publisher
	tracer    *tracing.Tracer
}

// NewTracedPublisher creates a new traced publisher that wraps a metrics publisher
func NewTracedPublisher(publisher clickstream.Publisher, tracer *tracing.Tracer) clickstream.Publisher {
	return &TracedPublisher{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish implements clickstream.Publisher.Publish with distributed tracing.
// The span covers the hand-off only; delivery happens later.
func (p *TracedPublisher) Publish(ctx context.Context, msg clickstream.Message, onResult clickstream.DeliveryHandler) error {
	ctx, span := p.tracer.StartSpan(ctx, "publisher.publish")
	defer span.End()

	span.SetAttributes(p.tracer.PublishAttributes(msg.Topic, len(msg.Key), len(msg.Value))...)

	err := p.publisher.Publish(ctx, msg, onResult)
	if err != nil {
		p.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(p.tracer.ErrorAttributes(err)...)

	return err
}

func (p *TracedPublisher) Poll() int {
	return p.publisher.Poll()
}

// Flush implements clickstream.Publisher.Flush with distributed tracing
func (p *TracedPublisher) Flush(ctx context.Context, timeout time.Duration) int {
	ctx, span := p.tracer.StartSpan(ctx, "publisher.flush")
	defer span.End()

	remaining := p.publisher.Flush(ctx, timeout)
	span.SetAttributes(p.tracer.FlushAttributes(timeout, remaining)...)

	return remaining
}

func (p *TracedPublisher) Close() {
	p.publisher.Close()
}
