package publisher

import (
	"context"
	"time"

	"clickstream/internal/clickstream"
	"clickstream/internal/clickstream/metrics"
)

// MetricsPublisher wraps a clickstream.Publisher with metrics collection
type MetricsPublisher struct {
	publisher clickstream.Publisher
	registry  *metrics.Registry
}

// NewMetricsPublisher creates a new instrumented publisher
func NewMetricsPublisher(publisher clickstream.Publisher, registry *metrics.Registry) clickstream.Publisher {
	return &MetricsPublisher{
		publisher: publisher,
		registry:  registry,
	}
}

// Publish implements clickstream.Publisher.Publish with metrics collection.
// The delivery handler is wrapped so reports are counted before the caller sees them.
func (p *MetricsPublisher) Publish(ctx context.Context, msg clickstream.Message, onResult clickstream.DeliveryHandler) error {
	start := time.Now()

	err := p.publisher.Publish(ctx, msg, func(r clickstream.DeliveryReport) {
		p.registry.RecordDelivery(msg.Topic, r.Err)
		if onResult != nil {
			onResult(r)
		}
	})

	p.registry.RecordPublish(msg.Topic, len(msg.Value), time.Since(start), err)

	return err
}

// Poll implements clickstream.Publisher.Poll with metrics collection
func (p *MetricsPublisher) Poll() int {
	n := p.publisher.Poll()
	p.registry.RecordPoll(n)
	return n
}

// Flush implements clickstream.Publisher.Flush with metrics collection
func (p *MetricsPublisher) Flush(ctx context.Context, timeout time.Duration) int {
	start := time.Now()
	remaining := p.publisher.Flush(ctx, timeout)
	p.registry.RecordFlush(time.Since(start), remaining)
	return remaining
}

func (p *MetricsPublisher) Close() {
	p.publisher.Close()
}
