// Package clickstreamtest provides an in-memory clickstream.Publisher for tests.
package clickstreamtest

import (
	"context"
	"sync"
	"time"

	"clickstream/internal/clickstream"
)

const (
	OpPublish = "publish"
	OpPoll    = "poll"
	OpFlush   = "flush"
	OpClose   = "close"
)

// Call is one recorded method invocation.
type Call struct {
	Op      string
	Message clickstream.Message
	Timeout time.Duration
}

type delivery struct {
	onResult clickstream.DeliveryHandler
	report   clickstream.DeliveryReport
}

// Publisher records every call and delivers reports on Poll and Flush.
type Publisher struct {
	// PublishErrs is consumed one entry per Publish call; a nil entry or an
	// exhausted slice means success.
	PublishErrs []error
	// DeliveryErr is attached to every delivery report.
	DeliveryErr error
	// Remaining is what Flush reports as still outstanding.
	Remaining int
	// OnPublish runs at the start of each Publish with its 1-based index.
	OnPublish func(n int)

	mu        sync.Mutex
	calls     []Call
	published int
	pending   []delivery
	closed    bool
}

func (p *Publisher) Publish(_ context.Context, msg clickstream.Message, onResult clickstream.DeliveryHandler) error {
	p.mu.Lock()
	p.published++
	n := p.published
	p.calls = append(p.calls, Call{Op: OpPublish, Message: msg})
	hook := p.OnPublish
	var err error
	if n <= len(p.PublishErrs) {
		err = p.PublishErrs[n-1]
	}
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, delivery{
		onResult: onResult,
		report: clickstream.DeliveryReport{
			Topic:  msg.Topic,
			Offset: int64(n - 1),
			Key:    msg.Key,
			Err:    p.DeliveryErr,
		},
	})

	return nil
}

func (p *Publisher) Poll() int {
	p.record(Call{Op: OpPoll})
	return p.deliver()
}

func (p *Publisher) Flush(_ context.Context, timeout time.Duration) int {
	p.record(Call{Op: OpFlush, Timeout: timeout})
	p.deliver()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Remaining
}

func (p *Publisher) Close() {
	p.record(Call{Op: OpClose})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Calls returns a copy of the recorded calls.
func (p *Publisher) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Ops returns the recorded operation names in order.
func (p *Publisher) Ops() []string {
	calls := p.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how many times op was called.
func (p *Publisher) Count(op string) int {
	var n int
	for _, c := range p.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Publisher) record(c Call) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *Publisher) deliver() int {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, d := range pending {
		if d.onResult != nil {
			d.onResult(d.report)
		}
	}
	return len(pending)
}
