// Package docstore implements clickstream.Publisher by writing each message
// as a document into a Couchbase collection.
//
// Messages wait in a bounded local queue and are inserted by a small pool of
// workers. Each insert is retried on transient failures. Delivery reports are
// buffered until the caller collects them with Poll or Flush, mirroring the
// broker client's callback model.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clickstream/internal/clickstream"
	"clickstream/internal/validator"
)

// Document is the stored form of a published message.
type Document struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Key         string          `json:"key"`
	Sequence    int64           `json:"sequence"`
	Payload     json.RawMessage `json:"payload"`
	PublishTime time.Time       `json:"publishTime"`
}

// Store persists documents. *couchbase.Couchbase[Document] satisfies it.
type Store interface {
	Insert(ctx context.Context, key string, value Document, opts *gocb.InsertOptions) error
	Close() error
}

// Options tunes the local queue, the worker pool and insert retries.
type Options struct {
	QueueSize     int
	Workers       int
	Retries       int
	InsertTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.InsertTimeout <= 0 {
		o.InsertTimeout = 5 * time.Second
	}
	return o
}

type pending struct {
	doc      Document
	onResult clickstream.DeliveryHandler
}

type completion struct {
	onResult clickstream.DeliveryHandler
	report   clickstream.DeliveryReport
}

// Publisher is a clickstream.Publisher backed by a document store.
type Publisher struct {
	store   Store
	logger  *zap.Logger
	options Options

	queue       chan pending
	completions chan completion
	outstanding atomic.Int64
	sequence    atomic.Int64

	// mu guards closed and the send side of queue against Close.
	mu        sync.RWMutex
	closed    bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
}

// New starts the insert workers. Store and logger are required.
func New(store Store, logger *zap.Logger, options Options) (*Publisher, error) {
	if err := validator.Validate("docstore publisher", store, logger); err != nil {
		return nil, err
	}

	options = options.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := Publisher{
		store:       store,
		logger:      logger.Named("docstore"),
		options:     options,
		queue:       make(chan pending, options.QueueSize),
		completions: make(chan completion, options.QueueSize),
		cancel:      cancel,
		group:       new(errgroup.Group),
	}

	for range options.Workers {
		p.group.Go(func() error {
			return p.work(ctx)
		})
	}

	return &p, nil
}

// Publish implements clickstream.Publisher.Publish.
func (p *Publisher) Publish(_ context.Context, msg clickstream.Message, onResult clickstream.DeliveryHandler) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return clickstream.ErrClosed
	}

	m := pending{
		doc: Document{
			ID:          fmt.Sprintf("message::%s::%s", msg.Topic, uuid.NewString()),
			Topic:       msg.Topic,
			Key:         string(msg.Key),
			Sequence:    p.sequence.Add(1) - 1,
			Payload:     json.RawMessage(msg.Value),
			PublishTime: time.Now().UTC(),
		},
		onResult: onResult,
	}

	p.outstanding.Add(1)
	select {
	case p.queue <- m:
		return nil
	default:
		p.outstanding.Add(-1)
		return fmt.Errorf("%w: %d messages queued", clickstream.ErrBufferFull, len(p.queue))
	}
}

// Poll implements clickstream.Publisher.Poll.
func (p *Publisher) Poll() int {
	var n int
	for {
		select {
		case c := <-p.completions:
			p.dispatch(c)
			n++
		default:
			return n
		}
	}
}

// Flush implements clickstream.Publisher.Flush.
func (p *Publisher) Flush(ctx context.Context, timeout time.Duration) int {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.Poll()
		if p.outstanding.Load() == 0 {
			return 0
		}

		select {
		case c := <-p.completions:
			p.dispatch(c)
		case <-timer.C:
			p.Poll()
			return int(p.outstanding.Load())
		case <-ctx.Done():
			return int(p.outstanding.Load())
		}
	}
}

// Close stops the workers and closes the store. Queued messages are dropped.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		p.cancel()
		_ = p.group.Wait()

		if err := p.store.Close(); err != nil {
			p.logger.Warn("failed to close document store", zap.Error(err))
		}
	})
}

func (p *Publisher) dispatch(c completion) {
	p.outstanding.Add(-1)
	if c.onResult != nil {
		c.onResult(c.report)
	}
}

func (p *Publisher) work(ctx context.Context) error {
	for m := range p.queue {
		if ctx.Err() != nil {
			return nil
		}

		c := completion{
			onResult: m.onResult,
			report: clickstream.DeliveryReport{
				Topic:  m.doc.Topic,
				Offset: m.doc.Sequence,
				Key:    []byte(m.doc.Key),
				Err:    p.insert(ctx, m.doc),
			},
		}

		select {
		case p.completions <- c:
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

func (p *Publisher) insert(ctx context.Context, doc Document) error {
	var err error
	for attempt := 0; attempt <= p.options.Retries; attempt++ {
		err = p.store.Insert(ctx, doc.ID, doc, &gocb.InsertOptions{Timeout: p.options.InsertTimeout})
		switch {
		case err == nil, errors.Is(err, gocb.ErrDocumentExists):
			// an earlier attempt may have landed before timing out
			return nil
		case !transient(err) || ctx.Err() != nil:
			return err
		}

		p.logger.Debug("retrying document insert",
			zap.String("id", doc.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return fmt.Errorf("insert failed after %d retries: %w", p.options.Retries, err)
}

func transient(err error) bool {
	return errors.Is(err, gocb.ErrTimeout) || errors.Is(err, gocb.ErrTemporaryFailure)
}
