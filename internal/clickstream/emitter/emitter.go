// Package emitter drives the produce loop: generate an event, hand it to the
// publisher, collect finished delivery reports, pace, repeat.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clickstream/internal/clickstream"
	"clickstream/internal/validator"
)

const (
	DefaultInterval            = 500 * time.Millisecond
	DefaultBackoffFlushTimeout = time.Second
	DefaultBackoffPause        = time.Second
)

// Source yields the next event to publish.
type Source interface {
	Next() (clickstream.Event, error)
}

// Options configures loop pacing. Zero values fall back to the defaults.
type Options struct {
	Topic string
	// Interval is the pause after each accepted submission.
	Interval time.Duration
	// BackoffFlushTimeout bounds the flush issued when the send buffer is full.
	BackoffFlushTimeout time.Duration
	// BackoffPause is the extra pause after that flush.
	BackoffPause time.Duration
	// MaxIterations stops the loop after that many iterations; 0 runs until cancelled.
	MaxIterations int
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.Topic == "" {
		o.Topic = clickstream.Topic
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.BackoffFlushTimeout <= 0 {
		o.BackoffFlushTimeout = DefaultBackoffFlushTimeout
	}
	if o.BackoffPause <= 0 {
		o.BackoffPause = DefaultBackoffPause
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// Emitter runs the produce loop against a single publisher.
type Emitter struct {
	publisher clickstream.Publisher
	source    Source
	logger    *zap.Logger
	options   Options
}

// New returns an Emitter. Publisher, source and logger are required.
func New(publisher clickstream.Publisher, source Source, logger *zap.Logger, options Options) (*Emitter, error) {
	if err := validator.Validate("emitter", publisher, source, logger); err != nil {
		return nil, err
	}

	return &Emitter{
		publisher: publisher,
		source:    source,
		logger:    logger.Named("emitter"),
		options:   options.withDefaults(),
	}, nil
}

// Run publishes events until ctx is cancelled or MaxIterations is reached,
// returning nil in both cases. Per-message failures are logged and the loop
// moves on; only a failure outside the publish attempt stops it.
func (e *Emitter) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("emitter loop panicked: %v", r)
		}
	}()

	for i := 0; e.options.MaxIterations == 0 || i < e.options.MaxIterations; i++ {
		if ctx.Err() != nil {
			return nil
		}

		event, err := e.source.Next()
		if err != nil {
			return fmt.Errorf("failed to generate event: %w", err)
		}

		err = e.publish(ctx, event)
		switch {
		case err == nil:
			e.publisher.Poll()
			if e.options.Sleep(ctx, e.options.Interval) != nil {
				return nil
			}
		case errors.Is(err, clickstream.ErrBufferFull):
			e.logger.Debug("send buffer full, flushing", zap.Duration("timeout", e.options.BackoffFlushTimeout))
			e.publisher.Flush(ctx, e.options.BackoffFlushTimeout)
			if e.options.Sleep(ctx, e.options.BackoffPause) != nil {
				return nil
			}
		default:
			e.logger.Error("error during message production", zap.String("topic", e.options.Topic), zap.Error(err))
		}
	}

	return nil
}

func (e *Emitter) publish(ctx context.Context, event clickstream.Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}

	return e.publisher.Publish(ctx, clickstream.Message{
		Topic: e.options.Topic,
		Key:   event.Key(),
		Value: payload,
	}, e.onDelivery)
}

// onDelivery only logs.
func (e *Emitter) onDelivery(r clickstream.DeliveryReport) {
	if r.Err != nil {
		e.logger.Warn("message delivery failed",
			zap.String("topic", r.Topic),
			zap.ByteString("key", r.Key),
			zap.Error(r.Err),
		)
		return
	}

	e.logger.Debug("message delivered",
		zap.String("topic", r.Topic),
		zap.Int32("partition", r.Partition),
		zap.Int64("offset", r.Offset),
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
