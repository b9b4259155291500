// Package supervisor owns the publisher for the lifetime of the process and
// walks it through INITIALIZING, RUNNING, DRAINING and TERMINATED.
package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clickstream/internal/clickstream"
	"clickstream/internal/clickstream/emitter"
	"clickstream/internal/validator"
)

const (
	ExitOK                  = 0
	ExitConstructionFailure = 1
)

// Dialer constructs the publish client.
type Dialer func() (clickstream.Publisher, error)

// Supervisor dials the publisher, runs the emitter and drains on shutdown.
type Supervisor struct {
	dial         Dialer
	source       emitter.Source
	logger       *zap.Logger
	options      emitter.Options
	drainTimeout time.Duration
	lifecycle    *emitter.Lifecycle
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithEmitterOptions overrides the loop pacing, mostly for tests.
func WithEmitterOptions(options emitter.Options) Option {
	return func(s *Supervisor) {
		s.options = options
	}
}

// WithDrainTimeout overrides the final flush timeout.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.drainTimeout = d
	}
}

// New returns a Supervisor. The publisher is not dialed until Run.
func New(dial Dialer, source emitter.Source, logger *zap.Logger, opts ...Option) (*Supervisor, error) {
	if err := validator.Validate("supervisor", dial, source, logger); err != nil {
		return nil, err
	}

	s := Supervisor{
		dial:         dial,
		source:       source,
		logger:       logger,
		drainTimeout: emitter.DefaultDrainTimeout,
		lifecycle:    emitter.NewLifecycle(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	return &s, nil
}

// Lifecycle exposes the state machine for inspection.
func (s *Supervisor) Lifecycle() *emitter.Lifecycle {
	return s.lifecycle
}

// Run drives the process until ctx is cancelled and returns the exit code.
// Cancelling ctx is the only way to request shutdown.
func (s *Supervisor) Run(ctx context.Context) int {
	publisher, err := s.dial()
	if err != nil {
		s.logger.Error("publish client initialization failed", zap.Error(err))
		s.transition(emitter.Terminated)
		return ExitConstructionFailure
	}
	defer publisher.Close()

	e, err := emitter.New(publisher, s.source, s.logger, s.options)
	if err != nil {
		s.logger.Error("emitter initialization failed", zap.Error(err))
		s.transition(emitter.Terminated)
		return ExitConstructionFailure
	}

	s.transition(emitter.Running)

	if err := e.Run(ctx); err != nil {
		s.logger.Error("main loop failed unexpectedly", zap.Error(err))
	}

	s.transition(emitter.Draining)
	emitter.Drain(publisher, s.drainTimeout, s.logger)
	s.transition(emitter.Terminated)

	return ExitOK
}

func (s *Supervisor) transition(to emitter.State) {
	if err := s.lifecycle.Transition(to); err != nil {
		s.logger.Error("lifecycle violation", zap.Error(err))
		return
	}

	s.logger.Info("emitter state changed", zap.Stringer("state", to))
}
