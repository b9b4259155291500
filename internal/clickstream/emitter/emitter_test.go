package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"clickstream/internal/clickstream"
	"clickstream/internal/clickstream/clickstreamtest"
	"clickstream/internal/clickstream/generator"
)

type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.durations = append(s.durations, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.durations...)
}

type failingSource struct{ err error }

func (s *failingSource) Next() (clickstream.Event, error) {
	return clickstream.Event{}, s.err
}

func newEmitter(t *testing.T, pub clickstream.Publisher, level zapcore.Level, opts Options) (*Emitter, *sleepRecorder, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(level)
	sleeper := &sleepRecorder{}
	if opts.Sleep == nil {
		opts.Sleep = sleeper.sleep
	}

	e, err := New(pub, generator.New(), zap.New(core), opts)
	require.NoError(t, err)

	return e, sleeper, logs
}

func repeat(d time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}

func TestRun_OnePublishPerIteration(t *testing.T) {
	pub := &clickstreamtest.Publisher{}
	e, sleeper, _ := newEmitter(t, pub, zapcore.WarnLevel, Options{MaxIterations: 100})

	require.NoError(t, e.Run(context.Background()))

	ops := pub.Ops()
	require.Len(t, ops, 200)
	for i := 0; i < len(ops); i += 2 {
		assert.Equal(t, clickstreamtest.OpPublish, ops[i], "op %d", i)
		assert.Equal(t, clickstreamtest.OpPoll, ops[i+1], "op %d", i+1)
	}
	assert.Equal(t, repeat(500*time.Millisecond, 100), sleeper.recorded())
}

func TestRun_PayloadAndKey(t *testing.T) {
	pub := &clickstreamtest.Publisher{}
	e, _, _ := newEmitter(t, pub, zapcore.WarnLevel, Options{MaxIterations: 5})

	require.NoError(t, e.Run(context.Background()))

	seen := make(map[string]struct{})
	for _, c := range pub.Calls() {
		if c.Op != clickstreamtest.OpPublish {
			continue
		}
		assert.Equal(t, clickstream.Topic, c.Message.Topic)

		event, err := clickstream.DecodeEvent(c.Message.Value)
		require.NoError(t, err)
		assert.Equal(t, []byte(event.SessionToken), c.Message.Key)

		_, dup := seen[event.EventIdentifier]
		assert.False(t, dup)
		seen[event.EventIdentifier] = struct{}{}
	}
	assert.Len(t, seen, 5)
}

func TestRun_BufferFullFlushesAndPauses(t *testing.T) {
	pub := &clickstreamtest.Publisher{
		PublishErrs: []error{fmt.Errorf("queue: %w", clickstream.ErrBufferFull)},
	}
	e, sleeper, _ := newEmitter(t, pub, zapcore.WarnLevel, Options{MaxIterations: 3})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{
		clickstreamtest.OpPublish,
		clickstreamtest.OpFlush,
		clickstreamtest.OpPublish,
		clickstreamtest.OpPoll,
		clickstreamtest.OpPublish,
		clickstreamtest.OpPoll,
	}, pub.Ops())
	assert.Equal(t, time.Second, pub.Calls()[1].Timeout)
	assert.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond, 500 * time.Millisecond}, sleeper.recorded())
}

func TestRun_OtherErrorsAreLoggedWithoutPause(t *testing.T) {
	pub := &clickstreamtest.Publisher{
		PublishErrs: []error{errors.New("unknown topic"), errors.New("unknown topic")},
	}
	e, sleeper, logs := newEmitter(t, pub, zapcore.WarnLevel, Options{MaxIterations: 3})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{
		clickstreamtest.OpPublish,
		clickstreamtest.OpPublish,
		clickstreamtest.OpPublish,
		clickstreamtest.OpPoll,
	}, pub.Ops())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeper.recorded())

	errs := logs.FilterMessage("error during message production").All()
	require.Len(t, errs, 2)
	assert.Equal(t, zapcore.ErrorLevel, errs[0].Level)
	assert.Equal(t, "unknown topic", errs[0].ContextMap()["error"])
}

func TestRun_StopsGeneratingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &clickstreamtest.Publisher{
		OnPublish: func(n int) {
			if n == 3 {
				cancel()
			}
		},
	}
	e, sleeper, _ := newEmitter(t, pub, zapcore.WarnLevel, Options{})

	require.NoError(t, e.Run(ctx))

	assert.Equal(t, 3, pub.Count(clickstreamtest.OpPublish))
	assert.Len(t, sleeper.recorded(), 3)
	assert.Zero(t, pub.Count(clickstreamtest.OpFlush))
}

func TestRun_CancelInterruptsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	published := make(chan struct{}, 1)
	pub := &clickstreamtest.Publisher{
		OnPublish: func(int) {
			select {
			case published <- struct{}{}:
			default:
			}
		},
	}
	e, err := New(pub, generator.New(), zap.NewNop(), Options{Interval: time.Hour})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	<-published
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.Equal(t, 1, pub.Count(clickstreamtest.OpPublish))
}

func TestRun_SourceFailureStopsLoop(t *testing.T) {
	pub := &clickstreamtest.Publisher{}
	boom := errors.New("entropy exhausted")
	e, err := New(pub, &failingSource{err: boom}, zap.NewNop(), Options{})
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, pub.Count(clickstreamtest.OpPublish))
}

func TestRun_PanicIsReturned(t *testing.T) {
	pub := &clickstreamtest.Publisher{
		OnPublish: func(int) { panic("driver state corrupted") },
	}
	e, _, _ := newEmitter(t, pub, zapcore.WarnLevel, Options{})

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver state corrupted")
}

func TestOnDelivery_Logging(t *testing.T) {
	t.Run("failure warns", func(t *testing.T) {
		pub := &clickstreamtest.Publisher{DeliveryErr: errors.New("Broker: Not enough in-sync replicas")}
		e, _, logs := newEmitter(t, pub, zapcore.WarnLevel, Options{MaxIterations: 2})

		require.NoError(t, e.Run(context.Background()))

		warns := logs.FilterMessage("message delivery failed").All()
		require.Len(t, warns, 2)
		assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
		assert.Equal(t, clickstream.Topic, warns[0].ContextMap()["topic"])
		assert.Equal(t, "Broker: Not enough in-sync replicas", warns[0].ContextMap()["error"])
	})

	t.Run("success is debug only", func(t *testing.T) {
		pub := &clickstreamtest.Publisher{}
		e, _, logs := newEmitter(t, pub, zapcore.WarnLevel, Options{MaxIterations: 2})

		require.NoError(t, e.Run(context.Background()))
		assert.Zero(t, logs.Len())
	})

	t.Run("success visible at debug", func(t *testing.T) {
		pub := &clickstreamtest.Publisher{}
		e, _, logs := newEmitter(t, pub, zapcore.DebugLevel, Options{MaxIterations: 2})

		require.NoError(t, e.Run(context.Background()))
		assert.Equal(t, 2, logs.FilterMessage("message delivered").Len())
	})
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(nil, generator.New(), zap.NewNop(), Options{})
	require.Error(t, err)
}

func TestDrain(t *testing.T) {
	t.Run("reports lost messages", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		pub := &clickstreamtest.Publisher{Remaining: 7}

		lost := Drain(pub, DefaultDrainTimeout, zap.New(core))

		assert.Equal(t, 7, lost)
		calls := pub.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, clickstreamtest.OpFlush, calls[0].Op)
		assert.Equal(t, 10*time.Second, calls[0].Timeout)

		entries := logs.All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, "7 messages were not delivered", entries[0].Message)
		assert.Equal(t, int64(7), entries[0].ContextMap()["lost"])
	})

	t.Run("quiet when everything landed", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		pub := &clickstreamtest.Publisher{}

		assert.Zero(t, Drain(pub, DefaultDrainTimeout, zap.New(core)))
		assert.Zero(t, logs.Len())
	})
}
