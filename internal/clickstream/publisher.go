package clickstream

import (
	"context"
	"errors"
	"time"
)

// ErrBufferFull is returned by Publisher.Publish when the client's local send
// buffer cannot accept another message. Drivers wrap it, so match with errors.Is.
var ErrBufferFull = errors.New("publish buffer full")

// ErrClosed is returned by Publisher.Publish after Close.
var ErrClosed = errors.New("publisher closed")

// Message is a single keyed payload bound for a topic.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// DeliveryReport is the broker's verdict on one message.
type DeliveryReport struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	// Err is nil when the broker acknowledged the message.
	Err error
}

// DeliveryHandler receives the report for a message once it is acknowledged
// or rejected. Handlers run on the goroutine calling Poll or Flush and must
// return quickly without blocking.
type DeliveryHandler func(DeliveryReport)

// Publisher defines the asynchronous publish client the emitter drives.
type Publisher interface {
	// Publish hands msg to the client without waiting for the broker. The
	// handler is invoked exactly once if Publish returns nil.
	Publish(ctx context.Context, msg Message, onResult DeliveryHandler) error

	// Poll dispatches delivery reports that have already completed and
	// returns how many handlers ran. It never blocks.
	Poll() int

	// Flush blocks until every outstanding message is delivered or timeout
	// elapses, dispatching handlers as reports arrive. It returns the number
	// of messages still outstanding.
	Flush(ctx context.Context, timeout time.Duration) int

	// Close releases the client. Outstanding messages are abandoned.
	Close()
}
