package emitter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clickstream/internal/clickstream"
)

// DefaultDrainTimeout bounds the final flush on shutdown.
const DefaultDrainTimeout = 10 * time.Second

// Drain flushes outstanding messages for at most timeout and returns how many
// were lost. Lost messages are reported, never retried.
func Drain(publisher clickstream.Publisher, timeout time.Duration, logger *zap.Logger) int {
	// the run context is already cancelled by the time we drain
	lost := publisher.Flush(context.Background(), timeout)
	if lost > 0 {
		logger.Error(fmt.Sprintf("%d messages were not delivered", lost),
			zap.Int("lost", lost),
			zap.Duration("timeout", timeout),
		)
	}

	return lost
}
