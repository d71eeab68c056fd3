package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Pulser receives server ticks.
type Pulser interface {
	ServerTick()
}

// PulserFunc adapts a function to Pulser.
type PulserFunc func()

// ServerTick implements Pulser.
func (f PulserFunc) ServerTick() { f() }

// Drive calls p.ServerTick every interval until ctx is done, then returns
// ctx.Err(). Pulses are delivered from a single goroutine; a pulse that
// overruns the interval delays the next one rather than overlapping it.
func Drive(ctx context.Context, interval time.Duration, p Pulser) error {
	if interval <= 0 {
		return fmt.Errorf("%w: tick interval %v", ErrSchedulerMisuse, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.ServerTick()
		}
	}
}
