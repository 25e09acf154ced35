package telemetry

import (
	"context"
)

// DefaultQueueSize is the number of signals buffered between the MQTT
// delivery goroutine and the control loop.
const DefaultQueueSize = 64

// Queue is a bounded FIFO of signals with a single consumer.
type Queue struct {
	ch chan Signal
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Signal, size)}
}

// Deliver blocks until sig is queued or ctx is done.
func (q *Queue) Deliver(ctx context.Context, sig Signal) error {
	select {
	case q.ch <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is drained by the control loop only.
func (q *Queue) C() <-chan Signal {
	return q.ch
}

// Len returns the number of queued signals.
func (q *Queue) Len() int {
	return len(q.ch)
}
