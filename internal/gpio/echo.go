package gpio

import (
	"context"
	"time"
)

// Edge is one transition of the echo line. At is the kernel event timestamp.
type Edge struct {
	Rising bool
	At     time.Duration
}

// EchoTimer pairs rising and falling edges of the echo line.
// Observe is called from the line event handler goroutine; wait runs on the
// caller of Ranger.Ping.
type EchoTimer struct {
	edges chan Edge
}

// NewEchoTimer creates an EchoTimer with room for a few pending edges.
func NewEchoTimer() *EchoTimer {
	return &EchoTimer{edges: make(chan Edge, 8)}
}

// Observe records an edge. Edges are dropped if nobody is waiting and the
// buffer is full.
func (e *EchoTimer) Observe(edge Edge) {
	select {
	case e.edges <- edge:
	default:
	}
}

func (e *EchoTimer) drain() {
	for {
		select {
		case <-e.edges:
		default:
			return
		}
	}
}

// wait blocks until a rising edge followed by a falling edge arrives and
// returns the time between them. Zero means ctx expired first or the pulse
// exceeded limit.
func (e *EchoTimer) wait(ctx context.Context, limit time.Duration) time.Duration {
	var (
		rise   time.Duration
		rising bool
	)
	for {
		select {
		case <-ctx.Done():
			return 0
		case edge := <-e.edges:
			switch {
			case edge.Rising:
				rise, rising = edge.At, true
			case rising:
				width := edge.At - rise
				if width <= 0 || width > limit {
					return 0
				}
				return width
			}
		}
	}
}
