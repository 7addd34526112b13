package mqtt

import "github.com/sirupsen/logrus"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	// latestOnly messages are snapshots: a newer one on the same topic
	// replaces the buffered one instead of taking another slot.
	latestOnly bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Telemetry snapshots coalesce, so a long outage evicts old snapshots rather
// than pump events. Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
	dropped  int  // total messages dropped since creation
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if msg.latestOnly {
		if i, ok := r.find(msg.topic); ok {
			r.buf[i] = msg
			return
		}
	}

	if r.count == r.capacity {
		if !r.overflow {
			logrus.WithField("component", "mqtt").Warnf("buffer full (%d messages), dropping oldest", r.capacity)
			r.overflow = true
		}
		r.dropped++
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

// find returns the slot of the buffered snapshot for topic.
func (r *ringBuffer) find(topic string) (int, bool) {
	start := r.oldest()
	for i := 0; i < r.count; i++ {
		j := (start + i) % r.capacity
		if r.buf[j].latestOnly && r.buf[j].topic == topic {
			return j, true
		}
	}
	return 0, false
}

func (r *ringBuffer) oldest() int {
	return (r.head - r.count + r.capacity) % r.capacity
}

func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	start := r.oldest()
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
