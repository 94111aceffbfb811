package mqtt

import "log"

// outboxCapacity bounds how many messages are held while the broker is away.
// At human click rates this covers several minutes of measurement.
const outboxCapacity = 256

// pending is a message waiting for the broker to come back.
type pending struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while disconnected. When full, the oldest
// message is overwritten. Not safe for concurrent use.
type outbox struct {
	slots []pending
	start int // oldest message
	n     int
	lost  int // overwritten since the last take
}

func newOutbox(capacity int) *outbox {
	return &outbox{slots: make([]pending, capacity)}
}

func (o *outbox) add(m pending) {
	size := len(o.slots)
	if o.n < size {
		o.slots[(o.start+o.n)%size] = m
		o.n++
		return
	}
	if o.lost == 0 {
		log.Printf("mqtt: offline buffer full (%d messages), dropping oldest", size)
	}
	o.lost++
	o.slots[o.start] = m
	o.start = (o.start + 1) % size
}

// take empties the outbox, returning messages oldest first and the number
// overwritten since the previous take.
func (o *outbox) take() ([]pending, int) {
	lost := o.lost
	o.lost = 0
	if o.n == 0 {
		return nil, lost
	}

	out := make([]pending, 0, o.n)
	for i := 0; i < o.n; i++ {
		out = append(out, o.slots[(o.start+i)%len(o.slots)])
	}
	o.start, o.n = 0, 0
	return out, lost
}

func (o *outbox) size() int {
	return o.n
}
