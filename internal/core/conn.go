package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// Conn is one live transport session as seen by the core layer.
// The transport owns it; the Registry only keeps a reference while it is open.
type Conn struct {
	id       string
	identity atomic.Pointer[Identity]
	seq      atomic.Uint64
	lastSeen atomic.Int64
	out      *outbox
	live     *LiveBuffer

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn constructs a connection with an outbox of queueSize events and a live
// buffer keeping liveSize messages per conversation.
func NewConn(id string, queueSize, liveSize int) *Conn {
	c := &Conn{
		id:   id,
		out:  newOutbox(queueSize),
		live: NewLiveBuffer(liveSize),
		done: make(chan struct{}),
	}
	c.Touch()
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Bind attaches the connection to an identity. It succeeds once per connection.
func (c *Conn) Bind(ident Identity) error {
	if !c.identity.CompareAndSwap(nil, &ident) {
		return ErrAlreadyRegistered
	}
	return nil
}

// Identity returns the bound identity, if any.
func (c *Conn) Identity() (Identity, bool) {
	ident := c.identity.Load()
	if ident == nil {
		return Identity{}, false
	}
	return *ident, true
}

// Send queues an outbound event. It never blocks.
func (c *Conn) Send(ev Event) error {
	if err := c.out.push(ev); err != nil {
		return &DeliveryError{ConnID: c.id, Err: err}
	}
	if ev.Kind == EventChatMessage && ev.Message != nil {
		c.live.Add(*ev.Message)
	}
	return nil
}

// Ready is signalled when events may be waiting in the outbox.
func (c *Conn) Ready() <-chan struct{} {
	return c.out.notify
}

// Next pops the oldest queued event and stamps it with the next sequence number.
func (c *Conn) Next() (Event, bool) {
	ev, ok := c.out.pop()
	if !ok {
		return Event{}, false
	}
	ev.Seq = c.seq.Add(1)
	return ev, true
}

// Pending returns the number of queued outbound events.
func (c *Conn) Pending() int {
	return c.out.len()
}

// Live returns the buffer of chat messages seen on this connection.
func (c *Conn) Live() *LiveBuffer {
	return c.live
}

// Touch records a liveness signal.
func (c *Conn) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// IdleFor reports how long ago the last liveness signal arrived.
func (c *Conn) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

// Close drops pending outbound events. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.out.close()
		close(c.done)
	})
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
