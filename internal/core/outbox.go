package core

import "sync"

// outbox is the outbound queue of one connection. It is a bounded FIFO with one
// twist: a typing signal replaces an undelivered typing signal from the same sender,
// unless a chat message from that sender was queued after it.
type outbox struct {
	mu     sync.Mutex
	items  []Event
	limit  int
	closed bool
	notify chan struct{}
}

func newOutbox(limit int) *outbox {
	if limit <= 0 {
		limit = 64
	}
	return &outbox{
		items:  make([]Event, 0, limit),
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

func (o *outbox) push(ev Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrConnectionClosed
	}

	if ev.Kind == EventTyping && ev.Typing != nil {
		if i := o.supersedable(ev.Typing.SenderID); i >= 0 {
			o.items[i] = ev
			return nil
		}
	}

	if len(o.items) >= o.limit {
		return ErrOutboxFull
	}
	o.items = append(o.items, ev)

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// supersedable returns the index of a queued typing signal from sender that a newer
// one may replace, or -1.
func (o *outbox) supersedable(sender int64) int {
	for i := len(o.items) - 1; i >= 0; i-- {
		it := o.items[i]
		switch {
		case it.Kind == EventChatMessage && it.Message != nil && it.Message.SenderID == sender:
			return -1
		case it.Kind == EventTyping && it.Typing != nil && it.Typing.SenderID == sender:
			return i
		}
	}
	return -1
}

func (o *outbox) pop() (Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || len(o.items) == 0 {
		return Event{}, false
	}
	ev := o.items[0]
	o.items[0] = Event{}
	o.items = o.items[1:]
	if len(o.items) == 0 {
		o.items = o.items[:0:0]
	}
	return ev, true
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// close drops everything still queued and rejects further pushes.
func (o *outbox) close() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0
	}
	o.closed = true
	dropped := len(o.items)
	o.items = nil
	return dropped
}
