package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventChatMessage delivers a chat message to a recipient connection.
	EventChatMessage EventKind = iota
	// EventTyping notifies the recipient that a friend is typing.
	EventTyping
	// EventRegistered confirms that the connection is bound to an identity.
	EventRegistered
	// EventSent acknowledges a routed message back to the sending connection.
	EventSent
	// EventHistory delivers the reconciled history of a conversation.
	EventHistory
	// EventPresence notifies a friend going online or offline.
	EventPresence
	// EventPong answers a client ping.
	EventPong
	// EventError notifies clients about a domain error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChatMessage:
		return "chat_message"
	case EventTyping:
		return "typing"
	case EventRegistered:
		return "registered"
	case EventSent:
		return "sent"
	case EventHistory:
		return "history"
	case EventPresence:
		return "presence"
	case EventPong:
		return "pong"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
// Seq is assigned by the connection when the event leaves its outbox.
type Event struct {
	Kind         EventKind
	Seq          uint64
	Identity     *Identity     // EventRegistered, EventPresence
	Message      *Message      // EventChatMessage, EventSent
	Typing       *TypingSignal // EventTyping
	PeerID       int64         // EventHistory
	Conversation string        // EventHistory
	Messages     []Message     // EventHistory
	Warning      *CoreError    // EventSent when the message was not stored
	Error        *CoreError    // EventError
	At           time.Time
}

// ErrorEvent builds an EventError for err.
func ErrorEvent(err error) Event {
	return Event{Kind: EventError, Error: ErrorFor(err), At: time.Now()}
}
