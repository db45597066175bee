package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeRegister    = "register"
	InboundTypeChatMessage = "chat_message"
	InboundTypeTyping      = "typing"
	InboundTypeOpen        = "open"
	InboundTypePing        = "ping"
	InboundTypeDisconnect  = "disconnect"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Errors returned by Decode.
var (
	ErrMalformed    = errors.New("malformed frame")
	ErrUnknownType  = errors.New("unknown frame type")
	ErrMissingPeer  = errors.New("missing peer")
	ErrMissingToken = errors.New("missing token")
)

// RegisterData binds the connection to the identity behind Token.
type RegisterData struct {
	Token string `json:"token"`
}

// ChatMessageData is a chat message from the client.
type ChatMessageData struct {
	To      int64  `json:"to"`
	Content string `json:"content"`
}

// TypingData tells To that the sender is typing.
type TypingData struct {
	To int64 `json:"to"`
}

// OpenData asks for the history of the conversation with Peer.
type OpenData struct {
	Peer int64 `json:"peer"`
}

// Frame is a decoded inbound frame. Exactly one payload field matching Type is set;
// ping and disconnect carry none.
type Frame struct {
	Type     string
	Register *RegisterData
	Chat     *ChatMessageData
	Typing   *TypingData
	Open     *OpenData
}

// Decode parses and validates a raw inbound frame.
func Decode(raw []byte) (Frame, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	f := Frame{Type: strings.TrimSpace(in.Type)}
	switch f.Type {
	case InboundTypeRegister:
		var d RegisterData
		if err := decodeData(in.Data, &d); err != nil {
			return Frame{}, err
		}
		if strings.TrimSpace(d.Token) == "" {
			return Frame{}, ErrMissingToken
		}
		f.Register = &d
	case InboundTypeChatMessage:
		var d ChatMessageData
		if err := decodeData(in.Data, &d); err != nil {
			return Frame{}, err
		}
		if d.To <= 0 {
			return Frame{}, ErrMissingPeer
		}
		f.Chat = &d
	case InboundTypeTyping:
		var d TypingData
		if err := decodeData(in.Data, &d); err != nil {
			return Frame{}, err
		}
		if d.To <= 0 {
			return Frame{}, ErrMissingPeer
		}
		f.Typing = &d
	case InboundTypeOpen:
		var d OpenData
		if err := decodeData(in.Data, &d); err != nil {
			return Frame{}, err
		}
		if d.Peer <= 0 {
			return Frame{}, ErrMissingPeer
		}
		f.Open = &d
	case InboundTypePing, InboundTypeDisconnect:
	case "":
		return Frame{}, fmt.Errorf("%w: empty type", ErrMalformed)
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return f, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Seq   uint64 `json:"seq,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage is a chat message as seen by clients.
type EventMessage struct {
	ID        string `json:"id"`
	From      int64  `json:"from"`
	To        int64  `json:"to"`
	Content   string `json:"content"`
	State     string `json:"state"`
	CreatedAt int64  `json:"created_at"` // unix millis
}

// EventSent acknowledges a routed message to its sender. Warning is set when the
// message was delivered live but could not be stored.
type EventSent struct {
	Message EventMessage `json:"message"`
	Warning *Error       `json:"warning,omitempty"`
}

// EventTyping notifies that From is typing to the receiving user.
type EventTyping struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
	TS   int64 `json:"ts"`
}

// EventUser describes an identity and its presence.
type EventUser struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Online     bool   `json:"online"`
	LastActive string `json:"last_active,omitempty"`
}

// EventHistory carries the ordered messages of one conversation.
type EventHistory struct {
	Peer           int64          `json:"peer"`
	ConversationID string         `json:"conversation_id"`
	Messages       []EventMessage `json:"messages"`
}

// EventPong answers a ping.
type EventPong struct {
	TS int64 `json:"ts"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
