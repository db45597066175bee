package http

import (
	"time"

	"github.com/vovakirdan/wirechat-dm/internal/core"
	"github.com/vovakirdan/wirechat-dm/internal/proto"
)

func messageToProto(m core.Message) proto.EventMessage {
	return proto.EventMessage{
		ID:        m.ID,
		From:      m.SenderID,
		To:        m.RecipientID,
		Content:   m.Content,
		State:     m.State.String(),
		CreatedAt: m.CreatedAt.UnixMilli(),
	}
}

func messagesToProto(msgs []core.Message) []proto.EventMessage {
	out := make([]proto.EventMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToProto(m))
	}
	return out
}

func userToProto(ident *core.Identity, now time.Time) proto.EventUser {
	u := proto.EventUser{ID: ident.ID, Name: ident.Name, Online: ident.Online}
	if !ident.Online && !ident.LastActive.IsZero() {
		u.LastActive, _ = core.FormatLastActive(now, ident.LastActive)
	}
	return u
}

func errorToProto(e *core.CoreError) *proto.Error {
	if e == nil {
		return nil
	}
	return &proto.Error{Code: e.Code, Msg: e.Message}
}

func outboundFromEvent(event core.Event, now time.Time) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: event.Kind.String(), Seq: event.Seq}

	switch event.Kind {
	case core.EventChatMessage:
		if event.Message != nil {
			out.Data = messageToProto(*event.Message)
		}
	case core.EventSent:
		if event.Message != nil {
			out.Data = proto.EventSent{Message: messageToProto(*event.Message), Warning: errorToProto(event.Warning)}
		}
	case core.EventTyping:
		if event.Typing != nil {
			out.Data = proto.EventTyping{
				From: event.Typing.SenderID,
				To:   event.Typing.RecipientID,
				TS:   event.Typing.At.UnixMilli(),
			}
		}
	case core.EventRegistered, core.EventPresence:
		if event.Identity != nil {
			out.Data = userToProto(event.Identity, now)
		}
	case core.EventHistory:
		out.Data = proto.EventHistory{
			Peer:           event.PeerID,
			ConversationID: event.Conversation,
			Messages:       messagesToProto(event.Messages),
		}
	case core.EventPong:
		out.Data = proto.EventPong{TS: event.At.UnixMilli()}
	case core.EventError:
		out.Type = proto.OutboundTypeError
		out.Event = ""
		out.Error = errorToProto(event.Error)
		if out.Error == nil {
			out.Error = &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}
		}
	}
	return out
}
