package core

import (
	"cmp"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// DeliveryState tracks how far a message has travelled. It only moves forward.
type DeliveryState int

const (
	// StateQueued is the state of a freshly created message.
	StateQueued DeliveryState = iota
	// StateDelivered marks a copy pushed onto a live recipient connection.
	StateDelivered
	// StateAcknowledged marks a message the history store has durably recorded.
	StateAcknowledged
)

func (s DeliveryState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateDelivered:
		return "delivered"
	case StateAcknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// Message is the domain model for a direct chat message.
type Message struct {
	ID          string
	SenderID    int64
	RecipientID int64
	Content     string
	CreatedAt   time.Time
	State       DeliveryState
}

// Pair returns the conversation the message belongs to.
func (m Message) Pair() store.Pair {
	return store.NewPair(m.SenderID, m.RecipientID)
}

// Advance returns a copy of m moved to state s, or m unchanged if s is not ahead.
func (m Message) Advance(s DeliveryState) Message {
	if s > m.State {
		m.State = s
	}
	return m
}

// compareMessages orders by creation time, then by id.
func compareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func messageFromRecord(rec *store.Message) Message {
	return Message{
		ID:          rec.ID,
		SenderID:    rec.SenderID,
		RecipientID: rec.RecipientID,
		Content:     rec.Body,
		CreatedAt:   rec.CreatedAt,
		State:       StateAcknowledged,
	}
}

func messageToRecord(m Message) *store.Message {
	return &store.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Body:        m.Content,
		CreatedAt:   m.CreatedAt,
	}
}

// TypingSignal is an ephemeral "is typing" notice. The latest one per sender wins.
type TypingSignal struct {
	SenderID    int64
	RecipientID int64
	At          time.Time
}

// Identity is an authenticated user as seen by the realtime core.
type Identity struct {
	ID         int64
	Name       string
	Online     bool
	LastActive time.Time
}

// ValidateContent trims content and checks it against maxRunes (0 disables the limit).
func ValidateContent(content string, maxRunes int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if maxRunes > 0 && len([]rune(trimmed)) > maxRunes {
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}
