package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic write lost against a concurrent update.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate is returned when a uniqueness constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate")
)

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	LastActiveAt *time.Time
	CreatedAt    time.Time
}

// Pair is an unordered pair of user ids, normalized so that Low <= High.
type Pair struct {
	Low  int64
	High int64
}

// NewPair normalizes two user ids into a Pair.
func NewPair(a, b int64) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{Low: a, High: b}
}

// Key returns the direct conversation key: "dm:{minUserId}:{maxUserId}".
func (p Pair) Key() string {
	return fmt.Sprintf("dm:%d:%d", p.Low, p.High)
}

// Has reports whether userID is one of the two members.
func (p Pair) Has(userID int64) bool {
	return p.Low == userID || p.High == userID
}

// Other returns the member of the pair that is not userID.
func (p Pair) Other(userID int64) int64 {
	if p.Low == userID {
		return p.High
	}
	return p.Low
}

// HistoryCursor is a position in a conversation's (CreatedAt, ID) order.
type HistoryCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the position of m.
func CursorOf(m *Message) *HistoryCursor {
	return &HistoryCursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Message represents a persisted direct message.
type Message struct {
	ID          string
	SenderID    int64
	RecipientID int64
	Body        string
	CreatedAt   time.Time
}

// FriendStatus defines friend relationship status.
type FriendStatus string

const (
	FriendStatusNone     FriendStatus = "none"
	FriendStatusPending  FriendStatus = "pending"
	FriendStatusAccepted FriendStatus = "accepted"
	FriendStatusRejected FriendStatus = "rejected"
	FriendStatusCanceled FriendStatus = "canceled"
)

// Terminal reports whether no further transition is possible from the status.
func (s FriendStatus) Terminal() bool {
	switch s {
	case FriendStatusAccepted, FriendStatusRejected, FriendStatusCanceled:
		return true
	default:
		return false
	}
}

// FriendRequest is one friend relationship record between a requester and a target.
// Version increases by one on every persisted transition.
type FriendRequest struct {
	ID          int64
	RequesterID int64
	TargetID    int64
	Status      FriendStatus
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Pair returns the unordered pair the request belongs to.
func (f *FriendRequest) Pair() Pair {
	return NewPair(f.RequesterID, f.TargetID)
}

// FriendDirection selects which side of a request ListFriendRequests matches on.
type FriendDirection int

const (
	// DirectionAny matches requests where the user is either side.
	DirectionAny FriendDirection = iota
	// DirectionIncoming matches requests targeting the user.
	DirectionIncoming
	// DirectionOutgoing matches requests sent by the user.
	DirectionOutgoing
)

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SearchUsers searches for users by username.
	SearchUsers(ctx context.Context, query string) ([]*User, error)

	// TouchLastActive records when the user was last seen online.
	TouchLastActive(ctx context.Context, userID int64, at time.Time) error
}

// MessageStore is the durable history of direct messages.
type MessageStore interface {
	// AppendMessage persists a message. The message id is assigned by the caller.
	AppendMessage(ctx context.Context, msg *Message) error

	// FetchHistory returns up to limit messages exchanged by the pair that sort strictly
	// after the cursor, in ascending (CreatedAt, ID) order. A nil cursor starts at the
	// oldest message. A page shorter than limit means the history is exhausted.
	FetchHistory(ctx context.Context, pair Pair, after *HistoryCursor, limit int) ([]*Message, error)
}

// FriendStore handles friend relationship persistence.
type FriendStore interface {
	// CreateFriendRequest inserts a pending request. Returns ErrDuplicate if the pair
	// already has a pending request.
	CreateFriendRequest(ctx context.Context, requesterID, targetID int64) (*FriendRequest, error)

	// GetFriendRequest retrieves a request by ID.
	GetFriendRequest(ctx context.Context, id int64) (*FriendRequest, error)

	// LoadRelationship returns the most recent record for the pair, or ErrNotFound.
	LoadRelationship(ctx context.Context, pair Pair) (*FriendRequest, error)

	// SaveTransition persists rec.Status if the stored record is still pending at
	// expectedVersion. Returns ErrConflict otherwise. On success rec.Version and
	// rec.UpdatedAt are refreshed.
	SaveTransition(ctx context.Context, rec *FriendRequest, expectedVersion int64) error

	// ListFriendRequests lists a user's requests by direction and optional status,
	// newest first.
	ListFriendRequests(ctx context.Context, userID int64, dir FriendDirection, status *FriendStatus) ([]*FriendRequest, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	FriendStore

	// Close closes the underlying database connection.
	Close() error
}
