package friends

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// Common errors for friend operations.
var (
	ErrCannotFriendSelf = errors.New("cannot send friend request to yourself")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrAlreadyPending   = errors.New("friend request already pending")
	ErrNotAuthorized    = errors.New("not allowed to change this friend request")
	ErrInvalidState     = errors.New("friend request is no longer pending")
	ErrRequestNotFound  = errors.New("friend request not found")
	ErrUserNotFound     = errors.New("user not found")
)

// Friend is an accepted relationship as seen from one user.
type Friend struct {
	UserID   int64
	Username string
	Request  *store.FriendRequest
}

// Service provides friend management business logic.
type Service struct {
	users   store.UserStore
	friends store.FriendStore
	log     *zerolog.Logger

	// pairLocks serializes request creation per unordered pair.
	pairLocks *xsync.MapOf[store.Pair, *sync.Mutex]
}

// New creates a new friend Service.
func New(users store.UserStore, friends store.FriendStore, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		users:     users,
		friends:   friends,
		log:       logger,
		pairLocks: xsync.NewMapOf[store.Pair, *sync.Mutex](),
	}
}

func (s *Service) lockPair(pair store.Pair) func() {
	mu, _ := s.pairLocks.LoadOrCompute(pair, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}

// SendRequest sends a friend request from one user to another.
func (s *Service) SendRequest(ctx context.Context, fromUserID, toUserID int64) (*store.FriendRequest, error) {
	if fromUserID == toUserID {
		return nil, ErrCannotFriendSelf
	}

	if _, err := s.users.GetUserByID(ctx, toUserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get target user: %w", err)
	}

	pair := store.NewPair(fromUserID, toUserID)
	unlock := s.lockPair(pair)
	defer unlock()

	existing, err := s.friends.LoadRelationship(ctx, pair)
	switch {
	case err == nil:
		switch existing.Status {
		case store.FriendStatusAccepted:
			return nil, ErrAlreadyFriends
		case store.FriendStatusPending:
			return nil, ErrAlreadyPending
		}
		// rejected and canceled records allow a fresh request
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("load relationship: %w", err)
	}

	req, err := s.friends.CreateFriendRequest(ctx, fromUserID, toUserID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyPending
		}
		return nil, fmt.Errorf("create friend request: %w", err)
	}

	s.log.Info().
		Int64("request_id", req.ID).
		Int64("user_id", fromUserID).
		Int64("peer_id", toUserID).
		Msg("friend request sent")
	return req, nil
}

// Accept accepts a pending request. Only the target may accept.
func (s *Service) Accept(ctx context.Context, requestID, by int64) (*store.FriendRequest, error) {
	return s.transition(ctx, requestID, by, store.FriendStatusAccepted)
}

// Reject rejects a pending request. Only the target may reject.
func (s *Service) Reject(ctx context.Context, requestID, by int64) (*store.FriendRequest, error) {
	return s.transition(ctx, requestID, by, store.FriendStatusRejected)
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (s *Service) Cancel(ctx context.Context, requestID, by int64) (*store.FriendRequest, error) {
	return s.transition(ctx, requestID, by, store.FriendStatusCanceled)
}

func (s *Service) transition(ctx context.Context, requestID, by int64, to store.FriendStatus) (*store.FriendRequest, error) {
	req, err := s.friends.GetFriendRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get friend request: %w", err)
	}

	allowed := req.TargetID
	if to == store.FriendStatusCanceled {
		allowed = req.RequesterID
	}
	if by != allowed {
		return nil, ErrNotAuthorized
	}
	if req.Status != store.FriendStatusPending {
		return nil, ErrInvalidState
	}

	expected := req.Version
	req.Status = to
	if err := s.friends.SaveTransition(ctx, req, expected); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("save transition: %w", err)
	}

	s.log.Info().
		Int64("request_id", req.ID).
		Int64("user_id", by).
		Str("status", string(to)).
		Msg("friend request updated")
	return req, nil
}

// Relationship returns the current state for a pair, FriendStatusNone if they never
// had a request.
func (s *Service) Relationship(ctx context.Context, userID, otherID int64) (store.FriendStatus, error) {
	rec, err := s.friends.LoadRelationship(ctx, store.NewPair(userID, otherID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.FriendStatusNone, nil
		}
		return "", fmt.Errorf("load relationship: %w", err)
	}
	return rec.Status, nil
}

// IsFriend checks if two users have an accepted relationship.
func (s *Service) IsFriend(ctx context.Context, userID, otherID int64) (bool, error) {
	if userID == otherID {
		return false, nil
	}
	status, err := s.Relationship(ctx, userID, otherID)
	if err != nil {
		return false, err
	}
	return status == store.FriendStatusAccepted, nil
}

// FriendIDs returns the ids of the user's accepted friends.
func (s *Service) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	accepted := store.FriendStatusAccepted
	reqs, err := s.friends.ListFriendRequests(ctx, userID, store.DirectionAny, &accepted)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.Pair().Other(userID))
	}
	return ids, nil
}

// ListFriends returns all accepted friends of a user with their usernames.
func (s *Service) ListFriends(ctx context.Context, userID int64) ([]Friend, error) {
	accepted := store.FriendStatusAccepted
	reqs, err := s.friends.ListFriendRequests(ctx, userID, store.DirectionAny, &accepted)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	out := make([]Friend, 0, len(reqs))
	for _, r := range reqs {
		otherID := r.Pair().Other(userID)
		user, err := s.users.GetUserByID(ctx, otherID)
		if err != nil {
			s.log.Warn().Err(err).Int64("user_id", otherID).Msg("friend user lookup failed")
			continue
		}
		out = append(out, Friend{UserID: otherID, Username: user.Username, Request: r})
	}
	return out, nil
}

// ListIncoming returns pending requests addressed to the user.
func (s *Service) ListIncoming(ctx context.Context, userID int64) ([]*store.FriendRequest, error) {
	return s.listPending(ctx, userID, store.DirectionIncoming)
}

// ListSent returns pending requests the user sent.
func (s *Service) ListSent(ctx context.Context, userID int64) ([]*store.FriendRequest, error) {
	return s.listPending(ctx, userID, store.DirectionOutgoing)
}

func (s *Service) listPending(ctx context.Context, userID int64, dir store.FriendDirection) ([]*store.FriendRequest, error) {
	pending := store.FriendStatusPending
	reqs, err := s.friends.ListFriendRequests(ctx, userID, dir, &pending)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return reqs, nil
}
