package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// FriendGate answers the friendship questions routing depends on.
// It is implemented by the friends service.
type FriendGate interface {
	// IsFriend reports whether the two users have an accepted relationship.
	IsFriend(ctx context.Context, userID, otherID int64) (bool, error)

	// FriendIDs lists the ids of the user's accepted friends.
	FriendIDs(ctx context.Context, userID int64) ([]int64, error)
}

// RouterConfig tunes the Router.
type RouterConfig struct {
	// MaxContentLength limits message content in runes. Zero disables the limit.
	MaxContentLength int
	// PersistTimeout bounds the durable append. Zero means no timeout.
	PersistTimeout time.Duration
}

// Router validates chat and typing events and fans them out to the recipient's
// connections. It is the only component that creates messages.
type Router struct {
	registry *Registry
	friends  FriendGate
	messages store.MessageStore
	users    store.UserStore
	cfg      RouterConfig
	log      *zerolog.Logger

	notices *xsync.MapOf[int64, *presenceNotice]

	now   func() time.Time
	newID func() string
}

// NewRouter creates a router. users may be nil, in which case last-active times are
// not persisted.
func NewRouter(registry *Registry, friends FriendGate, messages store.MessageStore, users store.UserStore, cfg RouterConfig, logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{
		registry: registry,
		friends:  friends,
		messages: messages,
		users:    users,
		cfg:      cfg,
		log:      logger,
		notices:  xsync.NewMapOf[int64, *presenceNotice](),
		now:      time.Now,
		newID:    newMessageID,
	}
}

// newMessageID returns a time-ordered UUIDv7, falling back to a random UUID.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RouteMessage creates a message from sender to recipient, pushes it to every
// recipient connection and durably appends it.
//
// Delivery to individual connections is best-effort. The append runs concurrently
// with the push, but RouteMessage blocks until it finishes, for up to PersistTimeout.
// Callers that handle frames sequentially stall on a slow store. If the append fails
// the message is still returned together with an error matching ErrPersistenceFailed.
func (r *Router) RouteMessage(ctx context.Context, senderID, recipientID int64, content string) (Message, error) {
	content, err := ValidateContent(content, r.cfg.MaxContentLength)
	if err != nil {
		return Message{}, err
	}
	if err := r.requireFriends(ctx, senderID, recipientID); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:          r.newID(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   r.now().UTC(),
		State:       StateQueued,
	}

	persisted := make(chan error, 1)
	go func() {
		persisted <- r.persist(ctx, msg)
	}()

	pushed := msg.Advance(StateDelivered)
	delivered := r.push(recipientID, Event{Kind: EventChatMessage, Message: &pushed, At: msg.CreatedAt})

	r.log.Debug().
		Str("message_id", msg.ID).
		Int64("user_id", senderID).
		Int64("peer_id", recipientID).
		Int("connections", delivered).
		Msg("message routed")

	if err := <-persisted; err != nil {
		r.log.Error().Err(err).Str("message_id", msg.ID).Int64("user_id", senderID).Msg("failed to persist message")
		return msg, fmt.Errorf("message %s: %w: %w", msg.ID, ErrPersistenceFailed, err)
	}
	return msg, nil
}

// persist appends the message on a context that ignores the caller's cancellation,
// so a sender disconnecting mid-send does not abort the write. RouteMessage still
// waits for it.
func (r *Router) persist(ctx context.Context, msg Message) error {
	pctx := context.WithoutCancel(ctx)
	if r.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, r.cfg.PersistTimeout)
		defer cancel()
	}
	return r.messages.AppendMessage(pctx, messageToRecord(msg))
}

// RouteTyping pushes a typing signal to the recipient's connections. It is never
// queued for offline recipients and a newer signal supersedes an undelivered one.
func (r *Router) RouteTyping(ctx context.Context, senderID, recipientID int64) error {
	if err := r.requireFriends(ctx, senderID, recipientID); err != nil {
		return err
	}
	now := r.now().UTC()
	r.push(recipientID, Event{
		Kind:   EventTyping,
		Typing: &TypingSignal{SenderID: senderID, RecipientID: recipientID, At: now},
		At:     now,
	})
	return nil
}

// presenceNotice is the last presence state announced for one identity.
type presenceNotice struct {
	mu     sync.Mutex
	known  bool
	online bool
}

// AnnouncePresence tells the identity's friends its current presence. The state is
// read from the registry under a per-identity lock, so announcements racing with a
// reconnect on another device cannot leave friends with a stale state. Repeating the
// last announced state is a no-op. Going offline also persists the last-active time.
func (r *Router) AnnouncePresence(ctx context.Context, ident Identity) {
	notice, _ := r.notices.LoadOrCompute(ident.ID, func() *presenceNotice {
		return &presenceNotice{}
	})
	notice.mu.Lock()
	defer notice.mu.Unlock()

	online := r.registry.IsOnline(ident.ID)
	if notice.known && notice.online == online {
		r.log.Debug().Int64("user_id", ident.ID).Bool("online", online).Msg("presence unchanged")
		return
	}

	now := r.now().UTC()
	ident.Online = online
	ident.LastActive = now

	if !online && r.users != nil {
		if err := r.users.TouchLastActive(ctx, ident.ID, now); err != nil {
			r.log.Warn().Err(err).Int64("user_id", ident.ID).Msg("failed to store last active time")
		}
	}

	friendIDs, err := r.friends.FriendIDs(ctx, ident.ID)
	if err != nil {
		r.log.Warn().Err(err).Int64("user_id", ident.ID).Msg("failed to list friends for presence")
		return
	}
	for _, id := range friendIDs {
		r.push(id, Event{Kind: EventPresence, Identity: &ident, At: now})
	}
	notice.known, notice.online = true, online
}

// Authorize reports whether userID may open a conversation with peerID.
// It fails with ErrNotFriends unless the two are accepted friends.
func (r *Router) Authorize(ctx context.Context, userID, peerID int64) error {
	return r.requireFriends(ctx, userID, peerID)
}

func (r *Router) requireFriends(ctx context.Context, senderID, recipientID int64) error {
	if senderID == recipientID {
		return ErrNotFriends
	}
	ok, err := r.friends.IsFriend(ctx, senderID, recipientID)
	if err != nil {
		return fmt.Errorf("check friendship: %w", err)
	}
	if !ok {
		return ErrNotFriends
	}
	return nil
}

// push queues ev on every connection of userID and returns how many accepted it.
func (r *Router) push(userID int64, ev Event) int {
	n := 0
	for _, conn := range r.registry.ConnectionsFor(userID) {
		if err := conn.Send(ev); err != nil {
			r.log.Warn().Err(err).Int64("user_id", userID).Str("conn_id", conn.ID()).
				Str("event", ev.Kind.String()).Msg("delivery failed")
			continue
		}
		n++
	}
	return n
}
