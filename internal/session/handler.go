// Package session turns inbound frames of one connection into core operations.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-dm/internal/core"
	"github.com/vovakirdan/wirechat-dm/internal/proto"
	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// ErrDisconnect is returned by OnEvent when the client asked to close the connection.
var ErrDisconnect = errors.New("client disconnected")

var errRateLimited = errors.New("rate limit exceeded")

// TokenVerifier maps a bearer token to the identity it was issued for.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (core.Identity, error)
}

// Deps are the collaborators shared by every connection handler.
type Deps struct {
	Registry *core.Registry
	Router   *core.Router
	Verifier TokenVerifier
	History  store.MessageStore
}

// Config tunes a Handler.
type Config struct {
	HistoryLimit       int
	RateLimitPerMinute int
}

// Handler owns one connection: it decodes inbound frames, binds the connection to an
// identity once and removes it from the registry when the transport closes.
type Handler struct {
	conn     *core.Conn
	deps     Deps
	history  *core.Reconciler
	limiter  *rateLimiter
	log      *zerolog.Logger
	closeOne sync.Once
}

// NewHandler creates a handler for conn.
func NewHandler(conn *core.Conn, deps Deps, cfg Config, logger *zerolog.Logger) *Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("conn_id", conn.ID()).Logger()
	return &Handler{
		conn:    conn,
		deps:    deps,
		history: core.NewReconciler(deps.History, conn.Live(), cfg.HistoryLimit),
		limiter: newRateLimiter(cfg.RateLimitPerMinute),
		log:     &l,
	}
}

// Conn returns the handled connection.
func (h *Handler) Conn() *core.Conn {
	return h.conn
}

// OnEvent handles one raw inbound frame. Errors are reported to the client as error
// frames and returned to the caller; only ErrDisconnect should end the connection.
func (h *Handler) OnEvent(ctx context.Context, raw []byte) error {
	if !h.limiter.allow() {
		return h.fail(core.NewProtocolError(core.ErrCodeRateLimited, errRateLimited))
	}

	frame, err := proto.Decode(raw)
	if err != nil {
		return h.fail(core.NewProtocolError(core.ErrCodeInvalidMessage, err))
	}
	h.conn.Touch()

	switch frame.Type {
	case proto.InboundTypeRegister:
		return h.Register(ctx, frame.Register.Token)
	case proto.InboundTypePing:
		return h.send(core.Event{Kind: core.EventPong, At: time.Now()})
	case proto.InboundTypeDisconnect:
		return ErrDisconnect
	}

	ident, ok := h.conn.Identity()
	if !ok {
		return h.fail(core.ErrNotRegistered)
	}

	switch frame.Type {
	case proto.InboundTypeChatMessage:
		return h.chat(ctx, ident, frame.Chat)
	case proto.InboundTypeTyping:
		if err := h.deps.Router.RouteTyping(ctx, ident.ID, frame.Typing.To); err != nil {
			return h.fail(err)
		}
		return nil
	case proto.InboundTypeOpen:
		return h.open(ctx, ident, frame.Open.Peer)
	}
	return nil
}

// Register verifies token and binds the connection to its identity. It succeeds once
// per connection.
func (h *Handler) Register(ctx context.Context, token string) error {
	if _, bound := h.conn.Identity(); bound {
		return h.fail(core.ErrAlreadyRegistered)
	}

	ident, err := h.deps.Verifier.VerifyToken(ctx, token)
	if err != nil {
		h.log.Warn().Err(err).Msg("token verification failed")
		return h.fail(&core.CoreError{Code: core.ErrCodeUnauthorized, Message: "invalid token"})
	}
	if err := h.conn.Bind(ident); err != nil {
		return h.fail(err)
	}

	cameOnline := h.deps.Registry.Register(ident.ID, h.conn)
	h.log.Info().Int64("user_id", ident.ID).Bool("came_online", cameOnline).Msg("connection registered")
	if cameOnline {
		h.deps.Router.AnnouncePresence(ctx, ident)
	}

	ident.Online = true
	return h.send(core.Event{Kind: core.EventRegistered, Identity: &ident, At: time.Now()})
}

func (h *Handler) chat(ctx context.Context, ident core.Identity, data *proto.ChatMessageData) error {
	msg, err := h.deps.Router.RouteMessage(ctx, ident.ID, data.To, data.Content)
	if err != nil && !errors.Is(err, core.ErrPersistenceFailed) {
		return h.fail(err)
	}

	// The sender sees its own message in later history merges even before it is stored.
	h.conn.Live().Add(msg)

	ev := core.Event{Kind: core.EventSent, Message: &msg, At: time.Now()}
	if err != nil {
		ev.Warning = core.ErrorFor(err)
	}
	if sendErr := h.send(ev); sendErr != nil {
		return sendErr
	}
	return err
}

func (h *Handler) open(ctx context.Context, ident core.Identity, peerID int64) error {
	if err := h.deps.Router.Authorize(ctx, ident.ID, peerID); err != nil {
		return h.fail(err)
	}
	pair := store.NewPair(ident.ID, peerID)
	msgs, err := h.history.Load(ctx, pair)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", ident.ID).Int64("peer_id", peerID).Msg("failed to load history")
		return h.fail(err)
	}
	return h.send(core.Event{
		Kind:         core.EventHistory,
		PeerID:       peerID,
		Conversation: pair.Key(),
		Messages:     msgs,
		At:           time.Now(),
	})
}

// Close removes the connection from the registry and drops its pending events.
// It is the only cleanup path and is safe to call more than once.
func (h *Handler) Close(ctx context.Context) {
	h.closeOne.Do(func() {
		ident, bound := h.conn.Identity()
		wentOffline := false
		if bound {
			wentOffline = h.deps.Registry.Unregister(ident.ID, h.conn)
		}
		h.conn.Close()

		if !bound {
			return
		}
		h.log.Info().Int64("user_id", ident.ID).Bool("went_offline", wentOffline).Msg("connection unregistered")
		if wentOffline {
			h.deps.Router.AnnouncePresence(context.WithoutCancel(ctx), ident)
		}
	})
}

func (h *Handler) send(ev core.Event) error {
	if err := h.conn.Send(ev); err != nil {
		h.log.Warn().Err(err).Str("event", ev.Kind.String()).Msg("failed to queue event")
		return err
	}
	return nil
}

// fail reports err to the client and returns it.
func (h *Handler) fail(err error) error {
	_ = h.send(core.ErrorEvent(err))
	return err
}
