package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-dm/internal/core"
	"github.com/vovakirdan/wirechat-dm/internal/proto"
	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// ConversationHandlers serves direct conversation history over REST.
type ConversationHandlers struct {
	router  *core.Router
	history *core.Reconciler
	log     *zerolog.Logger
}

// NewConversationHandlers creates conversation handlers. REST requests have no push
// channel, so history is served without a live buffer.
func NewConversationHandlers(router *core.Router, messages store.MessageStore, limit int, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{
		router:  router,
		history: core.NewReconciler(messages, nil, limit),
		log:     logger,
	}
}

// History returns the ordered messages exchanged with a friend.
// GET /api/conversations/:peer/messages
func (h *ConversationHandlers) History(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	peerID, err := strconv.ParseInt(c.Param("peer"), 10, 64)
	if err != nil || peerID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid peer id"})
		return
	}

	ctx := c.Request.Context()
	if err := h.router.Authorize(ctx, uid, peerID); err != nil {
		if errors.Is(err, core.ErrNotFriends) {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "not friends"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", uid).Int64("peer_id", peerID).Msg("failed to check friendship")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	pair := store.NewPair(uid, peerID)
	msgs, err := h.history.Load(ctx, pair)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Int64("peer_id", peerID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, proto.EventHistory{
		Peer:           peerID,
		ConversationID: pair.Key(),
		Messages:       messagesToProto(msgs),
	})
}
