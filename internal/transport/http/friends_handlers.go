package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-dm/internal/service/friends"
	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// FriendsHandlers provides HTTP handlers for friend management endpoints.
type FriendsHandlers struct {
	service *friends.Service
	users   store.UserStore
	log     *zerolog.Logger
}

// NewFriendsHandlers creates a new friends handlers instance.
func NewFriendsHandlers(svc *friends.Service, users store.UserStore, logger *zerolog.Logger) *FriendsHandlers {
	return &FriendsHandlers{
		service: svc,
		users:   users,
		log:     logger,
	}
}

// SendFriendRequestRequest represents the request body for sending a friend request.
type SendFriendRequestRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// FriendRequestResponse represents a friend request in API responses.
// PeerUsername is the other side from the caller's point of view.
type FriendRequestResponse struct {
	ID           int64  `json:"id"`
	RequesterID  int64  `json:"requester_id"`
	TargetID     int64  `json:"target_id"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	PeerUsername string `json:"peer_username,omitempty"`
}

// FriendResponse represents an accepted friend in API responses.
type FriendResponse struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	RequestID int64  `json:"request_id"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func (h *FriendsHandlers) requestToResponse(c *gin.Context, r *store.FriendRequest, currentUserID int64) FriendRequestResponse {
	resp := FriendRequestResponse{
		ID:          r.ID,
		RequesterID: r.RequesterID,
		TargetID:    r.TargetID,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.Format(timeLayout),
		UpdatedAt:   r.UpdatedAt.Format(timeLayout),
	}

	user, err := h.users.GetUserByID(c.Request.Context(), r.Pair().Other(currentUserID))
	if err == nil {
		resp.PeerUsername = user.Username
	}
	return resp
}

// writeError maps friend service errors to HTTP responses.
func (h *FriendsHandlers) writeError(c *gin.Context, err error, uid int64) {
	switch {
	case errors.Is(err, friends.ErrCannotFriendSelf):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, friends.ErrAlreadyFriends), errors.Is(err, friends.ErrAlreadyPending),
		errors.Is(err, friends.ErrInvalidState):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, friends.ErrUserNotFound), errors.Is(err, friends.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, friends.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Int64("user_id", uid).Str("path", c.FullPath()).Msg("friend operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// SendRequest handles sending a friend request.
// POST /api/friends/requests
func (h *FriendsHandlers) SendRequest(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	var req SendFriendRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send friend request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	created, err := h.service.SendRequest(c.Request.Context(), uid, req.UserID)
	if err != nil {
		h.writeError(c, err, uid)
		return
	}

	c.JSON(http.StatusCreated, h.requestToResponse(c, created, uid))
}

// ListFriends handles listing accepted friends.
// GET /api/friends
func (h *FriendsHandlers) ListFriends(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	list, err := h.service.ListFriends(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, err, uid)
		return
	}

	response := make([]FriendResponse, 0, len(list))
	for _, f := range list {
		response = append(response, FriendResponse{UserID: f.UserID, Username: f.Username, RequestID: f.Request.ID})
	}

	h.log.Debug().Int64("user_id", uid).Int("friend_count", len(list)).Msg("friends listed")
	c.JSON(http.StatusOK, response)
}

// ListIncoming handles listing pending requests addressed to the caller.
// GET /api/friends/incoming
func (h *FriendsHandlers) ListIncoming(c *gin.Context) {
	h.listRequests(c, h.service.ListIncoming)
}

// ListSent handles listing pending requests the caller sent.
// GET /api/friends/sent
func (h *FriendsHandlers) ListSent(c *gin.Context) {
	h.listRequests(c, h.service.ListSent)
}

func (h *FriendsHandlers) listRequests(c *gin.Context, list func(ctx context.Context, userID int64) ([]*store.FriendRequest, error)) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	requests, err := list(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, err, uid)
		return
	}

	response := make([]FriendRequestResponse, 0, len(requests))
	for _, r := range requests {
		response = append(response, h.requestToResponse(c, r, uid))
	}
	c.JSON(http.StatusOK, response)
}

// AcceptRequest handles accepting a friend request.
// PUT /api/friends/requests/:id/accept
func (h *FriendsHandlers) AcceptRequest(c *gin.Context) {
	h.transition(c, h.service.Accept)
}

// RejectRequest handles rejecting a friend request.
// PUT /api/friends/requests/:id/reject
func (h *FriendsHandlers) RejectRequest(c *gin.Context) {
	h.transition(c, h.service.Reject)
}

// CancelRequest handles withdrawing a sent friend request.
// DELETE /api/friends/requests/:id
func (h *FriendsHandlers) CancelRequest(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

func (h *FriendsHandlers) transition(c *gin.Context, apply func(ctx context.Context, requestID, by int64) (*store.FriendRequest, error)) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || requestID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request id"})
		return
	}

	updated, err := apply(c.Request.Context(), requestID, uid)
	if err != nil {
		h.writeError(c, err, uid)
		return
	}

	c.JSON(http.StatusOK, h.requestToResponse(c, updated, uid))
}
