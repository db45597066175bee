package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-dm/internal/core"
	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	store    store.UserStore
	registry *core.Registry
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.UserStore, registry *core.Registry, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store:    st,
		registry: registry,
		log:      logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func userToResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username}
}

// PresenceResponse reports whether a user is online and when they were last seen.
type PresenceResponse struct {
	UserID     int64  `json:"user_id"`
	Online     bool   `json:"online"`
	LastActive string `json:"last_active,omitempty"`
}

// SearchUsers handles searching for users.
// GET /api/users/search?query=...
func (h *UserHandlers) SearchUsers(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		query = c.Query("q")
	}
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < 3 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "search query must be at least 3 characters"})
		return
	}

	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	users, err := h.store.SearchUsers(c.Request.Context(), trimmed)
	if err != nil {
		h.log.Error().Err(err).Str("query", trimmed).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		if u.ID == uid {
			continue
		}
		response = append(response, userToResponse(u))
	}

	c.JSON(http.StatusOK, response)
}

// Presence reports a user's online state and last-active label.
// GET /api/users/:id/presence
func (h *UserHandlers) Presence(c *gin.Context) {
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || targetID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), targetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", targetID).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := PresenceResponse{UserID: user.ID, Online: h.registry.IsOnline(user.ID)}
	if !resp.Online {
		last, ok := h.registry.LastActive(user.ID)
		if !ok && user.LastActiveAt != nil {
			last, ok = *user.LastActiveAt, true
		}
		if ok {
			resp.LastActive, _ = core.FormatLastActive(time.Now(), last)
		}
	}

	c.JSON(http.StatusOK, resp)
}
