// Presence HTTP handlers.
//
//   - GET  /presence?ids=a,b     (batch status)
//   - POST /presence/query       (batch status, JSON body)
//   - GET  /presence/online      (connected users)
//   - GET  /presence/{id}        (single status, cache only)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-presence/internal/http/middleware"
	"github.com/tbourn/go-chat-presence/internal/services"
)

// PresenceQueryRequest is the JSON payload of POST /presence/query.
type PresenceQueryRequest struct {
	UserIDs []string `json:"user_ids" binding:"required" example:"u1,u2"`
}

// PresenceMap maps user id to status. Unknown ids are absent.
type PresenceMap map[string]services.UserStatus

// OnlineUser is one entry of the online list.
type OnlineUser struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	LastSeen    time.Time `json:"lastSeen"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// OnlineUsersResponse lists connected users.
type OnlineUsersResponse struct {
	Users []OnlineUser `json:"users"`
	Count int          `json:"count"`
}

// splitIDs parses a comma separated id list, dropping blanks.
func splitIDs(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetPresence godoc
// @ID          getPresence
// @Summary     Batch presence lookup
// @Description Resolves up to STATUS_BATCH_MAX ids. Cached users are served from memory; the rest from the store.
// @Description When the store is unavailable the cached part is still returned.
// @Tags        Presence
// @Produce     json
// @Param       ids  query  string  true  "Comma separated user ids"  example(u1,u2)
// @Success     200  {object}  handlers.PresenceMap
// @Failure     400  {object}  handlers.ErrorResponse  "Missing ids or too many ids"
// @Router      /presence [get]
func (h *Handlers) GetPresence(c *gin.Context) {
	ids := splitIDs(c.Query("ids"))
	if len(ids) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ids required")
		return
	}
	h.writeStatuses(c, ids)
}

// QueryPresence godoc
// @ID          queryPresence
// @Summary     Batch presence lookup (POST)
// @Description Same as GET /presence with the ids in a JSON body.
// @Tags        Presence
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.PresenceQueryRequest  true  "User ids"
// @Success     200  {object}  handlers.PresenceMap
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or too many ids"
// @Router      /presence/query [post]
func (h *Handlers) QueryPresence(c *gin.Context) {
	var req PresenceQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	var ids []string
	for _, id := range req.UserIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_ids required")
		return
	}
	h.writeStatuses(c, ids)
}

func (h *Handlers) writeStatuses(c *gin.Context, ids []string) {
	out, err := h.presence.GetUsersStatus(c.Request.Context(), ids)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrTooManyIDs):
		fail(c, http.StatusBadRequest, ErrCodeTooManyIDs,
			fmt.Sprintf("too many ids: %d given, at most %d allowed", len(ids), h.presence.StatusBatchMax()))
		return
	case errors.Is(err, services.ErrStoreUnavailable) && len(out) > 0:
		// Degraded: serve what the cache knows.
		middleware.LoggerFrom(c).Warn().Err(err).Int("ids", len(ids)).Msg("presence store unavailable; partial result")
		c.Header("X-Presence-Partial", "true")
	default:
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, PresenceMap(out))
}

// GetUserPresence godoc
// @ID          getUserPresence
// @Summary     Single presence lookup
// @Description Cache-only read; users without a live session report isOnline=false with null fields.
// @Tags        Presence
// @Produce     json
// @Param       id   path  string  true  "User id"
// @Success     200  {object}  services.UserStatus
// @Router      /presence/{id} [get]
func (h *Handlers) GetUserPresence(c *gin.Context) {
	ok(c, http.StatusOK, h.presence.GetUserStatus(c.Param("id")))
}

// ListOnline godoc
// @ID          listOnline
// @Summary     Connected users
// @Tags        Presence
// @Produce     json
// @Success     200  {object}  handlers.OnlineUsersResponse
// @Router      /presence/online [get]
func (h *Handlers) ListOnline(c *gin.Context) {
	entries := h.presence.OnlineUsers()
	users := make([]OnlineUser, 0, len(entries))
	for _, e := range entries {
		users = append(users, OnlineUser{
			UserID:      e.UserID,
			Username:    e.Username,
			LastSeen:    e.LastSeen,
			ConnectedAt: e.ConnectedAt,
		})
	}
	ok(c, http.StatusOK, OnlineUsersResponse{Users: users, Count: len(users)})
}
