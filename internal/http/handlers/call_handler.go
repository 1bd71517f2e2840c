// Call history HTTP handler.
//
//   - GET /calls   (paginated, ETag support)
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

// ListCallsResponse contains a page of calls and pagination metadata.
type ListCallsResponse struct {
	Calls      []domain.CallSession `json:"calls"`
	Pagination Pagination           `json:"pagination"`
}

// ListCalls godoc
// @ID          listCalls
// @Summary     Call history (paginated)
// @Description Returns the caller's calls, most recent first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Calls
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "Caller id"                   example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"calls:user123:3:1714557600\")
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListCallsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Missing caller identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /calls [get]
func (h *Handlers) ListCalls(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "user identity required")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.store != nil {
		count, last, err := h.store.CallsStats(ctx, uid)
		if err == nil {
			var ts int64
			if last != nil {
				ts = last.Unix()
			}
			etag := fmt.Sprintf(`W/"calls:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.calls.CallHistory(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListCallsResponse{
		Calls:      items,
		Pagination: newPagination(page, pageSize, total),
	})
}
