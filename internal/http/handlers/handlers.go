// Handler wiring and shared helpers.
//
// Handlers are transport-thin: they validate input, call the presence,
// call and metrics services, and translate results into HTTP responses
// (including conditional responses on call history).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-presence/internal/domain"
	"github.com/tbourn/go-chat-presence/internal/services"
	"github.com/tbourn/go-chat-presence/internal/utils"
)

//
// Service contracts (context-aware)
//

// PresenceService is the read side of the presence manager.
type PresenceService interface {
	// GetUsersStatus resolves a batch of ids; on a store failure it returns
	// the cached part together with the error.
	GetUsersStatus(ctx context.Context, ids []string) (map[string]services.UserStatus, error)
	// GetUserStatus is a cache-only read.
	GetUserStatus(userID string) services.UserStatus
	// OnlineUsers lists connected users ordered by connect time.
	OnlineUsers() []services.CacheEntry
	// StatusBatchMax is the largest accepted batch.
	StatusBatchMax() int
}

// CallService lists call history.
type CallService interface {
	CallHistory(ctx context.Context, userID string, page, pageSize int) ([]domain.CallSession, int64, error)
}

// SystemService exposes collector snapshots.
type SystemService interface {
	HealthStatus() services.HealthStatus
	Stats() services.Stats
	Dashboard() services.Dashboard
}

// StoreStats are optional store-side aggregates. Both are best effort.
type StoreStats interface {
	// CallsStats returns the call count and latest change for userID (ETag).
	CallsStats(ctx context.Context, userID string) (int64, *time.Time, error)
	// CountOnline returns the number of users flagged online in the store.
	CountOnline(ctx context.Context) (int64, error)
}

//
// Handler wiring
//

// Handlers groups the presence, call and system endpoints.
type Handlers struct {
	presence PresenceService
	calls    CallService
	system   SystemService
	store    StoreStats // may be nil
}

// New constructs and returns a Handlers instance bound to the given services.
// store may be nil, which disables ETags and the store online count.
func New(presence PresenceService, calls CallService, system SystemService, store StoreStats) *Handlers {
	return &Handlers{presence: presence, calls: calls, system: system, store: store}
}

// userID extracts the caller id from Gin context (set by upstream auth) and
// falls back to the "X-User-ID" header. It returns "" when neither is set.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader("X-User-ID"))
	}
	return ""
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// failService maps a service error to its status and code.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTooManyIDs):
		fail(c, http.StatusBadRequest, ErrCodeTooManyIDs, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrStoreUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
