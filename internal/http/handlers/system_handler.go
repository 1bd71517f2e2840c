// System HTTP handlers.
//
//   - GET /system/health     (scored health report)
//   - GET /system/stats      (collector counters)
//   - GET /system/dashboard  (rolling windows and recent activity)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-presence/internal/http/middleware"
	"github.com/tbourn/go-chat-presence/internal/services"
)

// SystemHealth godoc
// @ID          systemHealth
// @Summary     Health report
// @Description Scores error rate, memory use and connection load. Responds 503 when the status is critical.
// @Tags        System
// @Produce     json
// @Success     200  {object}  services.HealthStatus
// @Failure     503  {object}  services.HealthStatus
// @Router      /system/health [get]
func (h *Handlers) SystemHealth(c *gin.Context) {
	hs := h.system.HealthStatus()
	status := http.StatusOK
	if hs.Status == services.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	ok(c, status, hs)
}

// SystemStats godoc
// @ID          systemStats
// @Summary     Collector counters
// @Description Includes the store-side online count, when available, to spot drift against the cache.
// @Tags        System
// @Produce     json
// @Success     200  {object}  services.Stats
// @Router      /system/stats [get]
func (h *Handlers) SystemStats(c *gin.Context) {
	st := h.system.Stats()
	if h.store != nil {
		n, err := h.store.CountOnline(c.Request.Context())
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store online count unavailable")
		} else {
			st.StoreOnline = &n
		}
	}
	ok(c, http.StatusOK, st)
}

// SystemDashboard godoc
// @ID          systemDashboard
// @Summary     Dashboard snapshot
// @Tags        System
// @Produce     json
// @Success     200  {object}  services.Dashboard
// @Router      /system/dashboard [get]
func (h *Handlers) SystemDashboard(c *gin.Context) {
	ok(c, http.StatusOK, h.system.Dashboard())
}
