// Package middleware contains shared Gin middleware used by the HTTP layer:
// correlation ids, access logging, panic recovery, Prometheus metrics, rate
// limiting and security headers.
//
// Recommended order: RequestID, then a logger (Logger in development,
// RedactingLogger in production), then Recovery. Both loggers attach a
// request-scoped zerolog.Logger under the "logger" key; handlers read it with
// LoggerFrom.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	userIDHeader    = "X-User-ID"

	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
	// maxRequestIDLength bounds client-supplied correlation ids.
	maxRequestIDLength = 128

	msgHTTPRequest = "http_request"
	msgWSSession   = "ws_session"
)

// RequestID reuses a well-formed incoming X-Request-ID or generates a UUIDv4.
// The id is echoed on the response and stored in the Gin context.
//
// Incoming ids longer than 128 bytes or containing anything but letters,
// digits, '-', '_', '.' or ':' are replaced, so they are safe to log and to
// embed in error bodies.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.', ch == ':':
		default:
			return false
		}
	}
	return true
}

// Logger is the development access logger. It records the caller identity
// and the raw (truncated) query, which RedactingLogger does not.
//
// Socket upgrades return only when the session ends, so they are logged once
// as "ws_session" with the session length as latency.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid, _ := c.Get(requestIDKey)

		l := log.With().
			Str("request_id", asString(rid)).
			Str("user_id", callerID(c)).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()
		c.Set("logger", &l)

		c.Next()

		status := c.Writer.Status()
		ev := outcomeEvent(&l, c, status).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size())
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Msg(accessMessage(status))
	}
}

// Recovery turns a panic into a JSON 500 carrying the request id and counts
// it in http_panics_total. When the response has already started (including
// hijacked sockets) only the status is set.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			httpPanics.Inc()
			rid := asString(c.Value(requestIDKey))
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or a copy of the global
// logger when no access logger ran.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// callerID is the identity set by the upstream auth collaborator, falling
// back to the X-User-ID header.
func callerID(c *gin.Context) string {
	if s := asString(c.Value("userID")); s != "" {
		return s
	}
	return c.GetHeader(userIDHeader)
}

// routePath prefers the matched route pattern so ids in paths do not explode
// log cardinality.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// outcomeEvent picks the level: error for 5xx or collected gin errors, warn
// for 4xx, info otherwise.
func outcomeEvent(l *zerolog.Logger, c *gin.Context, status int) *zerolog.Event {
	switch {
	case len(c.Errors) > 0, status >= 500:
		return l.Error()
	case status >= 400:
		return l.Warn()
	default:
		return l.Info()
	}
}

func accessMessage(status int) string {
	if status == http.StatusSwitchingProtocols {
		return msgWSSession
	}
	return msgHTTPRequest
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate caps s at max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
