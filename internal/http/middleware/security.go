// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file sets response hardening headers for the JSON API. No CSP is sent;
// it only matters for HTML.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests. Enable
	// only when traffic is HTTPS end-to-end, proxy hop included.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days.
	HSTSMaxAge time.Duration
	// NoStore marks every response uncacheable.
	NoStore bool
	// NoStorePrefixes marks responses under these paths uncacheable. Presence
	// and system readings go stale within seconds; call history has an ETag.
	NoStorePrefixes []string
	// EnablePolicy sends Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies. Camera and microphone stay allowed
	// for same-origin call clients.
	EnablePolicy bool
}

func (o SecurityOptions) noStore(path string) bool {
	if o.NoStore {
		return true
	}
	for _, p := range o.NoStorePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// SecurityHeaders always sets nosniff, X-Frame-Options DENY and
// Referrer-Policy no-referrer, then the optional headers selected by opt. It
// also adds X-Request-ID to Access-Control-Expose-Headers when present so
// browser clients can quote it in bug reports.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), payment=(), usb=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.noStore(c.Request.URL.Path) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}

		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	const key = "Access-Control-Expose-Headers"
	cur := h.Get(key)
	switch {
	case cur == "":
		h.Set(key, name)
	case !strings.Contains(cur, name):
		h.Set(key, cur+", "+name)
	}
}

// isHTTPS reports a direct TLS connection or X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
