package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/care-portal/internal/audit"
)

// Unknown stands in for a client attribute the request did not carry.
const Unknown = "unknown"

// UserID returns the authenticated user's id, or "" for anonymous calls.
func UserID(c echo.Context) string {
	s, _ := c.Get(ctxUserID).(string)
	return s
}

// Role returns the authenticated user's role, or "".
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}

// ClientInfo extracts the caller's address and user agent for the audit
// log. The address is the first hop of X-Forwarded-For, then X-Real-IP,
// then "unknown". The remote socket address is not consulted because the
// service always runs behind a proxy.
func ClientInfo(c echo.Context) audit.ClientInfo {
	h := c.Request().Header
	ip := ""
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		ip = strings.TrimSpace(first)
	}
	if ip == "" {
		ip = strings.TrimSpace(h.Get("X-Real-IP"))
	}
	if ip == "" {
		ip = Unknown
	}
	ua := strings.TrimSpace(h.Get("User-Agent"))
	if ua == "" {
		ua = Unknown
	}
	return audit.ClientInfo{IP: ip, UserAgent: ua}
}
