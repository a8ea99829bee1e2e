// Package request holds per-request helpers shared by middleware and handlers.
package request

import (
	"context"
	"net/http"
	"strings"

	"github.com/benvon/community-portal/internal/authz"
	"github.com/benvon/community-portal/internal/session"
)

type contextKey string

const sessionContextKey contextKey = "session"

// ClientIP extracts the client IP from the request, respecting X-Forwarded-For and X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}

// WithSession returns a context carrying the browser's session.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext returns the session attached to the request, or nil.
func SessionFromContext(r *http.Request) *session.Session {
	s, _ := r.Context().Value(sessionContextKey).(*session.Session)
	return s
}

// Permission returns the permission the request's session currently holds.
func Permission(r *http.Request) authz.Permission {
	s := SessionFromContext(r)
	if s == nil {
		return authz.Public
	}
	return s.Store.Permission()
}

// Language returns the preferred language of the request.
func Language(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return lang
	}
	return r.Header.Get("Accept-Language")
}
