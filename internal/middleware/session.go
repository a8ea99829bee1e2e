package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/authz"
	logpkg "github.com/benvon/community-portal/internal/logger"
	"github.com/benvon/community-portal/internal/request"
	"github.com/benvon/community-portal/internal/session"
	"go.uber.org/zap"
)

// SessionLookup finds live sessions by ID.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// LoadSession attaches the session named by the cookie to the request context. A
// missing or unknown session is not an error; the request simply proceeds without one.
func LoadSession(sessions SessionLookup, cookieName string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			s, err := sessions.Get(r.Context(), cookie.Value)
			switch {
			case err == nil:
				r = r.WithContext(request.WithSession(r.Context(), s))
			case errors.Is(err, session.ErrSessionNotFound):
			default:
				logger.Warn("session_lookup_failed",
					zap.String("session_id", logpkg.SanitizeString(cookie.Value, logpkg.MaxUserIDLength)),
					zap.Error(err),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests without an authenticated session.
func RequireAuth(logger *zap.Logger) func(http.Handler) http.Handler {
	return RequirePermission(authz.User, logger)
}

// RequirePermission rejects requests whose session does not hold p. Requests without
// an authenticated session get 401, sessions with too little permission get 403.
func RequirePermission(p authz.Permission, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := request.SessionFromContext(r)
			if s == nil || !s.Store.IsAuthenticated() {
				if p == authz.Public {
					next.ServeHTTP(w, r)
					return
				}
				code := autherr.CodeInvalidToken
				if s != nil {
					code = autherr.CodeExpiredToken
				}
				respondErrorJSON(w, r, http.StatusUnauthorized, string(code), autherr.Message(code, request.Language(r)), logger)
				return
			}
			if !authz.Allows(s.Store.Permission(), p) {
				respondErrorJSON(w, r, http.StatusForbidden, "FORBIDDEN", "This action requires "+string(p)+" permission", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
