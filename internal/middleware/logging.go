package middleware

import (
	"net/http"
	"time"

	logpkg "github.com/benvon/community-portal/internal/logger"
	"github.com/benvon/community-portal/internal/request"
	"go.uber.org/zap"
)

// Logging logs one line per request. Placed after LoadSession, it also records the
// session and subject the request ran under.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.Int("status_code", wrapped.statusCode),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if s := request.SessionFromContext(r); s != nil {
				subject := ""
				if tok := s.Store.Current(); tok != nil {
					subject = tok.Claims.Sub
				}
				fields = append(fields, logpkg.SessionFields(s.ID, subject)...)
			}
			logger.Info("http_request", fields...)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Status returns the status code written so far.
func (rw *responseWriter) Status() int {
	return rw.statusCode
}
