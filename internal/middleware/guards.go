package middleware

import (
	"context"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxRequestSize is the default maximum request body size (64KB). Session
	// endpoints only ever receive small JSON documents.
	DefaultMaxRequestSize int64 = 64 << 10
	// DefaultRequestTimeout is the default request timeout.
	DefaultRequestTimeout = 30 * time.Second
)

// MaxRequestSize limits the size of request bodies.
func MaxRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestSize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ContentType requires a JSON or form body on POST, PUT and PATCH requests that carry
// one. Bodiless posts such as logout pass through.
func ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && r.ContentLength != 0 {
			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				http.Error(w, "Content-Type header is required", http.StatusBadRequest)
				return
			}
			mediaType, _, err := mime.ParseMediaType(contentType)
			if err != nil || (mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded") {
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Timeout bounds the request context. Handlers pass the context to the identity
// provider and the backend, so a slow upstream fails with TIMEOUT instead of hanging.
func Timeout(timeout time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
			if ctx.Err() == context.DeadlineExceeded {
				logger.Warn("request_deadline_exceeded",
					zap.String("method", r.Method),
					zap.Duration("timeout", timeout),
				)
			}
		})
	}
}
