package middleware

import (
	"fmt"
	"net/http"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/request"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// DefaultLoginRate is the default per-IP rate of login attempts.
const DefaultLoginRate = "10-M"

// NewLimiterStore returns a Redis-backed limiter store, or an in-memory one when no
// Redis client is configured.
func NewLimiterStore(client *redis.Client) (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: "community:ratelimit"}
	if client == nil {
		return memorystore.NewStoreWithOptions(opts), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}
	return store, nil
}

// RateLimit limits requests per client IP to rate, formatted as ulule/limiter rates
// ("10-M", "100-H"). Rejections use the TOO_MANY_ATTEMPTS error envelope.
func RateLimit(store limiter.Store, rate string, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if rate == "" {
		rate = DefaultLoginRate
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q: %w", rate, err)
	}
	instance := limiter.New(store, parsed)

	mw := stdlibmw.NewMiddleware(instance,
		stdlibmw.WithKeyGetter(request.ClientIP),
		stdlibmw.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			code := autherr.CodeTooManyAttempts
			respondErrorJSON(w, r, http.StatusTooManyRequests, string(code), autherr.Message(code, request.Language(r)), logger)
		}),
		stdlibmw.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("rate_limiter_failed", zap.Error(err))
			respondErrorJSON(w, r, http.StatusInternalServerError, string(autherr.CodeUnknown), "Rate limiter unavailable", logger)
		}),
	)
	return mw.Handler, nil
}
