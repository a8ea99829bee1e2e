package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
)

// Config holds application configuration
type Config struct {
	ServerPort      string
	BaseURL         string
	FrontendURL     string
	EnableHSTS      bool
	ServerDebugMode bool
	RequestTimeout  time.Duration

	// Identity provider
	IDPBaseURL       string
	IDPRealm         string
	IDPClientID      string
	IDPClientSecret  string
	IDPDiscovery     bool
	IDPVerifyIDToken bool

	BackendAPIURL string

	// Session lifecycle
	RenewInterval time.Duration
	SweepInterval time.Duration
	SessionTTL    time.Duration
	CookieName    string
	CookieDomain  string
	CookieSecure  bool

	RoutesFile string

	RedisURL         string
	DatabaseURL      string
	RabbitMQURL      string
	RabbitMQExchange string

	LoginRateLimit     string
	CORSAllowedOrigins []string

	OTELEnabled  bool
	OTELEndpoint string
	OTELInsecure bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	e := env(getenv)
	cfg := &Config{
		ServerPort:      e.get("SERVER_PORT", "8080"),
		BaseURL:         e.get("BASE_URL", "http://localhost:8080"),
		FrontendURL:     e.get("FRONTEND_URL", "http://localhost:3000"),
		EnableHSTS:      e.getBool("ENABLE_HSTS", false),
		ServerDebugMode: e.getBool("SERVER_DEBUG_MODE", false),
		RequestTimeout:  e.getDuration("REQUEST_TIMEOUT", 30*time.Second),

		IDPBaseURL:       e.get("IDP_BASE_URL", ""),
		IDPRealm:         e.get("IDP_REALM", ""),
		IDPClientID:      e.get("IDP_CLIENT_ID", ""),
		IDPClientSecret:  e.get("IDP_CLIENT_SECRET", ""),
		IDPDiscovery:     e.getBool("IDP_DISCOVERY", false),
		IDPVerifyIDToken: e.getBool("IDP_VERIFY_ID_TOKEN", true),

		BackendAPIURL: e.get("BACKEND_API_URL", ""),

		RenewInterval: e.getDuration("SESSION_RENEW_INTERVAL", 60*time.Second),
		SweepInterval: e.getDuration("SESSION_SWEEP_INTERVAL", 5*time.Second),
		SessionTTL:    e.getDuration("SESSION_TTL", 24*time.Hour),
		CookieName:    e.get("SESSION_COOKIE_NAME", "community_session"),
		CookieDomain:  e.get("SESSION_COOKIE_DOMAIN", ""),
		CookieSecure:  e.getBool("SESSION_COOKIE_SECURE", true),

		RoutesFile: e.get("ROUTES_FILE", ""),

		RedisURL:         e.get("REDIS_URL", ""),
		DatabaseURL:      e.get("DATABASE_URL", ""),
		RabbitMQURL:      e.get("RABBITMQ_URL", ""),
		RabbitMQExchange: e.get("RABBITMQ_EXCHANGE", "community.sessions"),

		LoginRateLimit:     e.get("LOGIN_RATE_LIMIT", "10-M"),
		CORSAllowedOrigins: e.getList("CORS_ALLOWED_ORIGINS", nil),

		OTELEnabled:  e.getBool("OTEL_ENABLED", false),
		OTELEndpoint: e.get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: e.getBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate fails fast on missing or malformed settings.
func (c *Config) validate() error {
	required := []struct{ key, value string }{
		{"IDP_BASE_URL", c.IDPBaseURL},
		{"IDP_REALM", c.IDPRealm},
		{"IDP_CLIENT_ID", c.IDPClientID},
		{"BACKEND_API_URL", c.BackendAPIURL},
	}
	for _, r := range required {
		if r.value == "" {
			return autherr.Configuration("%s is required", r.key)
		}
	}
	for _, u := range []struct{ key, value string }{
		{"IDP_BASE_URL", c.IDPBaseURL},
		{"BACKEND_API_URL", c.BackendAPIURL},
		{"BASE_URL", c.BaseURL},
	} {
		parsed, err := url.ParseRequestURI(u.value)
		if err != nil || parsed.Host == "" {
			return autherr.Configuration("%s must be an absolute URL, got %q", u.key, u.value)
		}
	}
	if c.RenewInterval <= 0 || c.SweepInterval <= 0 {
		return autherr.Configuration("session renew and sweep intervals must be positive")
	}
	if len(c.CORSAllowedOrigins) == 0 && c.FrontendURL != "" {
		c.CORSAllowedOrigins = []string{c.FrontendURL}
	}
	return nil
}

// CallbackURL is the redirect URI registered with the identity provider.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/v1/auth/callback"
}

type env func(string) string

func (e env) get(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

func (e env) getBool(key string, defaultValue bool) bool {
	if value := e(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func (e env) getInt(key string, defaultValue int) int {
	if value := e(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s") or a plain number of seconds.
func (e env) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := e(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs := e.getInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func (e env) getList(key string, defaultValue []string) []string {
	value := e(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
