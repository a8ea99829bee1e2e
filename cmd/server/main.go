package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/community-portal/api"
	"github.com/benvon/community-portal/internal/backend"
	"github.com/benvon/community-portal/internal/config"
	"github.com/benvon/community-portal/internal/database"
	"github.com/benvon/community-portal/internal/gate"
	"github.com/benvon/community-portal/internal/handlers"
	"github.com/benvon/community-portal/internal/logger"
	"github.com/benvon/community-portal/internal/metrics"
	"github.com/benvon/community-portal/internal/middleware"
	"github.com/benvon/community-portal/internal/profile"
	"github.com/benvon/community-portal/internal/queue"
	"github.com/benvon/community-portal/internal/services/oidc"
	"github.com/benvon/community-portal/internal/session"
	"github.com/benvon/community-portal/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "community-portal"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, debugMode, zapLogger); err != nil {
		zapLogger.Error("server_exited_with_error", zap.Error(err))
		_ = logger.Sync(zapLogger)
		os.Exit(1)
	}
	zapLogger.Info("server_exited")
}

func run(ctx context.Context, cfg *config.Config, debugMode bool, zapLogger *zap.Logger) error {
	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.String("idp_realm", cfg.IDPRealm),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	tracerProvider := initTracing(ctx, cfg, zapLogger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx, tracerProvider); err != nil {
			zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
		}
	}()

	httpClient := &http.Client{
		Timeout:   15 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	// Session storage: Redis when configured so sessions survive restarts and are
	// shared between replicas.
	var storage session.Storage = session.NewMemoryStorage()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisStorage, err := session.NewRedisStorageFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisStorage.Close(); err != nil {
				zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
			}
		}()
		storage = redisStorage
		redisClient = redisStorage.Client()
		zapLogger.Info("connected_to_redis")
	} else {
		zapLogger.Warn("redis_not_configured_using_memory_session_storage")
	}

	idp, endpoints, err := newIdentityClient(ctx, cfg, httpClient, zapLogger)
	if err != nil {
		return err
	}

	backendClient, err := backend.NewClient(cfg.BackendAPIURL, httpClient)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	// Session lifecycle events go to the audit table and the message bus, each when
	// configured.
	var sinks session.Sinks
	var eventRepo *database.SessionEventRepository
	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.New(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
			}
		}()
		eventRepo, err = database.NewSessionEventRepository(ctx, db, zapLogger)
		if err != nil {
			return err
		}
		sinks = append(sinks, eventRepo)
		zapLogger.Info("connected_to_database")
	}

	var publisher *queue.RabbitMQPublisher
	if cfg.RabbitMQURL != "" {
		publisher, err = connectRabbitMQ(ctx, cfg, zapLogger)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
		sinks = append(sinks, publisher)
	}

	manager := session.NewManager(storage, idp, session.ManagerConfig{
		Loop: session.LoopConfig{
			RenewInterval: cfg.RenewInterval,
			SweepInterval: cfg.SweepInterval,
			Events:        sinks,
			Observer:      m,
			Logger:        zapLogger,
		},
		TTL: cfg.SessionTTL,
	})
	defer manager.Close()
	m.RegisterActiveSessions(manager.Len)

	profiles := profile.NewRegistry(profile.NewChecker(backendClient, zapLogger).WithObserver(m))

	table, err := loadRouteTable(cfg)
	if err != nil {
		return err
	}
	routeGate := gate.New(table, storage, zapLogger)

	loginStore, err := middleware.NewLimiterStore(redisClient)
	if err != nil {
		return err
	}
	loginLimit, err := middleware.RateLimit(loginStore, cfg.LoginRateLimit, zapLogger)
	if err != nil {
		return err
	}

	openAPIHandler, err := handlers.NewOpenAPIHandler(api.OpenAPI)
	if err != nil {
		return err
	}

	checks := map[string]handlers.CheckFunc{
		"session_storage": storage.Ping,
		"backend":         backendClient.Ping,
		"postgres":        nil,
		"rabbitmq":        nil,
	}
	if db != nil {
		checks["postgres"] = db.Ping
	}
	if publisher != nil {
		checks["rabbitmq"] = publisher.HealthCheck
	}

	var events handlers.EventLister
	if eventRepo != nil {
		events = eventRepo
	}

	r := mux.NewRouter()

	// gorilla/mux runs middleware in registration order: the first registered is the
	// outermost wrapper.
	if tracerProvider != nil {
		r.Use(otelmux.Middleware(serviceName))
	}
	r.Use(m.Middleware)
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins, zapLogger))
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(cfg.RequestTimeout, zapLogger))
	r.Use(middleware.LoadSession(manager, cfg.CookieName, zapLogger))
	r.Use(middleware.Audit(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	r.HandleFunc("/healthz", handlers.NewHealthChecker(checks).HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	openAPIHandler.RegisterRoutes(r)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()

	handlers.NewAuthHandler(handlers.AuthHandlerConfig{
		IDP:      idp,
		Sessions: manager,
		Events:   sinks,
		Recorder: m,
		Cookie: handlers.CookieConfig{
			Name:   cfg.CookieName,
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.SessionTTL,
		},
		FrontendURL: cfg.FrontendURL,
		Logger:      zapLogger,
	}).RegisterRoutes(apiRouter.PathPrefix("/auth").Subrouter(), loginLimit)

	handlers.NewAppHandler(routeGate, profiles).RegisterRoutes(apiRouter.PathPrefix("/app").Subrouter())

	profileRouter := apiRouter.PathPrefix("/profile").Subrouter()
	profileRouter.Use(middleware.RequireAuth(zapLogger))
	handlers.NewProfileHandler(profiles, events, zapLogger).RegisterRoutes(profileRouter)

	handlers.NewAdminHandler(backendClient, zapLogger).RegisterRoutes(apiRouter.PathPrefix("/admin").Subrouter())

	// Preflight requests for any path; CORS headers are set by the middleware.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	zapLogger.Info("identity_provider_configured",
		zap.String("issuer", endpoints.Issuer),
		zap.String("callback_url", cfg.CallbackURL()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func initTracing(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *sdktrace.TracerProvider {
	if !cfg.OTELEnabled {
		return nil
	}
	if cfg.OTELEndpoint == "" {
		zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		return nil
	}
	tp, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		return nil
	}
	zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
	return tp
}

// newIdentityClient builds the OIDC client, optionally reading the discovery document
// and verifying ID token signatures against the realm's JWKS.
func newIdentityClient(ctx context.Context, cfg *config.Config, httpClient *http.Client, zapLogger *zap.Logger) (*oidc.Client, oidc.Endpoints, error) {
	endpoints := oidc.KeycloakEndpoints(cfg.IDPBaseURL, cfg.IDPRealm)
	if cfg.IDPDiscovery {
		discovered, err := oidc.Discover(ctx, httpClient, endpoints)
		if err != nil {
			zapLogger.Warn("oidc_discovery_failed_using_keycloak_defaults", zap.Error(err))
		} else {
			endpoints = discovered
		}
	}

	var verifier *oidc.Verifier
	if cfg.IDPVerifyIDToken {
		verifier = oidc.NewVerifier(oidc.NewJWKSManager(httpClient), endpoints.JWKS, endpoints.Issuer, cfg.IDPClientID)
	}

	client, err := oidc.NewClient(oidc.Config{
		BaseURL:      cfg.IDPBaseURL,
		Realm:        cfg.IDPRealm,
		ClientID:     cfg.IDPClientID,
		ClientSecret: cfg.IDPClientSecret,
		RedirectURL:  cfg.CallbackURL(),
		Endpoints:    &endpoints,
		HTTPClient:   httpClient,
		Verifier:     verifier,
	})
	if err != nil {
		return nil, endpoints, err
	}
	return client, endpoints, nil
}

func loadRouteTable(cfg *config.Config) (*gate.Table, error) {
	if cfg.RoutesFile == "" {
		return gate.DefaultTable()
	}
	return gate.LoadTable(cfg.RoutesFile)
}

// connectRabbitMQ retries with exponential backoff to ride out broker startup delays.
func connectRabbitMQ(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (*queue.RabbitMQPublisher, error) {
	const maxRetries = 10
	const initialDelay = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		publisher, err := queue.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, zapLogger)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq", zap.String("exchange", cfg.RabbitMQExchange))
			return publisher, nil
		}
		lastErr = err

		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("retry_delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
