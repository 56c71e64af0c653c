package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"idea-tracker/internal/attachment"
	"idea-tracker/internal/audit"
	"idea-tracker/internal/auth"
	"idea-tracker/internal/blob"
	"idea-tracker/internal/config"
	"idea-tracker/internal/db"
	"idea-tracker/internal/idea"
	"idea-tracker/internal/lockout"
	"idea-tracker/internal/maintenance"
	"idea-tracker/internal/observability"
	"idea-tracker/internal/quota"
	"idea-tracker/internal/ratelimit"
	"idea-tracker/internal/stats"
)

type Options struct {
	Config *config.Config
	Logger *observability.Logger
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build opens every backing service named by the config and returns the
// routed handler. Close releases them in reverse order.
func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg := options.Config
	logger := options.Logger
	if logger == nil {
		logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		observability.FlushSentry()
		return errors.Join(errs...)
	}
	fail := func(err error) (*Runtime, error) {
		_ = closeAll()
		return nil, err
	}

	database, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, database.Close)

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
	}

	publisher := newPublisher(cfg, logger)
	if closer, ok := publisher.(interface{ Close() error }); ok {
		closers = append(closers, closer.Close)
	}

	counters, redisClient, err := newCounterStore(ctx, cfg, database)
	if err != nil {
		return fail(err)
	}
	if redisClient != nil {
		closers = append(closers, redisClient.Close)
	}

	proxies, err := observability.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fail(err)
	}

	blobs, err := newBlobStore(cfg)
	if err != nil {
		return fail(err)
	}

	limiter := ratelimit.NewLimiter(counters, logger).WithAudit(publisher)
	policies, err := policiesFromConfig(cfg)
	if err != nil {
		return fail(err)
	}

	guard := lockout.NewGuard(lockout.NewRepository(database), logger).
		WithPolicy(cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginLockFor).
		WithAudit(publisher)

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, guard, cfg.Auth.JWTSecret).
		WithTokenTTL(cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	authHandler := auth.NewHandler(authService, logger)

	quotas := quota.NewService(quota.NewRepository(database), quota.Limits{
		MaxBytes:        cfg.Storage.MaxBytes,
		MaxFiles:        int64(cfg.Storage.MaxFiles),
		MaxFilesPerIdea: int64(cfg.Storage.MaxFilesPerIdea),
	}, logger)
	attachments := attachment.NewService(attachment.NewRepository(database), blobs, quotas, logger).
		WithPublicBaseURL(cfg.PublicBaseURL).
		WithMaxUploadBytes(cfg.Storage.MaxUploadBytes)

	cleanup := maintenance.NewCleanupHandler(NewCleaner(cfg, database), logger, cfg.CronSecret)

	handlers := routeHandlers{
		auth:        authHandler,
		ideas:       idea.NewHandler(idea.NewRepository(database), attachments, logger),
		attachments: attachment.NewHandler(attachments, logger),
		stats:       stats.NewHandler(stats.NewRepository(database), logger),
		cleanup:     cleanup,
		health:      healthHandler(database),
	}

	return &Runtime{
		Handler: newRouter(cfg, logger, proxies, limiter, policies, handlers),
		Close:   closeAll,
	}, nil
}

// OpenDatabase opens the configured database with the configured pool.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*db.Conn, error) {
	return db.Open(ctx, cfg.Database.URL, db.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
}

// NewCleaner builds the retention job. The rate_limits table is swept only
// when it is the configured counter store.
func NewCleaner(cfg *config.Config, database *db.Conn) *maintenance.Cleaner {
	var sweeper maintenance.CounterSweeper
	if cfg.RateLimit.Store == config.StoreSQL {
		sweeper = ratelimit.NewRepository(database)
	}
	return maintenance.NewCleaner(auth.NewRepository(database), lockout.NewRepository(database), sweeper, maintenance.Options{
		RefreshRetention: cfg.Cleanup.RefreshTokenRetention,
		AttemptRetention: cfg.Cleanup.LoginAttemptRetention,
		BatchSize:        cfg.Cleanup.BatchSize,
	})
}

func newPublisher(cfg *config.Config, logger *observability.Logger) audit.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return audit.Nop{}
	}
	logger.Info("audit_publisher_enabled", map[string]any{
		"brokers": len(cfg.Kafka.Brokers),
		"topic":   cfg.Kafka.SecurityTopic,
	})
	return audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.SecurityTopic, logger)
}

func newCounterStore(ctx context.Context, cfg *config.Config, database *db.Conn) (ratelimit.CounterStore, *redis.Client, error) {
	if cfg.RateLimit.Store != config.StoreRedis {
		return ratelimit.NewRepository(database), nil, nil
	}
	client, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.NewRedisStore(client), client, nil
}

func newBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendCloudinary:
		store, err := blob.NewCloudinary(cfg.Storage.CloudinaryURL)
		if err != nil {
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		return store, nil
	default:
		store, err := blob.NewLocal(cfg.Storage.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	}
}

func policiesFromConfig(cfg *config.Config) (ratelimit.Policies, error) {
	policies := ratelimit.DefaultPolicies()
	for name, policy := range cfg.RateLimit.Policies {
		if err := policies.Override(name, policy.Max, policy.Window); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

type routeHandlers struct {
	auth        *auth.Handler
	ideas       *idea.Handler
	attachments *attachment.Handler
	stats       *stats.Handler
	cleanup     *maintenance.CleanupHandler
	health      http.HandlerFunc
}

func newRouter(cfg *config.Config, logger *observability.Logger, proxies *observability.TrustedProxies, limiter *ratelimit.Limiter, policies ratelimit.Policies, h routeHandlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.ClientIPMiddleware(proxies))
	r.Use(observability.RecoverMiddleware(logger))
	r.Use(observability.RequestLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	limit := func(name string, key ratelimit.KeyFunc) func(http.Handler) http.Handler {
		return limiter.Middleware(policies.Get(name), key)
	}
	byUser := func(prefix string) ratelimit.KeyFunc {
		return func(r *http.Request) string {
			userID := auth.UserIDFromContext(r.Context())
			if userID == "" {
				return ""
			}
			return prefix + ":" + userID
		}
	}

	r.Get("/health", h.health)
	r.Get("/internal/maintenance/cleanup", h.cleanup.Handle)
	r.Post("/internal/maintenance/cleanup", h.cleanup.Handle)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(limit(ratelimit.PolicyAuth, ratelimit.ByClientIP("auth:register"))).Post("/register", h.auth.Register)
			r.With(limit(ratelimit.PolicyAuth, ratelimit.ByClientIP("auth:login"))).Post("/login", h.auth.Login)
			r.Post("/refresh", h.auth.Refresh)
			r.Post("/logout", h.auth.Logout)
			r.With(auth.Middleware(cfg.Auth.JWTSecret)).Get("/me", h.auth.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Auth.JWTSecret))
			r.Use(limit(ratelimit.PolicyAPI, byUser("api")))

			r.Route("/ideas", func(r chi.Router) {
				r.Get("/", h.ideas.List)
				r.With(limit(ratelimit.PolicyCreateIdea, byUser("idea:create"))).Post("/", h.ideas.Create)
				r.Get("/{id}", h.ideas.Get)
				r.Put("/{id}", h.ideas.Update)
				r.Delete("/{id}", h.ideas.Delete)
			})

			r.Route("/attachments", func(r chi.Router) {
				r.With(limit(ratelimit.PolicyAddURL, byUser("attachment:url"))).Post("/add-url", h.attachments.AddURL)
				r.With(limit(ratelimit.PolicyUpload, byUser("upload"))).Post("/upload", h.attachments.Upload)
				r.Get("/storage", h.attachments.Storage)
				r.Get("/file/{name}", h.attachments.GetFile)
				r.Delete("/{id}", h.attachments.Delete)
			})

			r.Get("/stats", h.stats.Get)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	return r
}

func healthHandler(database *db.Conn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
