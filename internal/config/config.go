package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv             string
	Port               string
	LogLevel           string
	SentryDSN          string
	CORSAllowedOrigins []string
	TrustedProxies     []string
	RunMigrations      bool
	PublicBaseURL      string
	CronSecret         string

	Database  DatabaseConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Kafka     KafkaConfig
	Cleanup   CleanupConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type AuthConfig struct {
	JWTSecret        string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	LoginMaxAttempts int
	LoginLockFor     time.Duration
}

type PolicyConfig struct {
	Max    int
	Window time.Duration
}

type RateLimitConfig struct {
	Store    string
	RedisURL string
	Policies map[string]PolicyConfig
}

type StorageConfig struct {
	Backend         string
	LocalDir        string
	CloudinaryURL   string
	MaxBytes        int64
	MaxFiles        int
	MaxFilesPerIdea int
	MaxUploadBytes  int64
}

type KafkaConfig struct {
	Brokers       []string
	SecurityTopic string
}

type CleanupConfig struct {
	RefreshTokenRetention time.Duration
	LoginAttemptRetention time.Duration
	BatchSize             int
}

const (
	StoreSQL   = "sql"
	StoreRedis = "redis"

	BackendLocal      = "local"
	BackendCloudinary = "cloudinary"
)

// PolicyNames lists the rate limit policies configurable through
// RATE_LIMIT_<NAME>_MAX and RATE_LIMIT_<NAME>_WINDOW_SECONDS.
var PolicyNames = []string{"auth", "upload", "create_idea", "add_url", "api"}

var defaultPolicies = map[string]PolicyConfig{
	"auth":        {Max: 5, Window: 900 * time.Second},
	"upload":      {Max: 10, Window: 3600 * time.Second},
	"create_idea": {Max: 20, Window: 86400 * time.Second},
	"add_url":     {Max: 30, Window: 3600 * time.Second},
	"api":         {Max: 100, Window: 60 * time.Second},
}

type Options struct {
	// ConfigFile is an optional yaml/toml/json file with the same flat keys
	// as the environment, lower-cased.
	ConfigFile string
	LoadDotEnv bool
}

func Load(options Options) (*Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if options.ConfigFile != "" {
		v.SetConfigFile(options.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:             stringOr(v, "app_env", "development"),
		Port:               stringOr(v, "port", "8080"),
		LogLevel:           stringOr(v, "log_level", "info"),
		SentryDSN:          strings.TrimSpace(v.GetString("sentry_dsn")),
		CORSAllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
		TrustedProxies:     splitList(v.GetString("trusted_proxies")),
		RunMigrations:      v.GetBool("run_migrations_on_startup"),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(v.GetString("public_base_url")), "/"),
		CronSecret:         strings.TrimSpace(v.GetString("cron_secret")),
		Database: DatabaseConfig{
			URL:             stringOr(v, "database_url", "sqlite:data/ideatracker.db"),
			MaxOpenConns:    positiveInt(v, "db_max_open_conns", 10),
			MaxIdleConns:    positiveInt(v, "db_max_idle_conns", 5),
			ConnMaxLifetime: time.Duration(positiveInt(v, "db_conn_max_lifetime_minutes", 30)) * time.Minute,
			ConnMaxIdleTime: time.Duration(positiveInt(v, "db_conn_max_idle_time_minutes", 10)) * time.Minute,
		},
		Auth: AuthConfig{
			JWTSecret:        strings.TrimSpace(v.GetString("jwt_secret")),
			AccessTokenTTL:   time.Duration(positiveInt(v, "access_token_ttl_minutes", 15)) * time.Minute,
			RefreshTokenTTL:  time.Duration(positiveInt(v, "refresh_token_ttl_hours", 168)) * time.Hour,
			LoginMaxAttempts: positiveInt(v, "login_max_attempts", 5),
			LoginLockFor:     time.Duration(positiveInt(v, "login_lock_minutes", 15)) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Store:    strings.ToLower(stringOr(v, "rate_limit_store", StoreSQL)),
			RedisURL: strings.TrimSpace(v.GetString("redis_url")),
			Policies: make(map[string]PolicyConfig, len(PolicyNames)),
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(stringOr(v, "blob_backend", BackendLocal)),
			LocalDir:        stringOr(v, "blob_local_dir", "data/uploads"),
			CloudinaryURL:   strings.TrimSpace(v.GetString("cloudinary_url")),
			MaxBytes:        int64(positiveInt(v, "storage_max_bytes", 100*1024*1024)),
			MaxFiles:        positiveInt(v, "storage_max_files", 50),
			MaxFilesPerIdea: positiveInt(v, "storage_max_files_per_idea", 10),
			MaxUploadBytes:  int64(positiveInt(v, "max_upload_bytes", 10*1024*1024)),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(v.GetString("kafka_brokers")),
			SecurityTopic: stringOr(v, "kafka_security_topic", "ideatracker.security"),
		},
		Cleanup: CleanupConfig{
			RefreshTokenRetention: time.Duration(positiveInt(v, "auth_refresh_token_retention_days", 14)) * 24 * time.Hour,
			LoginAttemptRetention: time.Duration(positiveInt(v, "auth_login_attempt_retention_days", 30)) * 24 * time.Hour,
			BatchSize:             positiveInt(v, "auth_cleanup_batch_size", 500),
		},
	}

	for _, name := range PolicyNames {
		fallback := defaultPolicies[name]
		prefix := "rate_limit_" + name
		cfg.RateLimit.Policies[name] = PolicyConfig{
			Max:    positiveInt(v, prefix+"_max", fallback.Max),
			Window: time.Duration(positiveInt(v, prefix+"_window_seconds", int(fallback.Window/time.Second))) * time.Second,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []error
	if c.Auth.JWTSecret == "" {
		problems = append(problems, errors.New("missing required env: JWT_SECRET"))
	}
	switch c.RateLimit.Store {
	case StoreSQL:
	case StoreRedis:
		if c.RateLimit.RedisURL == "" {
			problems = append(problems, errors.New("REDIS_URL is required when RATE_LIMIT_STORE=redis"))
		}
	default:
		problems = append(problems, fmt.Errorf("unsupported RATE_LIMIT_STORE: %q", c.RateLimit.Store))
	}
	switch c.Storage.Backend {
	case BackendLocal:
	case BackendCloudinary:
		if c.Storage.CloudinaryURL == "" {
			problems = append(problems, errors.New("CLOUDINARY_URL is required when BLOB_BACKEND=cloudinary"))
		}
	default:
		problems = append(problems, fmt.Errorf("unsupported BLOB_BACKEND: %q", c.Storage.Backend))
	}
	for name, policy := range c.RateLimit.Policies {
		if policy.Max <= 0 || policy.Window <= 0 {
			problems = append(problems, fmt.Errorf("rate limit policy %s must have positive max and window", name))
		}
	}
	return errors.Join(problems...)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("run_migrations_on_startup", true)
	v.SetDefault("rate_limit_store", StoreSQL)
	v.SetDefault("blob_backend", BackendLocal)
}

func stringOr(v *viper.Viper, key, fallback string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return fallback
	}
	return value
}

func positiveInt(v *viper.Viper, key string, fallback int) int {
	if !v.IsSet(key) {
		return fallback
	}
	parsed := v.GetInt(key)
	if parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
