package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PROPERTYHUB"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultEnvironment       = "production"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "propertyhub.db"
	defaultLogLevel          = "info"
	defaultSessionIssuer     = "propertyhub-auth"
	defaultCookieName        = "app_session"
	defaultCachePrefix       = "cache"
	defaultCacheTTL          = 60 * time.Second
	defaultRateLimitRequests = 120
	defaultRateLimitWindow   = time.Minute
	defaultUploadsDir        = "uploads"
	defaultUploadsPrefix     = "/uploads"
	defaultStorageDriver     = "local"
	defaultImageStoreMode    = "auto"
	defaultImageProbeTTL     = 30 * time.Second
	defaultTxTimeout         = 30 * time.Second
	defaultBulkTxTimeout     = 60 * time.Second
	defaultTxLockWait        = 5 * time.Second
	defaultTxMaxAttempts     = 3
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	Environment    string
	AllowedOrigins []string

	DatabaseDriver      string
	DatabaseDSN         string
	DatabaseAutoMigrate bool

	LogLevel string

	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string

	RedisURL    string
	CachePrefix string
	CacheTTL    time.Duration

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	StorageDriver       string
	UploadsDir          string
	UploadsPublicPrefix string
	S3Region            string
	S3Bucket            string
	S3AccessKey         string
	S3SecretKey         string
	S3Endpoint          string

	ImageStoreMode string
	ImageProbeTTL  time.Duration

	TxTimeout     time.Duration
	BulkTxTimeout time.Duration
	TxLockWait    time.Duration
	TxMaxAttempts int
}

// IsDevelopment reports whether verbose, developer-facing behaviour is enabled.
func (c AppConfig) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("app.environment", defaultEnvironment)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("database.auto_migrate", true)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("cache.prefix", defaultCachePrefix)
	configViper.SetDefault("cache.ttl", defaultCacheTTL)
	configViper.SetDefault("rate_limit.enabled", true)
	configViper.SetDefault("rate_limit.requests", defaultRateLimitRequests)
	configViper.SetDefault("rate_limit.window", defaultRateLimitWindow)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("uploads.dir", defaultUploadsDir)
	configViper.SetDefault("uploads.public_prefix", defaultUploadsPrefix)
	configViper.SetDefault("images.store_mode", defaultImageStoreMode)
	configViper.SetDefault("images.probe_ttl", defaultImageProbeTTL)
	configViper.SetDefault("transactions.timeout", defaultTxTimeout)
	configViper.SetDefault("transactions.bulk_timeout", defaultBulkTxTimeout)
	configViper.SetDefault("transactions.lock_wait", defaultTxLockWait)
	configViper.SetDefault("transactions.max_attempts", defaultTxMaxAttempts)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		Environment:    strings.ToLower(strings.TrimSpace(configViper.GetString("app.environment"))),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),

		DatabaseDriver:      strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		DatabaseAutoMigrate: configViper.GetBool("database.auto_migrate"),

		LogLevel: configViper.GetString("log.level"),

		SessionSigningSecret: configViper.GetString("auth.signing_secret"),
		SessionIssuer:        configViper.GetString("auth.issuer"),
		SessionCookieName:    configViper.GetString("auth.cookie_name"),

		RedisURL:    strings.TrimSpace(configViper.GetString("redis.url")),
		CachePrefix: configViper.GetString("cache.prefix"),
		CacheTTL:    configViper.GetDuration("cache.ttl"),

		RateLimitEnabled:  configViper.GetBool("rate_limit.enabled"),
		RateLimitRequests: configViper.GetInt("rate_limit.requests"),
		RateLimitWindow:   configViper.GetDuration("rate_limit.window"),

		StorageDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		UploadsDir:          configViper.GetString("uploads.dir"),
		UploadsPublicPrefix: configViper.GetString("uploads.public_prefix"),
		S3Region:            configViper.GetString("s3.region"),
		S3Bucket:            configViper.GetString("s3.bucket"),
		S3AccessKey:         configViper.GetString("s3.access_key"),
		S3SecretKey:         configViper.GetString("s3.secret_key"),
		S3Endpoint:          configViper.GetString("s3.endpoint"),

		ImageStoreMode: strings.ToLower(strings.TrimSpace(configViper.GetString("images.store_mode"))),
		ImageProbeTTL:  configViper.GetDuration("images.probe_ttl"),

		TxTimeout:     configViper.GetDuration("transactions.timeout"),
		BulkTxTimeout: configViper.GetDuration("transactions.bulk_timeout"),
		TxLockWait:    configViper.GetDuration("transactions.lock_wait"),
		TxMaxAttempts: configViper.GetInt("transactions.max_attempts"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.StorageDriver {
	case "local":
		if strings.TrimSpace(c.UploadsDir) == "" {
			return fmt.Errorf("uploads.dir is required for local storage")
		}
		if !strings.HasPrefix(c.UploadsPublicPrefix, "/") {
			return fmt.Errorf("uploads.public_prefix must start with /")
		}
	case "s3":
		if strings.TrimSpace(c.S3Bucket) == "" || strings.TrimSpace(c.S3Region) == "" {
			return fmt.Errorf("s3.bucket and s3.region are required for s3 storage")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.StorageDriver)
	}
	switch c.ImageStoreMode {
	case "auto", "enabled", "disabled":
	default:
		return fmt.Errorf("images.store_mode %q is not supported", c.ImageStoreMode)
	}
	if c.ImageProbeTTL <= 0 {
		return fmt.Errorf("images.probe_ttl must be positive")
	}
	if c.TxTimeout <= 0 || c.BulkTxTimeout <= 0 || c.TxLockWait <= 0 {
		return fmt.Errorf("transaction timeouts must be positive")
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("transactions.max_attempts must be at least 1")
	}
	if c.RateLimitEnabled && (c.RateLimitRequests < 1 || c.RateLimitWindow <= 0) {
		return fmt.Errorf("rate_limit.requests and rate_limit.window must be positive")
	}
	return nil
}
