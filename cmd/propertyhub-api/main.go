package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/config"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/database"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/server"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "propertyhub-api",
		Short: "PropertyHub property management backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply schema and data migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations()
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("environment", defaults.GetString("app.environment"), "Runtime environment (development, production)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for caching and rate limiting")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "Upload storage driver (local, s3)")
	cmd.PersistentFlags().String("uploads-dir", defaults.GetString("uploads.dir"), "Directory for locally stored uploads")
	cmd.PersistentFlags().String("image-store-mode", defaults.GetString("images.store_mode"), "Image table mode (auto, enabled, disabled)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "app.environment", "environment")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "uploads.dir", "uploads-dir")
	bindFlag(cmd, "images.store_mode", "image-store-mode")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.IsDevelopment())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger, autoMigrate bool) (*gorm.DB, func(), error) {
	db, err := database.Open(database.Config{
		Driver:      appConfig.DatabaseDriver,
		DSN:         appConfig.DatabaseDSN,
		AutoMigrate: autoMigrate,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func runMigrations() error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeDB, err := openDatabase(appConfig, logger, false)
	if err != nil {
		return err
	}
	defer closeDB()
	return database.Migrate(db, logger)
}

func openStorage(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (storage.Storage, *server.Uploads, error) {
	if appConfig.StorageDriver == "s3" {
		store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Region:    appConfig.S3Region,
			Bucket:    appConfig.S3Bucket,
			AccessKey: appConfig.S3AccessKey,
			SecretKey: appConfig.S3SecretKey,
			Endpoint:  appConfig.S3Endpoint,
			Logger:    logger,
		})
		return store, nil, err
	}
	store, err := storage.NewLocalStorage(appConfig.UploadsDir, appConfig.UploadsPublicPrefix)
	if err != nil {
		return nil, nil, err
	}
	return store, &server.Uploads{Dir: store.Root(), PublicPrefix: store.PublicPrefix()}, nil
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// cache and rate limiter then step aside.
func connectRedis(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) *redis.Client {
	if appConfig.RedisURL == "" {
		logger.Info("redis not configured; caching and rate limiting disabled")
		return nil
	}
	client, err := cache.NewRedisClient(ctx, appConfig.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable; caching and rate limiting disabled", zap.Error(err))
		return nil
	}
	return client
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if !appConfig.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, closeDB, err := openDatabase(appConfig, logger, appConfig.DatabaseAutoMigrate)
	if err != nil {
		return err
	}
	defer closeDB()

	imageStoreMode, err := properties.ParseImageStoreMode(appConfig.ImageStoreMode)
	if err != nil {
		return err
	}
	probe, err := properties.NewImageStoreProbe(properties.ProbeConfig{
		Database: db,
		Mode:     imageStoreMode,
		TTL:      appConfig.ImageProbeTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := probe.Prime(ctx); err != nil {
		return err
	}

	store, uploads, err := openStorage(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	cleaner := storage.NewCleaner(store, logger, 0)
	defer cleaner.Wait()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}

	propertyService, err := properties.NewService(properties.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: properties.NewUUIDProvider(),
		Logger:     logger,
		Probe:      probe,
		Locations:  properties.LocationPolicy{UploadsPrefix: appConfig.UploadsPublicPrefix},
		Transactions: properties.TxSettings{
			Timeout:     appConfig.TxTimeout,
			BulkTimeout: appConfig.BulkTxTimeout,
			LockWait:    appConfig.TxLockWait,
			MaxAttempts: appConfig.TxMaxAttempts,
		},
		Storage: store,
		Cleaner: cleaner,
		Users:   userService,
	})
	if err != nil {
		return err
	}

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: properties.NewUUIDProvider(),
		Logger:     logger,
		Properties: propertyService,
		Storage:    store,
		Cleaner:    cleaner,
	})
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: properties.NewUUIDProvider(),
		Logger:     logger,
		Properties: propertyService,
	})
	if err != nil {
		return err
	}

	redisClient := connectRedis(ctx, appConfig, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	var limiter *ratelimit.Limiter
	if appConfig.RateLimitEnabled {
		limiter = ratelimit.New(redisClient, ratelimit.Config{
			Requests: appConfig.RateLimitRequests,
			Window:   appConfig.RateLimitWindow,
			Logger:   logger,
			Reject:   server.RejectRateLimited,
		})
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:        sessionValidator,
		Users:           userService,
		PropertyService: propertyService,
		DocumentService: documentService,
		NotesService:    notesService,
		Cache:           cache.New(redisClient, appConfig.CachePrefix, logger),
		CacheTTL:        appConfig.CacheTTL,
		RateLimiter:     limiter,
		Uploads:         uploads,
		AllowedOrigins:  appConfig.AllowedOrigins,
		Development:     appConfig.IsDevelopment(),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("environment", appConfig.Environment))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		propertyService.WaitForCleanup()
		documentService.WaitForCleanup()
		logger.Info("server stopped")
		return err
	case err := <-errCh:
		return err
	}
}
