package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	syncapp "github.com/salesledger/backend/internal/application/sync"
	syncdomain "github.com/salesledger/backend/internal/domain/sync"
	"github.com/salesledger/backend/internal/infrastructure/aggregator"
	"github.com/salesledger/backend/internal/infrastructure/browser"
	"github.com/salesledger/backend/internal/infrastructure/cache"
	"github.com/salesledger/backend/internal/infrastructure/captcha"
	"github.com/salesledger/backend/internal/infrastructure/config"
	"github.com/salesledger/backend/internal/infrastructure/legacydb"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"github.com/salesledger/backend/internal/infrastructure/mailbox"
	"github.com/salesledger/backend/internal/infrastructure/persistence"
	"github.com/salesledger/backend/internal/infrastructure/scheduler"
	"github.com/salesledger/backend/internal/infrastructure/vault"
	"github.com/salesledger/backend/internal/interfaces/http/handler"
	"github.com/salesledger/backend/internal/interfaces/http/middleware"
	"github.com/salesledger/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Sales Ledger Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Secrets vault for integration settings at rest
	secrets := vault.New(cfg.Vault.MasterKey)

	// Initialize repositories
	saleRecordRepo := persistence.NewGormSaleRecordRepository(db.DB)
	syncRunRepo := persistence.NewGormSyncRunRepository(db.DB)
	settingsRepo := persistence.NewGormSettingsRepository(db.DB, secrets)

	// Session persistence: Redis with in-memory fallback so a missing Redis
	// only costs session reuse, not the whole service
	var sessionStore syncdomain.SessionStore
	redisStore, err := cache.NewRedisSessionStore(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, sessions will not survive restarts", zap.Error(err))
		sessionStore = cache.NewInMemorySessionStore()
	} else {
		sessionStore = redisStore
		defer func() {
			if err := redisStore.Close(); err != nil {
				log.Error("Error closing Redis", zap.Error(err))
			}
		}()
		log.Info("Redis connected successfully")
	}

	// Aggregator gateways are built per run: the login identity and base URL
	// live in the settings table, not in process configuration
	gatewayFactory := newAggregatorGatewayFactory(cfg, sessionStore, log)

	// Legacy database connector
	legacyConnector := legacydb.NewConnector(log.Named("legacydb"))

	// Sync application service
	syncService := syncapp.NewService(
		gatewayFactory,
		legacyConnector,
		saleRecordRepo,
		syncRunRepo,
		settingsRepo,
		log.Named("sync"),
		syncapp.WithLegacyCharset(cfg.LegacyDB.Charset),
	)

	// Scheduled sync supervisor
	supervisor := scheduler.NewSupervisor(scheduler.SupervisorConfig{
		Interval: cfg.Scheduler.Interval,
	}, syncService, log.Named("scheduler"))
	if cfg.Scheduler.Enabled {
		if err := supervisor.Start(context.Background()); err != nil {
			log.Fatal("Failed to start sync supervisor", zap.Error(err))
		}
		log.Info("Sync supervisor started",
			zap.Duration("interval", cfg.Scheduler.Interval))
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.Logger(log))
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.HTTP.CORSAllowOrigins,
		AllowMethods: cfg.HTTP.CORSAllowMethods,
		AllowHeaders: cfg.HTTP.CORSAllowHeaders,
	}))

	// Routes
	r := router.NewRouter(engine)
	r.Register(handler.NewSyncHandler(syncService))
	r.Setup()

	engine.GET("/health/db", healthHandler(db))

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := supervisor.Stop(ctx); err != nil {
		log.Warn("Supervisor did not stop cleanly", zap.Error(err))
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newAggregatorGatewayFactory builds a factory that assembles the full
// aggregator pipeline (HTTP client, captcha solver, mailbox poller, browser
// login, session manager) from the stored integration settings. Construction
// failures surface as run failures rather than boot failures: an operator can
// fix settings while the service stays up.
func newAggregatorGatewayFactory(
	cfg *config.Config,
	sessionStore syncdomain.SessionStore,
	log *zap.Logger,
) syncapp.AggregatorGatewayFactory {
	return func(settings *syncdomain.IntegrationSettings) (syncapp.AggregatorGateway, error) {
		client, err := aggregator.NewClient(&aggregator.ClientConfig{
			BaseURL: settings.BaseURL,
		}, log.Named("aggregator"))
		if err != nil {
			return nil, err
		}

		solver, err := captcha.NewSolver(&captcha.Config{
			APIKey:         cfg.Captcha.APIKey,
			BaseURL:        cfg.Captcha.BaseURL,
			TimeoutSeconds: cfg.Captcha.TimeoutSeconds,
		}, log.Named("captcha"))
		if err != nil {
			return nil, err
		}

		reader, err := mailbox.NewIMAPReader(&mailbox.Config{
			Host:            cfg.Mailbox.Host,
			Port:            cfg.Mailbox.Port,
			Username:        cfg.Mailbox.Username,
			Password:        cfg.Mailbox.Password,
			Sender:          cfg.Mailbox.Sender,
			SubjectContains: cfg.Mailbox.SubjectContains,
		}, log.Named("mailbox"))
		if err != nil {
			return nil, err
		}

		loginURL := cfg.Browser.LoginURL
		if loginURL == "" {
			loginURL = strings.TrimRight(settings.BaseURL, "/") + "/login"
		}
		newDriver := func(ctx context.Context) (syncdomain.LoginDriver, error) {
			return browser.NewChromeDriver(&browser.Config{
				LoginURL:  loginURL,
				RemoteURL: cfg.Browser.RemoteURL,
				Headless:  cfg.Browser.Headless,
				NoSandbox: cfg.Browser.NoSandbox,
				Logger:    log.Named("browser"),
			})
		}

		sessions, err := aggregator.NewSessionManager(&aggregator.SessionManagerConfig{
			Email:    settings.Email,
			Password: settings.Password,
		}, sessionStore, solver, reader, newDriver, client, log.Named("session"))
		if err != nil {
			return nil, err
		}

		return aggregator.NewGateway(sessions, client), nil
	}
}

// healthHandler reports database reachability for deep health probes
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
