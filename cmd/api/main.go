package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinsuite/auth-service/internal/auth"
	"github.com/clinsuite/auth-service/internal/background"
	"github.com/clinsuite/auth-service/internal/blacklist"
	"github.com/clinsuite/auth-service/internal/cache"
	"github.com/clinsuite/auth-service/internal/config"
	"github.com/clinsuite/auth-service/internal/database"
	"github.com/clinsuite/auth-service/internal/handlers"
	middlewareCustom "github.com/clinsuite/auth-service/internal/middleware"
	"github.com/clinsuite/auth-service/internal/models"
	"github.com/clinsuite/auth-service/internal/repositories"
	"github.com/clinsuite/auth-service/internal/routes"
	"github.com/clinsuite/auth-service/internal/services"
	pkghttp "github.com/clinsuite/auth-service/pkg/http"
	pkglogger "github.com/clinsuite/auth-service/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(&cfg.Database, logger); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize Redis for the access-token blacklist
	redisCache, err := cache.NewConnection(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisCache.Close()

	// Initialize repositories
	identityRepo := repositories.NewIdentityRepository(db)
	refreshRepo := repositories.NewRefreshTokenRepository(db)

	// Initialize security services
	auditLogger := pkglogger.NewAuditLogger(logger)
	tokenBlacklist := blacklist.New(redisCache.Client, logger)

	issuer := auth.NewTokenIssuer(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.TokenIssuer,
		cfg.Auth.TokenAudience,
		tokenBlacklist,
		logger,
	)

	lockoutTracker := auth.NewLockoutTracker(identityRepo, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	// Email delivery: SES when a sender address is configured, otherwise log
	// the reset links (development)
	var emailSender services.EmailSender
	if cfg.Email.FromAddress != "" {
		sesSender, err := services.NewAWSSESEmailSender(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.ResetURLBase,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize email sender", slog.Any("error", err))
			os.Exit(1)
		}
		emailSender = sesSender
	} else {
		if cfg.Server.Env == "production" {
			logger.Error("EMAIL_FROM_ADDRESS is required in production")
			os.Exit(1)
		}
		emailSender = services.NewLogEmailSender(cfg.Email.ResetURLBase, logger)
	}

	// Initialize services
	tokenStore := services.NewRefreshTokenStore(
		refreshRepo,
		identityRepo,
		cfg.Auth.RefreshTokenTTL(),
		cfg.Auth.MaxRefreshTokens,
		logger,
	)
	sessionService := services.NewSessionService(
		identityRepo,
		tokenStore,
		issuer,
		tokenBlacklist,
		lockoutTracker,
		timingDelay,
		auditLogger,
		cfg.Auth.PasswordExpiry(),
		logger,
	)
	passwordService := services.NewPasswordService(
		identityRepo,
		tokenStore,
		emailSender,
		timingDelay,
		auditLogger,
		cfg.Auth.ResetTokenTTL,
		cfg.Auth.PasswordExpiry(),
		logger,
	)

	// Initialize handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(sessionService, ipConfig)
	passwordHandler := handlers.NewPasswordHandler(passwordService)

	// Bootstrap first admin identity if configured. Registration requires an
	// authenticated admin, so the very first one has to come from here.
	bootstrapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminIdentity(bootstrapCtx, identityRepo, cfg.Auth.PasswordExpiry(), logger); err != nil {
		logger.Error("failed to ensure admin identity", slog.Any("error", err))
	}
	cancel()

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(refreshRepo, identityRepo, logger, cfg.Auth.CleanupInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, passwordHandler, issuer, identityRepo)

	// Health check with database and redis
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbStatus, redisStatus := "up", "up"
		if err := db.HealthCheck(ctx); err != nil {
			dbStatus = "down"
		}
		if err := redisCache.HealthCheck(ctx); err != nil {
			redisStatus = "down"
		}

		status := http.StatusOK
		overall := "healthy"
		if dbStatus == "down" || redisStatus == "down" {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}

		pkghttp.WriteJSON(w, status, map[string]string{
			"status":   overall,
			"database": dbStatus,
			"redis":    redisStatus,
		})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminIdentity creates the first admin if ADMIN_EMAIL and
// ADMIN_PASSWORD are set and no identity with that email exists yet.
func ensureAdminIdentity(ctx context.Context, identityRepo *repositories.IdentityRepository, passwordExpiry time.Duration, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin bootstrap")
		return nil
	}

	_, err := identityRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin identity already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check for existing admin: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(passwordExpiry)
	admin := &models.Identity{
		Email:             adminEmail,
		Name:              "Admin",
		Role:              models.RoleAdmin,
		Active:            true,
		PasswordChangedAt: &now,
		PasswordExpiresAt: &expiresAt,
	}
	if err := admin.SetPassword(adminPassword); err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	if _, err := identityRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin identity: %w", err)
	}

	logger.Info("admin identity created")
	return nil
}
