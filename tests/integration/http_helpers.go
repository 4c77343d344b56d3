package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/clinsuite/auth-service/internal/auth"
	"github.com/clinsuite/auth-service/internal/blacklist"
	"github.com/clinsuite/auth-service/internal/database"
	"github.com/clinsuite/auth-service/internal/handlers"
	middlewareCustom "github.com/clinsuite/auth-service/internal/middleware"
	"github.com/clinsuite/auth-service/internal/routes"
	"github.com/clinsuite/auth-service/internal/services"
	pkghttp "github.com/clinsuite/auth-service/pkg/http"
	pkglogger "github.com/clinsuite/auth-service/pkg/logger"
)

// SentEmail represents a captured password reset email
type SentEmail struct {
	To    string
	Token string
}

// CapturingEmailSender records reset emails for test assertions
type CapturingEmailSender struct {
	SentEmails []SentEmail
	mu         sync.Mutex
}

func (c *CapturingEmailSender) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SentEmails = append(c.SentEmails, SentEmail{To: email, Token: token})
	return nil
}

// GetLastEmail returns the most recent email sent
func (c *CapturingEmailSender) GetLastEmail() *SentEmail {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.SentEmails) == 0 {
		return nil
	}
	return &c.SentEmails[len(c.SentEmails)-1]
}

// TestServer wraps httptest.Server with the full dependency graph over a
// real database and an in-process Redis.
type TestServer struct {
	Server      *httptest.Server
	DB          *database.DB
	EmailSender *CapturingEmailSender

	redisServer *miniredis.Miniredis
	redisClient *redis.Client
}

// NewTestServer wires a complete HTTP server: real repositories, miniredis
// blacklist, captured email. Timing delays are zeroed to keep the suite fast.
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	redisServer, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})

	identityRepo, refreshRepo := InitializeRepositories(db)

	auditLogger := pkglogger.NewAuditLogger(logger)
	tokenBlacklist := blacklist.New(redisClient, logger)

	issuer := auth.NewTokenIssuer(
		"integration-test-secret-at-least-32-chars",
		15*time.Minute,
		"clinsuite-api",
		"clinsuite-client",
		tokenBlacklist,
		logger,
	)

	lockoutTracker := auth.NewLockoutTracker(identityRepo, logger)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})

	emailSender := &CapturingEmailSender{}

	tokenStore := services.NewRefreshTokenStore(refreshRepo, identityRepo, 7*24*time.Hour, 5, logger)
	sessionService := services.NewSessionService(
		identityRepo, tokenStore, issuer, tokenBlacklist, lockoutTracker,
		timingDelay, auditLogger, 90*24*time.Hour, logger,
	)
	passwordService := services.NewPasswordService(
		identityRepo, tokenStore, emailSender, timingDelay, auditLogger,
		10*time.Minute, 90*24*time.Hour, logger,
	)

	authHandler := handlers.NewAuthHandler(sessionService, pkghttp.NewIPConfig(nil))
	passwordHandler := handlers.NewPasswordHandler(passwordService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, passwordHandler, issuer, identityRepo)

	return &TestServer{
		Server:      httptest.NewServer(r),
		DB:          db,
		EmailSender: emailSender,
		redisServer: redisServer,
		redisClient: redisClient,
	}, nil
}

// Close shuts down the test server and its Redis
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.redisClient != nil {
		_ = ts.redisClient.Close()
	}
	if ts.redisServer != nil {
		ts.redisServer.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse extracts access/refresh tokens from an auth response
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken string, err error) {
	defer resp.Body.Close()

	var authResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", "", fmt.Errorf("failed to parse response: %w", err)
	}

	if access, ok := authResp["access_token"].(string); ok {
		accessToken = access
	}
	if refresh, ok := authResp["refresh_token"].(string); ok {
		refreshToken = refresh
	}

	return
}

// GetErrorMessage extracts the error message from an error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
