package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/clinsuite/auth-service/internal/models"
	pkgauth "github.com/clinsuite/auth-service/pkg/auth"
	pkglogger "github.com/clinsuite/auth-service/pkg/logger"
)

// IdentityRepository defines the persistence operations for identities
type IdentityRepository interface {
	GetByID(ctx context.Context, id string) (*models.Identity, error)
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	Create(ctx context.Context, identity *models.Identity) (*models.Identity, error)
	UpdateLockout(ctx context.Context, identityID string, failedCount int, lockUntil *time.Time) error
	UpdatePassword(ctx context.Context, identity *models.Identity) error
	SetResetToken(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) error
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error)
	UpdateLastLogin(ctx context.Context, identityID string, at time.Time) error
}

// AccessTokenIssuer mints signed access tokens
type AccessTokenIssuer interface {
	IssueAccessToken(identityID, email, role string, clinicID *string) (string, error)
	AccessTokenTTL() time.Duration
}

// RevocationStore records revoked access tokens until their natural expiry
type RevocationStore interface {
	Add(ctx context.Context, token string, expiresAt time.Time) error
}

// LockoutRecorder applies failed/successful login transitions to an identity
type LockoutRecorder interface {
	RecordFailure(ctx context.Context, identity *models.Identity) error
	RecordSuccess(ctx context.Context, identity *models.Identity) error
}

// TimingWaiter equalizes response timing across authentication outcomes
type TimingWaiter interface {
	Wait(success bool)
}

// SessionService is the façade over credential verification, token issuance
// and session teardown. Handlers talk to this and to PasswordService only.
type SessionService struct {
	identities     IdentityRepository
	tokens         *RefreshTokenStore
	issuer         AccessTokenIssuer
	revoked        RevocationStore
	lockout        LockoutRecorder
	timing         TimingWaiter
	auditLogger    *pkglogger.AuditLogger
	passwordExpiry time.Duration
	logger         *slog.Logger
}

func NewSessionService(
	identities IdentityRepository,
	tokens *RefreshTokenStore,
	issuer AccessTokenIssuer,
	revoked RevocationStore,
	lockout LockoutRecorder,
	timing TimingWaiter,
	auditLogger *pkglogger.AuditLogger,
	passwordExpiry time.Duration,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		identities:     identities,
		tokens:         tokens,
		issuer:         issuer,
		revoked:        revoked,
		lockout:        lockout,
		timing:         timing,
		auditLogger:    auditLogger,
		passwordExpiry: passwordExpiry,
		logger:         logger,
	}
}

// IdentityResponse represents an identity in HTTP responses. Credential
// material never appears here.
type IdentityResponse struct {
	ID                     string  `json:"id"`
	Name                   string  `json:"name"`
	Email                  string  `json:"email"`
	Role                   string  `json:"role"`
	ClinicID               *string `json:"clinic_id,omitempty"`
	Active                 bool    `json:"active"`
	LastLogin              *string `json:"last_login,omitempty"`
	RequiresPasswordChange bool    `json:"requires_password_change"`
	CreatedAt              string  `json:"created_at"`
	UpdatedAt              string  `json:"updated_at"`
}

// AuthResponse represents the response from session-establishing operations
type AuthResponse struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	ExpiresIn    int64             `json:"expires_in"`
	Identity     *IdentityResponse `json:"identity"`
}

// RegisterRequest carries the fields accepted at registration
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
	Role     string
	ClinicID *string
	Device   models.DeviceInfo
}

// Register creates a new identity and establishes its first session
func (s *SessionService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)

	if email == "" {
		return nil, models.NewValidationError("email is required")
	}
	if name == "" {
		return nil, models.NewValidationError("name is required")
	}

	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	// Check for an existing identity before attempting the insert; the
	// unique index on email is the real guarantee
	_, err := s.identities.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: identity already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check for existing identity", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	expiresAt := now.Add(s.passwordExpiry)
	identity := &models.Identity{
		Name:              name,
		Email:             email,
		Role:              req.Role,
		ClinicID:          req.ClinicID,
		Active:            true,
		PasswordChangedAt: &now,
		PasswordExpiresAt: &expiresAt,
	}
	if identity.Role == "" {
		identity.Role = models.RoleAdmin
	}

	if err := identity.SetPassword(req.Password); err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	created, err := s.identities.Create(ctx, identity)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create identity", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("identity registered", slog.String("identity_id", created.ID))
	s.auditLogger.LogAccountAction("identity_registered", created.ID, req.Device.IPAddress, nil)

	return s.establishSession(ctx, created, req.Device)
}

// Login verifies credentials and establishes a session. Unknown email and
// wrong password both return ErrUnauthorized so the two cases are
// indistinguishable to the caller, and the timing delay keeps them
// indistinguishable on the wire.
func (s *SessionService) Login(ctx context.Context, email, password string, device models.DeviceInfo) (*AuthResponse, error) {
	resp, err := s.login(ctx, email, password, device)
	s.timing.Wait(err == nil)
	return resp, err
}

func (s *SessionService) login(ctx context.Context, email, password string, device models.DeviceInfo) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrUnauthorized
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("login failed: invalid credentials")
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     device.IPAddress,
				UserAgent:     device.UserAgent,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get identity by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if identity.IsLocked() {
		s.logger.Info("login blocked: account locked", slog.String("identity_id", identity.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			IdentityID:    identity.ID,
			IPAddress:     device.IPAddress,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, models.ErrAccountLocked
	}

	if !identity.Active {
		s.logger.Info("login blocked: account inactive", slog.String("identity_id", identity.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			IdentityID:    identity.ID,
			IPAddress:     device.IPAddress,
			FailureReason: "account_inactive",
			Success:       false,
		})
		return nil, models.ErrAccountInactive
	}

	if !identity.ComparePassword(password) {
		if err := s.lockout.RecordFailure(ctx, identity); err != nil {
			s.logger.Error("failed to record login failure",
				slog.String("identity_id", identity.ID), slog.Any("error", err))
		}
		s.logger.Info("login failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			IdentityID:    identity.ID,
			IPAddress:     device.IPAddress,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		if identity.IsLocked() {
			return nil, models.ErrAccountLocked
		}
		return nil, models.ErrUnauthorized
	}

	if err := s.lockout.RecordSuccess(ctx, identity); err != nil {
		s.logger.Error("failed to clear lockout state",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
	}

	now := time.Now()
	if err := s.identities.UpdateLastLogin(ctx, identity.ID, now); err != nil {
		s.logger.Error("failed to update last login",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
	}
	identity.LastLogin = &now

	s.logger.Info("identity logged in", slog.String("identity_id", identity.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:  "login_success",
		IdentityID: identity.ID,
		IPAddress:  device.IPAddress,
		UserAgent:  device.UserAgent,
		DeviceID:   device.DeviceID,
		Success:    true,
	})

	return s.establishSession(ctx, identity, device)
}

// Refresh rotates the presented refresh token and returns a fresh token pair.
// Any rotation failure surfaces as ErrUnauthorized except inactive accounts,
// which keep their specific error.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	identity, next, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrAccountInactive) {
			return nil, models.ErrAccountInactive
		}
		if errors.Is(err, models.ErrInvalidRefreshToken) {
			s.logger.Info("refresh rejected: invalid or rotated token")
			return nil, models.ErrUnauthorized
		}
		return nil, models.ErrInternalServer
	}

	accessToken, err := s.issuer.IssueAccessToken(identity.ID, identity.Email, identity.Role, identity.ClinicID)
	if err != nil {
		s.logger.Error("failed to issue access token",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("session refreshed", slog.String("identity_id", identity.ID))

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: next.Token,
		ExpiresIn:    int64(s.issuer.AccessTokenTTL().Seconds()),
		Identity:     identityToResponse(identity),
	}, nil
}

// Logout tears down the session: the refresh token is revoked and the access
// token is blacklisted until its natural expiry. Both steps are best effort;
// logout always succeeds from the caller's perspective.
func (s *SessionService) Logout(ctx context.Context, identityID, accessToken string, accessExpiry time.Time, refreshToken string) {
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		s.logger.Error("logout: failed to revoke refresh token",
			slog.String("identity_id", identityID), slog.Any("error", err))
	}

	if accessToken != "" {
		if err := s.revoked.Add(ctx, accessToken, accessExpiry); err != nil {
			s.logger.Error("logout: failed to blacklist access token",
				slog.String("identity_id", identityID), slog.Any("error", err))
		}
	}

	s.logger.Info("identity logged out", slog.String("identity_id", identityID))
	s.auditLogger.LogAccountAction("logout", identityID, "", nil)
}

// LogoutAll revokes every refresh token of the identity and blacklists the
// presented access token. Refresh tokens on other devices die immediately;
// their access tokens expire within the access TTL.
func (s *SessionService) LogoutAll(ctx context.Context, identityID, accessToken string, accessExpiry time.Time) error {
	if err := s.tokens.RevokeAll(ctx, identityID); err != nil {
		return err
	}

	if accessToken != "" {
		if err := s.revoked.Add(ctx, accessToken, accessExpiry); err != nil {
			s.logger.Error("logout all: failed to blacklist access token",
				slog.String("identity_id", identityID), slog.Any("error", err))
		}
	}

	s.logger.Info("identity logged out from all devices", slog.String("identity_id", identityID))
	s.auditLogger.LogAccountAction("logout_all", identityID, "", nil)
	return nil
}

// CurrentIdentity returns the caller's own identity for the /me endpoint
func (s *SessionService) CurrentIdentity(ctx context.Context, identityID string) (*IdentityResponse, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load identity", slog.String("identity_id", identityID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return identityToResponse(identity), nil
}

func (s *SessionService) establishSession(ctx context.Context, identity *models.Identity, device models.DeviceInfo) (*AuthResponse, error) {
	accessToken, err := s.issuer.IssueAccessToken(identity.ID, identity.Email, identity.Role, identity.ClinicID)
	if err != nil {
		s.logger.Error("failed to issue access token",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tokens.Issue(ctx, identity.ID, device)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    int64(s.issuer.AccessTokenTTL().Seconds()),
		Identity:     identityToResponse(identity),
	}, nil
}

// identityToResponse converts an identity model to its response DTO
func identityToResponse(identity *models.Identity) *IdentityResponse {
	resp := &IdentityResponse{
		ID:                     identity.ID,
		Name:                   identity.Name,
		Email:                  identity.Email,
		Role:                   identity.Role,
		ClinicID:               identity.ClinicID,
		Active:                 identity.Active,
		RequiresPasswordChange: identity.ForcePasswordChange || identity.PasswordIsExpired(),
		CreatedAt:              identity.CreatedAt.Format(time.RFC3339),
		UpdatedAt:              identity.UpdatedAt.Format(time.RFC3339),
	}
	if identity.LastLogin != nil {
		last := identity.LastLogin.Format(time.RFC3339)
		resp.LastLogin = &last
	}
	return resp
}
