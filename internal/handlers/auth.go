package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clinsuite/auth-service/internal/auth"
	"github.com/clinsuite/auth-service/internal/models"
	"github.com/clinsuite/auth-service/internal/services"
	pkghttp "github.com/clinsuite/auth-service/pkg/http"
)

// SessionServiceInterface defines the session operations the handler needs
type SessionServiceInterface interface {
	Register(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error)
	Login(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, identityID, accessToken string, accessExpiry time.Time, refreshToken string)
	LogoutAll(ctx context.Context, identityID, accessToken string, accessExpiry time.Time) error
	CurrentIdentity(ctx context.Context, identityID string) (*services.IdentityResponse, error)
}

// AuthHandler handles session-related HTTP requests
type AuthHandler struct {
	service  SessionServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service SessionServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Name     string  `json:"name" validate:"required,min=1,max=100"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required"`
	Role     string  `json:"role" validate:"omitempty,oneof=super_admin admin manager dentist assistant"`
	ClinicID *string `json:"clinic_id" validate:"omitempty,uuid"`
}

// RefreshRequest represents the request body for token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest carries the refresh token to revoke alongside the bearer token
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// deviceInfo collects the device metadata recorded against refresh tokens
func (h *AuthHandler) deviceInfo(r *http.Request) models.DeviceInfo {
	return models.DeviceInfo{
		UserAgent: r.Header.Get("User-Agent"),
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		DeviceID:  r.Header.Get("X-Device-ID"),
	}
}

// Register handles identity registration
// @Summary Register a new identity
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Register(r.Context(), services.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		ClinicID: req.ClinicID,
		Device:   h.deviceInfo(r),
	})
	if err != nil {
		switch {
		case models.IsValidation(err):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An account with this email already exists")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, authResp)
}

// Login handles identity login
// @Summary Identity login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Login(r.Context(), req.Email, req.Password, h.deviceInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			// Unknown email and wrong password share this message
			pkghttp.WriteUnauthorized(w, "Invalid email or password")
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteUnauthorized(w, "Account temporarily locked due to failed login attempts")
		case errors.Is(err, models.ErrAccountInactive):
			pkghttp.WriteUnauthorized(w, "Account is deactivated")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Refresh handles refresh token rotation
// @Summary Rotate refresh token
// @Accept json
// @Param request body RefreshRequest true "Refresh request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid or expired refresh token")
		case errors.Is(err, models.ErrAccountInactive):
			pkghttp.WriteUnauthorized(w, "Account is deactivated")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Logout tears down the current session
// @Summary Identity logout
// @Accept json
// @Security BearerAuth
// @Produce json
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	// Body is optional; logout without a refresh token still blacklists the
	// access token
	var req LogoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	accessToken := auth.AccessTokenFromContext(r.Context())
	h.service.Logout(r.Context(), claims.IdentityID, accessToken, claims.ExpiresAt.Time, req.RefreshToken)

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll tears down every session of the caller
// @Summary Logout from all devices
// @Security BearerAuth
// @Produce json
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	accessToken := auth.AccessTokenFromContext(r.Context())
	if err := h.service.LogoutAll(r.Context(), claims.IdentityID, accessToken, claims.ExpiresAt.Time); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's own identity
// @Summary Current identity
// @Security BearerAuth
// @Produce json
// @Success 200 {object} services.IdentityResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	identity, err := h.service.CurrentIdentity(r.Context(), claims.IdentityID)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, identity)
}
