package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinsuite/auth-service/internal/auth"
	"github.com/clinsuite/auth-service/internal/models"
	"github.com/clinsuite/auth-service/internal/services"
	pkghttp "github.com/clinsuite/auth-service/pkg/http"
)

// PasswordServiceInterface defines the password lifecycle operations
type PasswordServiceInterface interface {
	ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error
	RequestReset(ctx context.Context, email string) error
	ConsumeReset(ctx context.Context, token, newPassword string) error
	Status(ctx context.Context, identityID string) (*services.PasswordStatus, error)
}

// PasswordHandler handles password lifecycle HTTP requests
type PasswordHandler struct {
	service PasswordServiceInterface
}

// NewPasswordHandler creates a new PasswordHandler
func NewPasswordHandler(service PasswordServiceInterface) *PasswordHandler {
	return &PasswordHandler{service: service}
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// ForgotPasswordRequest represents the request body for a reset request
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// ChangePassword replaces the caller's password
// @Summary Change password
// @Accept json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Change password request"
// @Produce json
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/change-password [post]
func (h *PasswordHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.IdentityID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case models.IsValidation(err):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrPasswordReused):
			pkghttp.WriteBadRequest(w, "New password was used recently; choose a different one")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Current password is incorrect")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword starts the reset flow. The response never reveals whether
// the email maps to an account.
// @Summary Request password reset
// @Accept json
// @Param request body ForgotPasswordRequest true "Forgot password request"
// @Produce json
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Router /auth/forgot-password [post]
func (h *PasswordHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.service.RequestReset(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists with this email, a password reset link will be sent.",
	})
}

// ResetPassword completes the reset flow with a token from the email
// @Summary Complete password reset
// @Accept json
// @Param request body ResetPasswordRequest true "Reset password request"
// @Produce json
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/reset-password [post]
func (h *PasswordHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConsumeReset(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case models.IsValidation(err):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrPasswordReused):
			pkghttp.WriteBadRequest(w, "New password was used recently; choose a different one")
		case errors.Is(err, models.ErrInvalidResetToken):
			pkghttp.WriteBadRequest(w, "Invalid or expired reset token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status reports the caller's password lifecycle state
// @Summary Password status
// @Security BearerAuth
// @Produce json
// @Success 200 {object} services.PasswordStatus
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/password/status [get]
func (h *PasswordHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.service.Status(r.Context(), claims.IdentityID)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}
