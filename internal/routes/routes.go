package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/clinsuite/auth-service/internal/auth"
	"github.com/clinsuite/auth-service/internal/handlers"
	"github.com/clinsuite/auth-service/internal/middleware"
	"github.com/clinsuite/auth-service/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	passwordHandler *handlers.PasswordHandler,
	issuer *auth.TokenIssuer,
	identities auth.IdentityFetcher,
) {
	loginLimit := middleware.DefaultLoginRateLimit()
	refreshLimit := middleware.DefaultRefreshRateLimit()
	resetLimit := middleware.DefaultPasswordResetRateLimit()

	// Public routes
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(refreshLimit)).Post("/auth/refresh", authHandler.Refresh)
	router.With(middleware.RateLimitByIP(resetLimit)).Post("/auth/forgot-password", passwordHandler.ForgotPassword)
	router.With(middleware.RateLimitByIP(resetLimit)).Post("/auth/reset-password", passwordHandler.ResetPassword)

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(issuer))

		// Reachable even when the password is expired; these are the ways out
		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/logout-all", authHandler.LogoutAll)
		r.Post("/auth/change-password", passwordHandler.ChangePassword)
		r.Get("/auth/password/status", passwordHandler.Status)

		// Everything else requires a current password
		r.Group(func(r chi.Router) {
			r.Use(auth.RequirePasswordCurrent(identities))

			r.Get("/auth/me", authHandler.Me)

			// Registration of new staff is an admin operation
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(identities, models.RoleSuperAdmin, models.RoleAdmin, models.RoleManager))
				r.Post("/auth/register", authHandler.Register)
			})
		})
	})
}
