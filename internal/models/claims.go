package models

import "github.com/golang-jwt/jwt/v5"

// AccessClaims are the claims embedded in a signed access token. IdentityID,
// Email and Role are required on verification; ClinicID is carried when the
// identity belongs to a clinic.
type AccessClaims struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	ClinicID   string `json:"clinic_id,omitempty"`
	jwt.RegisteredClaims
}
