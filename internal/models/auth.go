package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the access token payload issued by the identity service.
type JWTClaims struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id"`
	Role           UserRole `json:"role"`
	Email          string   `json:"email"`
	FullName       string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor identifies who performs an operation and on behalf of which organization.
type Actor struct {
	OrganizationID string
	UserID         string
	Role           UserRole
	IPAddress      string
	UserAgent      string
}
