package models

import "github.com/golang-jwt/jwt/v5"

// UserClaims is the verified caller identity carried by a bearer token.
// Tokens are issued by the marketplace's identity provider.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}
