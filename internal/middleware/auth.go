// Package middleware provides HTTP middleware for the fiber app.
package middleware

import (
	"strings"

	"bazaar/internal/utils"
	"bazaar/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AuthMiddleware validates bearer JWTs and stores the caller's claims in
// the request locals.
type AuthMiddleware struct {
	secret string
	log    *zap.Logger
}

func NewAuthMiddleware(secret string, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{secret: secret, log: logger.Named("auth")}
}

// Handler rejects requests without a valid token with 401 UNAUTHENTICATED.
func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return response.Unauthorized(c)
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		m.log.Debug("invalid authorization format", zap.String("path", c.Path()))
		return response.Unauthorized(c)
	}

	claims, err := utils.ParseToken(m.secret, strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		m.log.Debug("token rejected", zap.String("path", c.Path()), zap.Error(err))
		return response.Unauthorized(c)
	}

	c.Locals(utils.ClaimsKey, claims)
	return c.Next()
}
