package handlers

import (
	apperrors "bazaar/internal/errors"
	"bazaar/internal/models"
	"bazaar/internal/utils"
	"bazaar/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var statusByKind = map[apperrors.Kind]int{
	apperrors.KindUnauthenticated:     fiber.StatusUnauthorized,
	apperrors.KindUnauthorized:        fiber.StatusForbidden,
	apperrors.KindInvalidArgument:     fiber.StatusBadRequest,
	apperrors.KindFailedPrecondition:  fiber.StatusPreconditionFailed,
	apperrors.KindCodeMismatch:        fiber.StatusUnprocessableEntity,
	apperrors.KindConflict:            fiber.StatusConflict,
	apperrors.KindGateway:             fiber.StatusBadGateway,
	apperrors.KindWebhookVerification: fiber.StatusBadRequest,
	apperrors.KindNotFound:            fiber.StatusNotFound,
	apperrors.KindRateLimited:         fiber.StatusTooManyRequests,
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	if status, ok := statusByKind[apperrors.KindOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// respondError renders err with its user-presentable message. Causes are
// logged, never returned.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := StatusOf(err)
	kind := apperrors.KindOf(err)
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("code", string(kind)),
			zap.Error(err))
	}
	return response.Fail(c, status, string(kind), apperrors.MessageOf(err))
}

// caller returns the authenticated user's claims.
func caller(c *fiber.Ctx) (*models.UserClaims, bool) {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func parseBody(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.InvalidArgument("invalid request body")
	}
	return nil
}
