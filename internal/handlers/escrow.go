package handlers

import (
	"bazaar/internal/models"
	"bazaar/internal/services/escrow"
	"bazaar/internal/utils/response"
	"bazaar/internal/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	svc escrow.Service
	log *zap.Logger
}

func NewEscrowHandler(svc escrow.Service, logger *zap.Logger) *EscrowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscrowHandler{svc: svc, log: logger}
}

func (h *EscrowHandler) CreatePaymentIntent(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}
	res, err := h.svc.CreatePaymentIntent(c.UserContext(), c.Params("id"), claims.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Payment intent ready", res)
}

func (h *EscrowHandler) Capture(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var req models.CapturePaymentRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	v := validation.New()
	v.CapturePayment(&req)
	if err := v.Err(); err != nil {
		return respondError(c, h.log, err)
	}

	tx, err := h.svc.CapturePayment(c.UserContext(), c.Params("id"), claims.UserID, req.VerificationCode)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Payment released to the seller", tx)
}

func (h *EscrowHandler) Cancel(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var req models.CancelPaymentRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	v := validation.New()
	v.CancelPayment(&req)
	if err := v.Err(); err != nil {
		return respondError(c, h.log, err)
	}

	tx, err := h.svc.CancelPayment(c.UserContext(), c.Params("id"), claims.UserID, req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Payment cancelled", tx)
}
