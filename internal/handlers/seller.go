package handlers

import (
	"bazaar/internal/models"
	"bazaar/internal/services/seller"
	"bazaar/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type SellerHandler struct {
	svc seller.Service
	log *zap.Logger
}

func NewSellerHandler(svc seller.Service, logger *zap.Logger) *SellerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SellerHandler{svc: svc, log: logger}
}

// CreateAccount defaults the contact email to the token's.
func (h *SellerHandler) CreateAccount(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var req models.CreateSellerAccountRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	if req.Email == "" {
		req.Email = claims.Email
	}
	if req.DisplayName == "" {
		req.DisplayName = claims.Name
	}

	res, err := h.svc.CreateAccount(c.UserContext(), claims.UserID, req)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if res.AlreadyExisted {
		return response.Success(c, "Seller account already exists", res)
	}
	return response.Created(c, "Seller account created", res)
}

func (h *SellerHandler) GetStatus(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}
	view, err := h.svc.GetStatus(c.UserContext(), claims.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Seller account status", view)
}

func (h *SellerHandler) OnboardingLink(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}
	url, err := h.svc.GetOnboardingLink(c.UserContext(), claims.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Onboarding link created", fiber.Map{"url": url})
}
