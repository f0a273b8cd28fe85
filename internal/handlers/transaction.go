package handlers

import (
	"bazaar/internal/models"
	"bazaar/internal/services/transaction"
	"bazaar/internal/utils"
	"bazaar/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type TransactionHandler struct {
	svc transaction.Service
	log *zap.Logger
}

func NewTransactionHandler(svc transaction.Service, logger *zap.Logger) *TransactionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionHandler{svc: svc, log: logger}
}

func (h *TransactionHandler) Initiate(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var req models.InitiateTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	tx, err := h.svc.Initiate(c.UserContext(), claims.UserID, req)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Created(c, "Offer sent to the seller", tx.ViewFor(claims.UserID))
}

func (h *TransactionHandler) Accept(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}
	tx, err := h.svc.Accept(c.UserContext(), c.Params("id"), claims.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Offer accepted", tx.ViewFor(claims.UserID))
}

func (h *TransactionHandler) Reject(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}
	tx, err := h.svc.Reject(c.UserContext(), c.Params("id"), claims.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Offer rejected", tx.ViewFor(claims.UserID))
}

func (h *TransactionHandler) Withdraw(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}
	tx, err := h.svc.Withdraw(c.UserContext(), c.Params("id"), claims.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Offer withdrawn", tx.ViewFor(claims.UserID))
}

func (h *TransactionHandler) Get(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}
	tx, err := h.svc.Get(c.UserContext(), c.Params("id"), claims.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Transaction retrieved", tx.ViewFor(claims.UserID))
}

func (h *TransactionHandler) List(c *fiber.Ctx) error {
	claims, ok := caller(c)
	if !ok {
		return response.Unauthorized(c)
	}

	page := utils.GetPagination(c, transaction.DefaultListLimit, transaction.MaxListLimit)
	txs, total, err := h.svc.List(c.UserContext(), claims.UserID, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	views := make([]models.TransactionView, len(txs))
	for i := range txs {
		views[i] = txs[i].ViewFor(claims.UserID)
	}
	page.SetTotal(total)
	return c.JSON(utils.NewPaginatedResponse(views, page))
}
