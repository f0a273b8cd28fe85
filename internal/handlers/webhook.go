package handlers

import (
	"bazaar/internal/services/webhook"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SignatureHeader carries the gateway's webhook signature.
const SignatureHeader = "Stripe-Signature"

type WebhookHandler struct {
	proc webhook.Processor
	log  *zap.Logger
}

func NewWebhookHandler(proc webhook.Processor, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{proc: proc, log: logger}
}

// Stripe hands the unparsed body to the processor. Fiber reuses the body
// buffer after the handler returns, so it is copied first.
func (h *WebhookHandler) Stripe(c *fiber.Ctx) error {
	raw := append([]byte(nil), c.Body()...)

	if err := h.proc.Handle(c.UserContext(), raw, c.Get(SignatureHeader)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"received": true})
}
