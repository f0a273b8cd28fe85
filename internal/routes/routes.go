// Package routes defines the API routing configuration.
package routes

import (
	"time"

	"bazaar/internal/handlers"
	"bazaar/internal/middleware"
	"bazaar/internal/services/escrow"
	"bazaar/internal/services/seller"
	"bazaar/internal/services/transaction"
	"bazaar/internal/services/webhook"
	"bazaar/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"go.uber.org/zap"
)

// Dependencies are the services the routes dispatch to.
type Dependencies struct {
	Transactions transaction.Service
	Escrow       escrow.Service
	Sellers      seller.Service
	Webhooks     webhook.Processor
	JWTSecret    string
	HealthChecks map[string]handlers.Pinger
	Logger       *zap.Logger

	// CaptureLimit caps capture attempts per caller per minute; zero
	// disables the HTTP limiter.
	CaptureLimit int
}

// SetupRoutes registers every route on app.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	txHandler := handlers.NewTransactionHandler(deps.Transactions, log)
	escrowHandler := handlers.NewEscrowHandler(deps.Escrow, log)
	sellerHandler := handlers.NewSellerHandler(deps.Sellers, log)
	webhookHandler := handlers.NewWebhookHandler(deps.Webhooks, log)
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks)
	auth := middleware.NewAuthMiddleware(deps.JWTSecret, log)

	app.Get("/health", healthHandler.Check)

	// Webhooks authenticate by signature, not by bearer token.
	app.Post("/webhooks/stripe", webhookHandler.Stripe)

	api := app.Group("/api", auth.Handler)

	transactions := api.Group("/transactions")
	transactions.Post("/", txHandler.Initiate)
	transactions.Get("/", txHandler.List)
	transactions.Get("/:id", txHandler.Get)
	transactions.Post("/:id/accept", txHandler.Accept)
	transactions.Post("/:id/reject", txHandler.Reject)
	transactions.Post("/:id/withdraw", txHandler.Withdraw)

	transactions.Post("/:id/payment-intent", escrowHandler.CreatePaymentIntent)
	transactions.Post("/:id/capture", captureLimiter(deps.CaptureLimit), escrowHandler.Capture)
	transactions.Post("/:id/cancel", escrowHandler.Cancel)

	sellerAccount := api.Group("/seller/account")
	sellerAccount.Post("/", sellerHandler.CreateAccount)
	sellerAccount.Get("/", sellerHandler.GetStatus)
	sellerAccount.Post("/onboarding-link", sellerHandler.OnboardingLink)
}

// captureLimiter throttles capture requests per caller and transaction ahead
// of the per-transaction wrong-code limiter in the escrow service.
func captureLimiter(max int) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + ":" + c.Params("id")
		},
		LimitReached: func(c *fiber.Ctx) error {
			return response.Fail(c, fiber.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.")
		},
	})
}
