package escrow

import (
	"context"

	"bazaar/internal/gateway"
	"bazaar/internal/models"
)

// Service drives the payment half of a transaction: authorize, release by
// in-person code, or cancel.
type Service interface {
	CreatePaymentIntent(ctx context.Context, transactionID, callerID string) (*PaymentIntentResult, error)
	CapturePayment(ctx context.Context, transactionID, callerID, code string) (*models.Transaction, error)
	CancelPayment(ctx context.Context, transactionID, callerID, reason string) (*models.Transaction, error)
}

// AttemptLimiter throttles wrong verification codes per transaction.
type AttemptLimiter interface {
	Blocked(ctx context.Context, subject string) (bool, error)
	RecordFailure(ctx context.Context, subject string) (int64, error)
	Reset(ctx context.Context, subject string) error
}

// IntentCache holds intents already issued, keyed by transaction id.
type IntentCache interface {
	Get(ctx context.Context, transactionID string) (*gateway.Intent, bool, error)
	Put(ctx context.Context, transactionID string, intent *gateway.Intent) error
}

// PaymentIntentResult is what the buyer's client needs to confirm payment.
type PaymentIntentResult struct {
	TransactionID       string `json:"transaction_id"`
	PaymentIntentID     string `json:"payment_intent_id"`
	ClientSecret        string `json:"client_secret"`
	AmountMinor         int64  `json:"amount"`
	ApplicationFeeMinor int64  `json:"application_fee_amount"`
	Currency            string `json:"currency"`
}
