// Package gateway isolates the payment processor behind a small interface:
// manual-capture payment intents, connected accounts, onboarding links and
// webhook verification.
package gateway

import (
	"context"
	"errors"
)

// IntentStatus is the processor-side state of a payment intent, normalized.
type IntentStatus string

const (
	IntentRequiresPayment IntentStatus = "requires_payment"
	IntentProcessing      IntentStatus = "processing"
	IntentRequiresCapture IntentStatus = "requires_capture"
	IntentSucceeded       IntentStatus = "succeeded"
	IntentCanceled        IntentStatus = "canceled"
)

// MetadataTransactionID links an intent back to its transaction.
const MetadataTransactionID = "transactionId"

// Event types dispatched by the webhook processor.
const (
	EventPaymentIntentSucceeded        = "payment_intent.succeeded"
	EventPaymentIntentAmountCapturable = "payment_intent.amount_capturable_updated"
	EventAccountUpdated                = "account.updated"
)

// ErrSignature is returned by VerifyEvent when the payload is not authentic.
var ErrSignature = errors.New("invalid webhook signature")

// CreateIntentParams describes a manual-capture destination charge.
type CreateIntentParams struct {
	AmountMinor         int64
	ApplicationFeeMinor int64
	Currency            string
	DestinationAccount  string
	TransactionID       string
	IdempotencyKey      string
}

// Intent is a payment intent as seen by the escrow core.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountMinor  int64
	Metadata     map[string]string
}

// CreateAccountParams describes a new connected account.
type CreateAccountParams struct {
	Email          string
	DisplayName    string
	UserID         string
	IdempotencyKey string
}

// Account is a connected account's onboarding snapshot.
type Account struct {
	ID               string
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
}

// Event is a verified webhook event. Exactly one of PaymentIntent and
// Account is set for the event types this service handles.
type Event struct {
	ID            string
	Type          string
	Payload       map[string]interface{}
	PaymentIntent *Intent
	Account       *Account
}

// Gateway is the payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	CaptureIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID, reason string) (*Intent, error)

	CreateAccount(ctx context.Context, params CreateAccountParams) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
}

// EventVerifier authenticates a webhook delivery from its raw bytes.
type EventVerifier interface {
	VerifyEvent(rawBody []byte, signatureHeader string) (*Event, error)
}
