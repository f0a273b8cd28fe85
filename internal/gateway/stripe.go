package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

// StripeGateway implements Gateway and EventVerifier on Stripe Connect.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeGateway creates a gateway bound to secretKey. webhookSecret is
// the endpoint signing secret used by VerifyEvent.
func NewStripeGateway(secretKey, webhookSecret string, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret, logger: logger}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(p.AmountMinor),
		Currency:             stripe.String(p.Currency),
		CaptureMethod:        stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethodTypes:   stripe.StringSlice([]string{"card"}),
		ApplicationFeeAmount: stripe.Int64(p.ApplicationFeeMinor),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(p.DestinationAccount),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataTransactionID, p.TransactionID)
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, g.wrap("create payment intent", err)
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, g.wrap("get payment intent", err)
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) CaptureIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("pi-capture-" + intentID)
	pi, err := g.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return nil, g.wrap("capture payment intent", err)
	}
	return intentFromStripe(pi), nil
}

// CancelIntent cancels the intent. Stripe only accepts a fixed vocabulary of
// reasons, so the free-text reason stays in our own records.
func (g *StripeGateway) CancelIntent(ctx context.Context, intentID, reason string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("pi-cancel-" + intentID)
	pi, err := g.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, g.wrap("cancel payment intent", err)
	}
	g.logger.Debug("payment intent cancelled",
		zap.String("intent_id", intentID),
		zap.String("reason", reason))
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) CreateAccount(ctx context.Context, p CreateAccountParams) (*Account, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(p.Email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if p.DisplayName != "" {
		params.BusinessProfile = &stripe.AccountBusinessProfileParams{Name: stripe.String(p.DisplayName)}
	}
	params.Context = ctx
	params.AddMetadata("userId", p.UserID)
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	acct, err := g.api.Account.New(params)
	if err != nil {
		return nil, g.wrap("create account", err)
	}
	return accountFromStripe(acct), nil
}

func (g *StripeGateway) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := g.api.Account.GetByID(accountID, params)
	if err != nil {
		return nil, g.wrap("get account", err)
	}
	return accountFromStripe(acct), nil
}

func (g *StripeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}
	params.Context = ctx
	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", g.wrap("create account link", err)
	}
	return link.URL, nil
}

// VerifyEvent checks the Stripe-Signature header against the unparsed body
// before decoding anything.
func (g *StripeGateway) VerifyEvent(rawBody []byte, signatureHeader string) (*Event, error) {
	return ParseStripeEvent(rawBody, signatureHeader, g.webhookSecret)
}

// ParseStripeEvent verifies and decodes a Stripe webhook payload.
func ParseStripeEvent(rawBody []byte, signatureHeader, secret string) (*Event, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrSignature)
	}
	evt, err := webhook.ConstructEvent(rawBody, signatureHeader, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	out := &Event{ID: evt.ID, Type: evt.Type}
	if evt.Data == nil {
		return out, nil
	}
	out.Payload = evt.Data.Object

	switch evt.Type {
	case EventPaymentIntentSucceeded, EventPaymentIntentAmountCapturable:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.PaymentIntent = intentFromStripe(&pi)
	case EventAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(evt.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		out.Account = accountFromStripe(&acct)
	}
	return out, nil
}

func (g *StripeGateway) wrap(op string, err error) error {
	if serr, ok := err.(*stripe.Error); ok {
		g.logger.Error("stripe call failed",
			zap.String("op", op),
			zap.String("code", string(serr.Code)),
			zap.String("type", string(serr.Type)),
			zap.Int("http_status", serr.HTTPStatusCode),
			zap.String("request_id", serr.RequestID),
			zap.String("message", serr.Msg))
	} else {
		g.logger.Error("stripe call failed", zap.String("op", op), zap.Error(err))
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       normalizeIntentStatus(pi.Status),
		AmountMinor:  pi.Amount,
		Metadata:     pi.Metadata,
	}
}

func normalizeIntentStatus(s stripe.PaymentIntentStatus) IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusRequiresCapture:
		return IntentRequiresCapture
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentCanceled
	case stripe.PaymentIntentStatusProcessing:
		return IntentProcessing
	default:
		return IntentRequiresPayment
	}
}

func accountFromStripe(a *stripe.Account) *Account {
	return &Account{
		ID:               a.ID,
		DetailsSubmitted: a.DetailsSubmitted,
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
	}
}
