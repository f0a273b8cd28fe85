package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"bazaar/internal/gateway"

	"github.com/stripe/stripe-go/v72"
)

var _ gateway.Gateway = (*FakeGateway)(nil)

// ErrIntentState mirrors the processor rejecting an operation on an intent
// in the wrong state.
var ErrIntentState = errors.New("payment intent is not in a valid state for this operation")

// FakeGateway is an in-memory payment processor with call counters.
type FakeGateway struct {
	mu       sync.Mutex
	seq      int
	intents  map[string]*gateway.Intent
	accounts map[string]*gateway.Account
	keys     map[string]string

	CreateIntentCalls  int
	GetIntentCalls     int
	CaptureCalls       int
	CancelCalls        int
	CreateAccountCalls int
	LinkCalls          int

	LastCreateIntent gateway.CreateIntentParams
	LastCancelReason string
	LastLink         [3]string

	CreateIntentErr  error
	GetIntentErr     error
	CaptureErr       error
	CancelErr        error
	CreateAccountErr error
	GetAccountErr    error

	// CaptureDelay is slept before capturing, widening race windows.
	CaptureDelay time.Duration
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		intents:  map[string]*gateway.Intent{},
		accounts: map[string]*gateway.Account{},
		keys:     map[string]string{},
	}
}

func (g *FakeGateway) CreateIntent(_ context.Context, p gateway.CreateIntentParams) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CreateIntentCalls++
	g.LastCreateIntent = p
	if g.CreateIntentErr != nil {
		return nil, g.CreateIntentErr
	}
	if id, ok := g.keys[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		cp := *g.intents[id]
		return &cp, nil
	}
	g.seq++
	id := "pi_" + strconv.Itoa(g.seq)
	in := &gateway.Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + strconv.Itoa(g.seq),
		Status:       gateway.IntentRequiresPayment,
		AmountMinor:  p.AmountMinor,
		Metadata:     map[string]string{gateway.MetadataTransactionID: p.TransactionID},
	}
	g.intents[id] = in
	if p.IdempotencyKey != "" {
		g.keys[p.IdempotencyKey] = id
	}
	cp := *in
	return &cp, nil
}

func (g *FakeGateway) GetIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.GetIntentCalls++
	if g.GetIntentErr != nil {
		return nil, g.GetIntentErr
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such payment intent: %s", intentID)
	}
	cp := *in
	return &cp, nil
}

func (g *FakeGateway) CaptureIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	g.mu.Lock()
	delay := g.CaptureDelay
	g.CaptureCalls++
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CaptureErr != nil {
		return nil, g.CaptureErr
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such payment intent: %s", intentID)
	}
	if in.Status != gateway.IntentRequiresCapture {
		return nil, ErrIntentState
	}
	in.Status = gateway.IntentSucceeded
	cp := *in
	return &cp, nil
}

func (g *FakeGateway) CancelIntent(_ context.Context, intentID, reason string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CancelCalls++
	g.LastCancelReason = reason
	if g.CancelErr != nil {
		return nil, g.CancelErr
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such payment intent: %s", intentID)
	}
	if in.Status == gateway.IntentSucceeded || in.Status == gateway.IntentCanceled {
		return nil, ErrIntentState
	}
	in.Status = gateway.IntentCanceled
	cp := *in
	return &cp, nil
}

func (g *FakeGateway) CreateAccount(_ context.Context, p gateway.CreateAccountParams) (*gateway.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CreateAccountCalls++
	if g.CreateAccountErr != nil {
		return nil, g.CreateAccountErr
	}
	if id, ok := g.keys[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		cp := *g.accounts[id]
		return &cp, nil
	}
	g.seq++
	acct := &gateway.Account{ID: "acct_" + strconv.Itoa(g.seq)}
	g.accounts[acct.ID] = acct
	if p.IdempotencyKey != "" {
		g.keys[p.IdempotencyKey] = acct.ID
	}
	cp := *acct
	return &cp, nil
}

func (g *FakeGateway) GetAccount(_ context.Context, accountID string) (*gateway.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.GetAccountErr != nil {
		return nil, g.GetAccountErr
	}
	acct, ok := g.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("no such account: %s", accountID)
	}
	cp := *acct
	return &cp, nil
}

func (g *FakeGateway) CreateAccountLink(_ context.Context, accountID, refreshURL, returnURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.LinkCalls++
	g.LastLink = [3]string{accountID, refreshURL, returnURL}
	return "https://connect.example.test/setup/" + accountID, nil
}

// PutIntent stores an intent, e.g. one a buyer has already authorized.
func (g *FakeGateway) PutIntent(in gateway.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := in
	g.intents[in.ID] = &cp
}

// Authorize moves an intent to requires_capture, as a successful card
// payment would.
func (g *FakeGateway) Authorize(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[intentID]; ok {
		in.Status = gateway.IntentRequiresCapture
	}
}

func (g *FakeGateway) Intent(intentID string) (gateway.Intent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return gateway.Intent{}, false
	}
	return *in, true
}

func (g *FakeGateway) PutAccount(acct gateway.Account) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := acct
	g.accounts[acct.ID] = &cp
}

// Calls returns the capture and cancel call counts.
func (g *FakeGateway) Calls() (capture, cancel int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.CaptureCalls, g.CancelCalls
}

// SignStripePayload builds a Stripe-Signature header for payload.
func SignStripePayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// StripeEvent renders a webhook body the way Stripe delivers it.
func StripeEvent(id, eventType string, object map[string]interface{}) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return body
}

// IntentObject is a payment_intent payload carrying the transaction id.
func IntentObject(intentID, transactionID, status string) map[string]interface{} {
	return map[string]interface{}{
		"id":       intentID,
		"object":   "payment_intent",
		"status":   status,
		"amount":   7500,
		"metadata": map[string]string{gateway.MetadataTransactionID: transactionID},
	}
}

// AccountObject is an account payload with the onboarding flags set.
func AccountObject(accountID string, detailsSubmitted, chargesEnabled, payoutsEnabled bool) map[string]interface{} {
	return map[string]interface{}{
		"id":                accountID,
		"object":            "account",
		"details_submitted": detailsSubmitted,
		"charges_enabled":   chargesEnabled,
		"payouts_enabled":   payoutsEnabled,
	}
}
