package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bazaar/internal/gateway"
	"bazaar/internal/handlers"
	"bazaar/internal/models"
	"bazaar/internal/services/escrow"
	"bazaar/internal/services/seller"
	"bazaar/internal/services/transaction"
	"bazaar/internal/services/webhook"
	"bazaar/internal/testutil"
	"bazaar/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret     = "test-jwt-secret"
	webhookSecret = "whsec_routes"
)

type testApp struct {
	app      *fiber.App
	store    *testutil.Store
	gw       *testutil.FakeGateway
	notifier *testutil.RecordingNotifier
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store := testutil.NewStore()
	gw := testutil.NewFakeGateway()
	notifier := &testutil.RecordingNotifier{}

	acct := "acct_seller"
	store.PutSeller(models.SellerAccount{UserID: "seller-1", GatewayAccountID: &acct, AccountStatus: models.AccountComplete, ChargesEnabled: true})
	gw.PutAccount(gateway.Account{ID: acct, DetailsSubmitted: true, ChargesEnabled: true, PayoutsEnabled: true})
	store.PutListing(models.Listing{ID: "item-1", SellerID: "seller-1", Name: "Road bike", UnitPrice: decimal.RequireFromString("25.00"), Stock: 5})

	sellers := seller.NewService(store.SellerAccounts(), gw, "https://bazaar.example.test", nil)
	deps := Dependencies{
		Transactions: transaction.NewService(transaction.Config{
			Transactions: store.Transactions(),
			Catalog:      store.Listings(),
			Transactor:   store,
			Notifier:     notifier,
		}),
		Escrow: escrow.NewService(escrow.Config{
			Transactions: store.Transactions(),
			Sellers:      store.SellerAccounts(),
			Catalog:      store.Listings(),
			Transactor:   store,
			Gateway:      gw,
			Notifier:     notifier,
			Limiter:      testutil.NewMemoryLimiter(5),
		}),
		Sellers: sellers,
		Webhooks: webhook.NewProcessor(webhook.Config{
			Verifier:     gateway.NewStripeGateway("sk_test_unused", webhookSecret, nil),
			Ledger:       store.Ledger(),
			Transactions: store.Transactions(),
			Accounts:     sellers,
			Transactor:   store,
			Notifier:     notifier,
		}),
		JWTSecret: jwtSecret,
		HealthChecks: map[string]handlers.Pinger{
			"database": func(context.Context) error { return nil },
		},
	}

	app := fiber.New()
	SetupRoutes(app, deps)
	return &testApp{app: app, store: store, gw: gw, notifier: notifier}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := utils.GenerateToken(jwtSecret, models.UserClaims{UserID: userID, Email: userID + "@example.com"}, time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (a *testApp) do(t *testing.T, method, path, userID string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func TestUnauthenticated(t *testing.T) {
	a := newTestApp(t)

	status, env := a.do(t, http.MethodPost, "/api/transactions", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", env.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/seller/account", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEscrowFlow(t *testing.T) {
	a := newTestApp(t)

	status, env := a.do(t, http.MethodPost, "/api/transactions", "buyer-1", map[string]interface{}{
		"seller_id":  "seller-1",
		"item_id":    "item-1",
		"unit_price": "25.00",
		"quantity":   3,
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	created := decodeView(t, env.Data)
	tx := created.Transaction
	code := created.VerificationCode
	require.Len(t, code, 8, "the buyer receives the verification code")

	status, env = a.do(t, http.MethodPost, "/api/transactions/"+tx.ID+"/accept", "buyer-1", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "UNAUTHORIZED", env.Code)

	status, env = a.do(t, http.MethodPost, "/api/transactions/"+tx.ID+"/accept", "seller-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decodeView(t, env.Data).VerificationCode)

	status, env = a.do(t, http.MethodPost, "/api/transactions/"+tx.ID+"/payment-intent", "buyer-1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var intent escrow.PaymentIntentResult
	require.NoError(t, json.Unmarshal(env.Data, &intent))
	assert.Equal(t, int64(7500), intent.AmountMinor)
	assert.Equal(t, int64(375), intent.ApplicationFeeMinor)
	assert.NotEmpty(t, intent.ClientSecret)

	a.gw.Authorize(intent.PaymentIntentID)

	status, env = a.do(t, http.MethodPost, "/api/transactions/"+tx.ID+"/capture", "buyer-1",
		map[string]string{"verification_code": "WRONG123"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "CODE_MISMATCH", env.Code)

	status, env = a.do(t, http.MethodPost, "/api/transactions/"+tx.ID+"/capture", "buyer-1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ARGUMENT", env.Code)

	status, env = a.do(t, http.MethodPost, "/api/transactions/"+tx.ID+"/capture", "seller-1",
		map[string]string{"verification_code": code})
	require.Equal(t, http.StatusOK, status, env.Error)

	stored, _ := a.store.Transaction(tx.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)

	status, env = a.do(t, http.MethodPost, "/api/transactions/"+tx.ID+"/cancel", "buyer-1",
		map[string]string{"reason": "changed my mind"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", env.Code)

	status, env = a.do(t, http.MethodGet, "/api/transactions/"+tx.ID, "stranger", nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = a.do(t, http.MethodGet, "/api/transactions/missing", "buyer-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func decodeView(t *testing.T, data json.RawMessage) models.TransactionView {
	t.Helper()
	view := models.TransactionView{Transaction: &models.Transaction{}}
	require.NoError(t, json.Unmarshal(data, &view), string(data))
	return view
}

func TestVerificationCodeOnlyForBuyer(t *testing.T) {
	a := newTestApp(t)
	status, env := a.do(t, http.MethodPost, "/api/transactions", "buyer-1", map[string]interface{}{
		"seller_id": "seller-1", "item_id": "item-1", "unit_price": "25.00", "quantity": 1,
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	created := decodeView(t, env.Data)
	stored, ok := a.store.Transaction(created.ID)
	require.True(t, ok)
	assert.Equal(t, stored.TransactionCode, created.VerificationCode)

	status, env = a.do(t, http.MethodGet, "/api/transactions/"+created.ID, "buyer-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, stored.TransactionCode, decodeView(t, env.Data).VerificationCode)

	status, env = a.do(t, http.MethodGet, "/api/transactions/"+created.ID, "seller-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(env.Data), stored.TransactionCode)
	assert.NotContains(t, string(env.Data), "verification_code")

	for user, visible := range map[string]bool{"buyer-1": true, "seller-1": false} {
		req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, user))
		resp, err := a.app.Test(req, -1)
		require.NoError(t, err)
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, visible, bytes.Contains(raw, []byte(stored.TransactionCode)), user)
	}

	for _, msg := range a.notifier.Messages() {
		assert.NotContains(t, msg.Text, stored.TransactionCode)
	}
}

func TestCancelWithoutIntent(t *testing.T) {
	a := newTestApp(t)
	status, env := a.do(t, http.MethodPost, "/api/transactions", "buyer-1", map[string]interface{}{
		"seller_id": "seller-1", "item_id": "item-1", "unit_price": "25.00", "quantity": 1,
	})
	require.Equal(t, http.StatusCreated, status)
	var tx models.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &tx))

	status, env = a.do(t, http.MethodPost, "/api/transactions/"+tx.ID+"/cancel", "buyer-1", nil)
	assert.Equal(t, http.StatusPreconditionFailed, status)
	assert.Equal(t, "FAILED_PRECONDITION", env.Code)
}

func TestListTransactions(t *testing.T) {
	a := newTestApp(t)
	for i := 0; i < 3; i++ {
		status, _ := a.do(t, http.MethodPost, "/api/transactions", "buyer-1", map[string]interface{}{
			"seller_id": "seller-1", "item_id": "item-1", "unit_price": "25.00", "quantity": 1,
		})
		require.Equal(t, http.StatusCreated, status)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?limit=2", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "seller-1"))
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Data       []models.Transaction `json:"data"`
		Pagination utils.Pagination     `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Len(t, page.Data, 2)
	assert.Equal(t, int64(3), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.LastPage)
}

func TestSellerAccountRoutes(t *testing.T) {
	a := newTestApp(t)

	status, env := a.do(t, http.MethodGet, "/api/seller/account", "seller-2", nil)
	require.Equal(t, http.StatusOK, status)
	var view seller.AccountStatusView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.AccountNotCreated, view.Status)

	status, env = a.do(t, http.MethodPost, "/api/seller/account/onboarding-link", "seller-2", nil)
	assert.Equal(t, http.StatusPreconditionFailed, status)

	status, env = a.do(t, http.MethodPost, "/api/seller/account", "seller-2", map[string]string{"display_name": "Sam"})
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, _ = a.do(t, http.MethodPost, "/api/seller/account", "seller-2", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, a.gw.CreateAccountCalls)

	status, env = a.do(t, http.MethodPost, "/api/seller/account/onboarding-link", "seller-2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), "https://")

	status, env = a.do(t, http.MethodGet, "/api/seller/account", "seller-1", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.AccountComplete, view.Status)
}

func TestGatewayFailureIsGeneric(t *testing.T) {
	a := newTestApp(t)
	a.gw.CreateAccountErr = errors.New("stripe: invalid api key sk_live_secret")

	status, env := a.do(t, http.MethodPost, "/api/seller/account", "seller-9", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "GATEWAY_ERROR", env.Code)
	assert.NotContains(t, env.Error, "sk_live")
}

func TestStripeWebhook(t *testing.T) {
	a := newTestApp(t)
	intentID := "pi_hook"
	a.store.PutTransaction(models.Transaction{
		ID: "tx-hook", BuyerID: "buyer-1", SellerID: "seller-1", ItemID: "item-1", Quantity: 1,
		UnitPrice: decimal.RequireFromString("25.00"), TotalPrice: decimal.RequireFromString("25.00"),
		Status: models.StatusSellerAccepted, PaymentStatus: models.PaymentStatusAwaitingPayment,
		PaymentIntentID: &intentID, TransactionCode: "K7QM2XPA",
	})
	body := testutil.StripeEvent("evt_hook", gateway.EventPaymentIntentSucceeded,
		testutil.IntentObject(intentID, "tx-hook", "succeeded"))

	post := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(handlers.SignatureHeader, sig)
		resp, err := a.app.Test(req, -1)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post("t=1,v1=deadbeef"))
	assert.Equal(t, 0, a.store.LedgerLen())

	sig := testutil.SignStripePayload(body, webhookSecret, time.Now())
	assert.Equal(t, http.StatusOK, post(sig))
	assert.Equal(t, http.StatusOK, post(sig))

	assert.Equal(t, 1, a.store.LedgerLen())
	assert.Len(t, a.notifier.Messages(), 1)
	stored, _ := a.store.Transaction("tx-hook")
	assert.Equal(t, models.PaymentStatusSucceeded, stored.PaymentStatus)
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	status, _ := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}
