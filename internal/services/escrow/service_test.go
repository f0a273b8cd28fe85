package escrow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "bazaar/internal/errors"
	"bazaar/internal/gateway"
	"bazaar/internal/models"
	"bazaar/internal/repositories"
	"bazaar/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	buyerID  = "buyer-1"
	sellerID = "seller-1"
	txCode   = "K7QM2XPA"
)

type fixture struct {
	store    *testutil.Store
	gw       *testutil.FakeGateway
	notifier *testutil.RecordingNotifier
	limiter  *testutil.MemoryLimiter
	svc      Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore()
	gw := testutil.NewFakeGateway()
	notifier := &testutil.RecordingNotifier{}
	limiter := testutil.NewMemoryLimiter(5)

	acct := "acct_seller"
	store.PutSeller(models.SellerAccount{
		UserID:           sellerID,
		GatewayAccountID: &acct,
		AccountStatus:    models.AccountComplete,
		ChargesEnabled:   true,
		PayoutsEnabled:   true,
	})
	store.PutListing(models.Listing{ID: "item-1", SellerID: sellerID, Name: "Road bike", UnitPrice: decimal.RequireFromString("25.00"), Stock: 2})

	svc := NewService(Config{
		Transactions: store.Transactions(),
		Sellers:      store.SellerAccounts(),
		Catalog:      store.Listings(),
		Transactor:   store,
		Gateway:      gw,
		Notifier:     notifier,
		Limiter:      limiter,
		Fees:         NewFeeCalculator(0.05),
		Currency:     "usd",
	})
	return &fixture{store: store, gw: gw, notifier: notifier, limiter: limiter, svc: svc}
}

// seedAccepted stores a $25 x 3 transaction the seller has accepted.
func (f *fixture) seedAccepted(id string) models.Transaction {
	tx := models.Transaction{
		ID:              id,
		BuyerID:         buyerID,
		SellerID:        sellerID,
		ItemID:          "item-1",
		ItemName:        "Road bike",
		UnitPrice:       decimal.RequireFromString("25.00"),
		Quantity:        3,
		TotalPrice:      decimal.RequireFromString("75.00"),
		FulfillmentType: models.FulfillmentInPerson,
		TransactionCode: txCode,
		Status:          models.StatusSellerAccepted,
		PaymentStatus:   models.PaymentStatusNone,
		CreatedAt:       time.Now().UTC(),
	}
	f.store.PutTransaction(tx)
	return tx
}

// seedPaid stores an accepted transaction whose intent the buyer has
// authorized.
func (f *fixture) seedPaid(id string, paymentStatus models.PaymentStatus) models.Transaction {
	tx := f.seedAccepted(id)
	intentID := "pi_" + id
	tx.PaymentIntentID = &intentID
	tx.PaymentStatus = paymentStatus
	f.store.PutTransaction(tx)
	f.gw.PutIntent(gateway.Intent{
		ID:           intentID,
		ClientSecret: intentID + "_secret",
		Status:       gateway.IntentRequiresCapture,
		AmountMinor:  7500,
	})
	return tx
}

func (f *fixture) stored(t *testing.T, id string) models.Transaction {
	t.Helper()
	tx, ok := f.store.Transaction(id)
	require.True(t, ok)
	return tx
}

func TestCreatePaymentIntent_AmountsAndDestination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccepted("tx-1")

	res, err := f.svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
	require.NoError(t, err)

	assert.Equal(t, int64(7500), res.AmountMinor)
	assert.Equal(t, int64(375), res.ApplicationFeeMinor)
	assert.NotEmpty(t, res.ClientSecret)

	p := f.gw.LastCreateIntent
	assert.Equal(t, int64(7500), p.AmountMinor)
	assert.Equal(t, int64(375), p.ApplicationFeeMinor)
	assert.Equal(t, "acct_seller", p.DestinationAccount)
	assert.Equal(t, "tx-1", p.TransactionID)
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, "pi-create-tx-1", p.IdempotencyKey)

	tx := f.stored(t, "tx-1")
	require.NotNil(t, tx.PaymentIntentID)
	assert.Equal(t, res.PaymentIntentID, *tx.PaymentIntentID)
	assert.Equal(t, models.PaymentStatusAwaitingPayment, tx.PaymentStatus)
	assert.Equal(t, models.StatusSellerAccepted, tx.Status)
}

func TestCreatePaymentIntent_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccepted("tx-1")

	first, err := f.svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
	require.NoError(t, err)
	second, err := f.svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
	require.NoError(t, err)

	assert.Equal(t, first.PaymentIntentID, second.PaymentIntentID)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	assert.Equal(t, 1, f.gw.CreateIntentCalls)
}

type mapIntentCache struct {
	mu      sync.Mutex
	entries map[string]gateway.Intent
	readErr error
}

func (c *mapIntentCache) Get(_ context.Context, transactionID string) (*gateway.Intent, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, false, c.readErr
	}
	intent, ok := c.entries[transactionID]
	if !ok {
		return nil, false, nil
	}
	return &intent, true, nil
}

func (c *mapIntentCache) Put(_ context.Context, transactionID string, intent *gateway.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[transactionID] = *intent
	return nil
}

func TestCreatePaymentIntent_ServedFromIntentCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccepted("tx-1")
	intents := &mapIntentCache{entries: map[string]gateway.Intent{}}
	svc := NewService(Config{
		Transactions: f.store.Transactions(),
		Sellers:      f.store.SellerAccounts(),
		Catalog:      f.store.Listings(),
		Transactor:   f.store,
		Gateway:      f.gw,
		Notifier:     f.notifier,
		Intents:      intents,
	})

	first, err := svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
	require.NoError(t, err)
	second, err := svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
	require.NoError(t, err)

	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	assert.Equal(t, 1, f.gw.CreateIntentCalls)
	assert.Equal(t, 0, f.gw.GetIntentCalls)

	t.Run("stale entry falls back to the gateway", func(t *testing.T) {
		intents.entries["tx-1"] = gateway.Intent{ID: "pi_other", ClientSecret: "wrong"}
		again, err := svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
		require.NoError(t, err)
		assert.Equal(t, first.ClientSecret, again.ClientSecret)
		assert.Equal(t, 1, f.gw.GetIntentCalls)
		assert.Equal(t, first.PaymentIntentID, intents.entries["tx-1"].ID)
	})

	t.Run("read errors fall back to the gateway", func(t *testing.T) {
		intents.readErr = errors.New("redis down")
		again, err := svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
		require.NoError(t, err)
		assert.Equal(t, first.ClientSecret, again.ClientSecret)
		assert.Equal(t, 2, f.gw.GetIntentCalls)
	})
}

func TestCreatePaymentIntent_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("not the buyer", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccepted("tx-1")
		_, err := f.svc.CreatePaymentIntent(ctx, "tx-1", sellerID)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("not accepted", func(t *testing.T) {
		f := newFixture(t)
		tx := f.seedAccepted("tx-1")
		tx.Status = models.StatusPendingSellerAcceptance
		f.store.PutTransaction(tx)

		_, err := f.svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.Zero(t, f.gw.CreateIntentCalls)
	})

	t.Run("seller without payout account", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccepted("tx-1")
		f.store.PutSeller(models.SellerAccount{UserID: sellerID, AccountStatus: models.AccountNotCreated})

		_, err := f.svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
		assert.ErrorIs(t, err, apperrors.ErrFailedPrecondition)
		assert.Equal(t, "seller not set up to accept payments", apperrors.MessageOf(err))
		assert.Zero(t, f.gw.CreateIntentCalls)
	})

	t.Run("gateway failure is generic", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccepted("tx-1")
		f.gw.CreateIntentErr = errors.New("card_declined: secret internals")

		_, err := f.svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
		assert.ErrorIs(t, err, apperrors.ErrGateway)
		assert.Equal(t, apperrors.GatewayMessage, apperrors.MessageOf(err))

		tx := f.stored(t, "tx-1")
		assert.Nil(t, tx.PaymentIntentID)
	})
}

func TestCreatePaymentIntent_OrphanCancelledWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccepted("tx-1")
	f.store.FailNextUpdate = repositories.ErrStaleWrite

	_, err := f.svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	in, ok := f.gw.Intent("pi_1")
	require.True(t, ok)
	assert.Equal(t, gateway.IntentCanceled, in.Status)
	assert.Nil(t, f.stored(t, "tx-1").PaymentIntentID)

	// A retry must not get the cancelled intent back.
	res, err := f.svc.CreatePaymentIntent(ctx, "tx-1", buyerID)
	require.NoError(t, err)
	assert.NotEqual(t, "pi_1", res.PaymentIntentID)
}

func TestCapturePayment_ReleasesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPaid("tx-1", models.PaymentStatusSucceeded)

	tx, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, models.PaymentStatusPaid, tx.PaymentStatus)
	assert.Empty(t, tx.PendingOperation)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Text, "Payment has been released to the seller"))
	assert.Equal(t, "system", msgs[0].Sender)
	assert.Equal(t, "system", msgs[0].Type)

	// A second capture afterwards is a conflict with no side effects.
	_, err = f.svc.CapturePayment(ctx, "tx-1", buyerID, txCode)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	captures, _ := f.gw.Calls()
	assert.Equal(t, 1, captures)
	assert.Len(t, f.notifier.Messages(), 1)
}

func TestCapturePayment_WrongCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPaid("tx-1", models.PaymentStatusSucceeded)

	_, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, "WRONG123")
	assert.ErrorIs(t, err, apperrors.ErrCodeMismatch)

	tx := f.stored(t, "tx-1")
	assert.Equal(t, models.StatusSellerAccepted, tx.Status)
	assert.Equal(t, models.PaymentStatusSucceeded, tx.PaymentStatus)

	captures, _ := f.gw.Calls()
	assert.Zero(t, captures)
	assert.Empty(t, f.notifier.Messages())
}

func TestCapturePayment_AttemptsAreLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPaid("tx-1", models.PaymentStatusSucceeded)

	for i := 0; i < 5; i++ {
		_, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, "WRONG123")
		require.ErrorIs(t, err, apperrors.ErrCodeMismatch)
	}

	_, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	captures, _ := f.gw.Calls()
	assert.Zero(t, captures)
}

func TestCapturePayment_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no intent", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccepted("tx-1")
		_, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
		assert.ErrorIs(t, err, apperrors.ErrFailedPrecondition)
	})

	t.Run("stranger", func(t *testing.T) {
		f := newFixture(t)
		f.seedPaid("tx-1", models.PaymentStatusSucceeded)
		_, err := f.svc.CapturePayment(ctx, "tx-1", "stranger", txCode)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("buyer has not paid", func(t *testing.T) {
		f := newFixture(t)
		tx := f.seedPaid("tx-1", models.PaymentStatusAwaitingPayment)
		f.gw.PutIntent(gateway.Intent{ID: *tx.PaymentIntentID, Status: gateway.IntentRequiresPayment})

		_, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
		assert.ErrorIs(t, err, apperrors.ErrFailedPrecondition)

		stored := f.stored(t, "tx-1")
		assert.Equal(t, models.StatusSellerAccepted, stored.Status)
		assert.Empty(t, stored.PendingOperation, "claim is released for a retry")
	})

	t.Run("gateway outage", func(t *testing.T) {
		f := newFixture(t)
		f.seedPaid("tx-1", models.PaymentStatusSucceeded)
		f.gw.CaptureErr = errors.New("connection reset")
		f.gw.GetIntentErr = errors.New("connection reset")

		_, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
		assert.ErrorIs(t, err, apperrors.ErrGateway)
		assert.Empty(t, f.notifier.Messages())
		assert.Empty(t, f.stored(t, "tx-1").PendingOperation)
	})
}

func TestCapturePayment_AlreadyCapturedAtGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := f.seedPaid("tx-1", models.PaymentStatusSucceeded)
	f.gw.PutIntent(gateway.Intent{ID: *tx.PaymentIntentID, Status: gateway.IntentSucceeded})

	got, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Len(t, f.notifier.Messages(), 1)
}

func TestCapturePayment_ConcurrentCallsCaptureOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPaid("tx-1", models.PaymentStatusSucceeded)
	f.gw.CaptureDelay = 20 * time.Millisecond

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		conflict int
	)
	for i := 0; i < callers; i++ {
		caller := buyerID
		if i%2 == 0 {
			caller = sellerID
		}
		wg.Add(1)
		go func(caller string) {
			defer wg.Done()
			_, err := f.svc.CapturePayment(ctx, "tx-1", caller, txCode)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, apperrors.ErrConflict):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(caller)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, callers-1, conflict)
	captures, _ := f.gw.Calls()
	assert.Equal(t, 1, captures)
	assert.Len(t, f.notifier.Messages(), 1)
	assert.Equal(t, models.StatusCompleted, f.stored(t, "tx-1").Status)
}

func TestCaptureAndCancelRace_OneGatewayEffect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPaid("tx-1", models.PaymentStatusSucceeded)
	f.gw.CaptureDelay = 20 * time.Millisecond

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.svc.CancelPayment(ctx, "tx-1", buyerID, "changed my mind")
	}()
	wg.Wait()

	captures, cancels := f.gw.Calls()
	assert.Equal(t, 1, captures+cancels)
	assert.Len(t, f.notifier.Messages(), 1)

	tx := f.stored(t, "tx-1")
	assert.True(t, tx.Status == models.StatusCompleted || tx.Status == models.StatusCancelled)
	assert.Empty(t, tx.PendingOperation)
}

func TestCancelPayment_BuyerUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := f.seedPaid("tx-1", models.PaymentStatusAwaitingPayment)
	f.gw.PutIntent(gateway.Intent{ID: *tx.PaymentIntentID, Status: gateway.IntentRequiresPayment})

	got, err := f.svc.CancelPayment(ctx, "tx-1", sellerID, "buyer unavailable")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, models.PaymentStatusCancelled, got.PaymentStatus)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "buyer unavailable", *got.CancellationReason)
	assert.Equal(t, "buyer unavailable", f.gw.LastCancelReason)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "buyer unavailable")

	listing, _ := f.store.Listing("item-1")
	assert.Equal(t, 5, listing.Stock, "reserved stock is restored")
}

func TestCancelPayment_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPaid("tx-1", models.PaymentStatusSucceeded)

	_, err := f.svc.CancelPayment(ctx, "tx-1", buyerID, "")
	require.NoError(t, err)
	again, err := f.svc.CancelPayment(ctx, "tx-1", buyerID, "again")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, again.Status)
	require.NotNil(t, again.CancellationReason)
	assert.Equal(t, defaultCancelReason, *again.CancellationReason)
	_, cancels := f.gw.Calls()
	assert.Equal(t, 1, cancels)
	assert.Len(t, f.notifier.Messages(), 1)
}

func TestCancelPayment_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no intent", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccepted("tx-1")
		_, err := f.svc.CancelPayment(ctx, "tx-1", buyerID, "x")
		assert.ErrorIs(t, err, apperrors.ErrFailedPrecondition)
		_, cancels := f.gw.Calls()
		assert.Zero(t, cancels)
	})

	t.Run("after release", func(t *testing.T) {
		f := newFixture(t)
		f.seedPaid("tx-1", models.PaymentStatusSucceeded)
		_, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
		require.NoError(t, err)

		_, err = f.svc.CancelPayment(ctx, "tx-1", buyerID, "too late")
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("gateway failure keeps state", func(t *testing.T) {
		f := newFixture(t)
		f.seedPaid("tx-1", models.PaymentStatusSucceeded)
		f.gw.CancelErr = errors.New("timeout")

		_, err := f.svc.CancelPayment(ctx, "tx-1", buyerID, "x")
		assert.ErrorIs(t, err, apperrors.ErrGateway)
		tx := f.stored(t, "tx-1")
		assert.Equal(t, models.StatusSellerAccepted, tx.Status)
		assert.Empty(t, tx.PendingOperation)
		assert.Empty(t, f.notifier.Messages())
	})
}

func TestCapturePayment_AbandonedClaimIsRetaken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := f.seedPaid("tx-1", models.PaymentStatusSucceeded)
	old := time.Now().UTC().Add(-time.Hour)
	tx.PendingOperation = models.OperationCancel
	tx.PendingOperationAt = &old
	f.store.PutTransaction(tx)

	got, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestCapturePayment_LiveClaimBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := f.seedPaid("tx-1", models.PaymentStatusSucceeded)
	now := time.Now().UTC()
	tx.PendingOperation = models.OperationCancel
	tx.PendingOperationAt = &now
	f.store.PutTransaction(tx)

	_, err := f.svc.CapturePayment(ctx, "tx-1", sellerID, txCode)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	captures, _ := f.gw.Calls()
	assert.Zero(t, captures)
}
