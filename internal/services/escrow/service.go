// Package escrow holds buyer funds between seller acceptance and the
// in-person handover. Payments are authorized with a manual-capture intent
// and either released by the verification code or cancelled.
//
// Capture and cancel take a short-lived claim on the transaction row before
// touching the gateway, so racing callers collapse to one gateway side
// effect and one chat message.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "bazaar/internal/errors"
	"bazaar/internal/gateway"
	"bazaar/internal/models"
	"bazaar/internal/repositories"
	"bazaar/internal/services/notification"
	"bazaar/internal/utils"

	"go.uber.org/zap"
)

type Config struct {
	Transactions repositories.TransactionRepository
	Sellers      repositories.SellerAccountRepository
	Catalog      repositories.ListingRepository
	Transactor   repositories.Transactor
	Gateway      gateway.Gateway
	Notifier     notification.ChatNotifier
	Limiter      AttemptLimiter
	Intents      IntentCache
	Fees         *FeeCalculator
	Currency     string
	ClaimTTL     time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

type service struct {
	txs        repositories.TransactionRepository
	sellers    repositories.SellerAccountRepository
	catalog    repositories.ListingRepository
	transactor repositories.Transactor
	gw         gateway.Gateway
	notifier   notification.ChatNotifier
	limiter    AttemptLimiter
	intents    IntentCache
	fees       *FeeCalculator
	currency   string
	claimTTL   time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewService creates the escrow controller. The limiter and the intent
// cache are optional.
func NewService(cfg Config) Service {
	if cfg.Transactions == nil {
		panic("transaction repository is required")
	}
	if cfg.Sellers == nil {
		panic("seller account repository is required")
	}
	if cfg.Catalog == nil {
		panic("catalog is required")
	}
	if cfg.Transactor == nil {
		panic("transactor is required")
	}
	if cfg.Gateway == nil {
		panic("payment gateway is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notification.NewLogNotifier(cfg.Logger)
	}
	if cfg.Fees == nil {
		cfg.Fees = NewFeeCalculator(DefaultFeeRate)
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &service{
		txs:        cfg.Transactions,
		sellers:    cfg.Sellers,
		catalog:    cfg.Catalog,
		transactor: cfg.Transactor,
		gw:         cfg.Gateway,
		notifier:   cfg.Notifier,
		limiter:    cfg.Limiter,
		intents:    cfg.Intents,
		fees:       cfg.Fees,
		currency:   cfg.Currency,
		claimTTL:   cfg.ClaimTTL,
		log:        cfg.Logger.Named("escrow"),
		now:        cfg.Now,
	}
}

func (s *service) CreatePaymentIntent(ctx context.Context, transactionID, callerID string) (*PaymentIntentResult, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != callerID {
		return nil, apperrors.Unauthorized("only the buyer can pay for this transaction")
	}

	if tx.HasPaymentIntent() {
		if tx.Status.IsTerminal() {
			return nil, apperrors.Conflict(fmt.Sprintf("transaction is %s", tx.Status))
		}
		return s.existingIntent(ctx, tx)
	}
	if tx.Status != models.StatusSellerAccepted {
		return nil, apperrors.Conflict("the seller has not accepted this offer")
	}

	seller, err := s.sellers.FindByUserID(ctx, tx.SellerID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}
	if !seller.HasGatewayAccount() {
		return nil, apperrors.FailedPrecondition("seller not set up to accept payments")
	}

	params := gateway.CreateIntentParams{
		AmountMinor:         s.fees.AmountMinor(tx.TotalPrice),
		ApplicationFeeMinor: s.fees.ApplicationFeeMinor(tx.TotalPrice),
		Currency:            s.currency,
		DestinationAccount:  *seller.GatewayAccountID,
		TransactionID:       tx.ID,
		IdempotencyKey:      "pi-create-" + tx.ID,
	}
	intent, err := s.gw.CreateIntent(ctx, params)
	if err == nil && intent.Status == gateway.IntentCanceled {
		// The key replayed an intent we cancelled as an orphan earlier.
		params.IdempotencyKey += "-" + strconv.FormatInt(s.now().UnixNano(), 36)
		intent, err = s.gw.CreateIntent(ctx, params)
	}
	if err != nil {
		s.log.Error("create payment intent failed",
			zap.String("transaction_id", tx.ID),
			zap.Int64("amount", params.AmountMinor),
			zap.Error(err))
		return nil, apperrors.Gateway("create payment intent", err)
	}

	err = s.txs.UpdateIf(ctx, tx.ID,
		repositories.TransactionGuard{
			Statuses:        []models.TransactionStatus{models.StatusSellerAccepted},
			PaymentStatuses: []models.PaymentStatus{models.PaymentStatusNone},
			IntentUnset:     true,
		},
		repositories.TransactionUpdate{
			PaymentIntentID: repositories.StringPtr(intent.ID),
			PaymentStatus:   repositories.PaymentStatusPtr(models.PaymentStatusAwaitingPayment),
		})
	if err != nil {
		return s.resolveUnpersistedIntent(ctx, tx.ID, intent, err)
	}

	s.rememberIntent(ctx, tx.ID, intent)
	s.log.Info("payment intent created",
		zap.String("transaction_id", tx.ID),
		zap.String("payment_intent_id", intent.ID),
		zap.Int64("amount", params.AmountMinor),
		zap.Int64("application_fee", params.ApplicationFeeMinor))
	return s.intentResult(tx, intent), nil
}

// resolveUnpersistedIntent handles an intent the gateway created but the
// repository refused. A racing caller may have stored the same intent;
// otherwise the intent is an orphan and is cancelled at the gateway.
func (s *service) resolveUnpersistedIntent(ctx context.Context, transactionID string, intent *gateway.Intent, cause error) (*PaymentIntentResult, error) {
	if errors.Is(cause, repositories.ErrStaleWrite) {
		current, err := s.txs.FindByID(ctx, transactionID)
		if err == nil && current.PaymentIntentID != nil && *current.PaymentIntentID == intent.ID {
			return s.intentResult(current, intent), nil
		}
	}

	if _, err := s.gw.CancelIntent(ctx, intent.ID, "transaction changed before the payment was recorded"); err != nil {
		s.log.Error("orphaned payment intent could not be cancelled",
			zap.String("transaction_id", transactionID),
			zap.String("payment_intent_id", intent.ID),
			zap.Error(err))
	} else {
		s.log.Warn("orphaned payment intent cancelled",
			zap.String("transaction_id", transactionID),
			zap.String("payment_intent_id", intent.ID),
			zap.NamedError("cause", cause))
	}

	if errors.Is(cause, repositories.ErrStaleWrite) {
		return nil, apperrors.Conflict("transaction changed while starting the payment, please refresh")
	}
	return nil, apperrors.Internal(cause)
}

func (s *service) existingIntent(ctx context.Context, tx *models.Transaction) (*PaymentIntentResult, error) {
	if s.intents != nil {
		cached, found, err := s.intents.Get(ctx, tx.ID)
		if err != nil {
			s.log.Warn("intent cache read failed", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
		if found && cached.ID == *tx.PaymentIntentID {
			return s.intentResult(tx, cached), nil
		}
	}

	intent, err := s.gw.GetIntent(ctx, *tx.PaymentIntentID)
	if err != nil {
		return nil, apperrors.Gateway("get payment intent", err)
	}
	s.rememberIntent(ctx, tx.ID, intent)
	return s.intentResult(tx, intent), nil
}

func (s *service) rememberIntent(ctx context.Context, transactionID string, intent *gateway.Intent) {
	if s.intents == nil {
		return
	}
	if err := s.intents.Put(ctx, transactionID, intent); err != nil {
		s.log.Warn("intent cache write failed", zap.String("transaction_id", transactionID), zap.Error(err))
	}
}

func (s *service) intentResult(tx *models.Transaction, intent *gateway.Intent) *PaymentIntentResult {
	return &PaymentIntentResult{
		TransactionID:       tx.ID,
		PaymentIntentID:     intent.ID,
		ClientSecret:        intent.ClientSecret,
		AmountMinor:         s.fees.AmountMinor(tx.TotalPrice),
		ApplicationFeeMinor: s.fees.ApplicationFeeMinor(tx.TotalPrice),
		Currency:            s.currency,
	}
}

func (s *service) CapturePayment(ctx context.Context, transactionID, callerID, code string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.IsParticipant(callerID) {
		return nil, apperrors.Unauthorized("you are not a participant in this transaction")
	}
	if !tx.HasPaymentIntent() {
		return nil, apperrors.FailedPrecondition("no payment has been started for this transaction")
	}
	if err := s.checkCode(ctx, tx, code); err != nil {
		return nil, err
	}
	// A repeated capture is reported as Conflict, not a silent success, so
	// the caller sees the release already happened. No gateway call either way.
	if tx.Status == models.StatusCompleted {
		return nil, apperrors.Conflict("payment has already been released")
	}
	if !CanTransition(tx.Status, models.StatusCompleted) {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot release payment for a transaction that is %s", tx.Status))
	}

	if err := s.claim(ctx, tx, models.OperationCapture); err != nil {
		return nil, err
	}

	intentID := *tx.PaymentIntentID
	if _, err := s.gw.CaptureIntent(ctx, intentID); err != nil {
		if !s.intentReached(ctx, intentID, gateway.IntentSucceeded) {
			return nil, s.abandon(ctx, tx, models.OperationCapture, "capture payment intent", err)
		}
		s.log.Info("payment intent was already captured", zap.String("payment_intent_id", intentID))
	}

	err = s.txs.UpdateIf(ctx, tx.ID,
		repositories.TransactionGuard{
			ClaimedBy: repositories.StringPtr(models.OperationCapture),
			IntentID:  &intentID,
		},
		repositories.TransactionUpdate{
			Status:        repositories.StatusPtr(models.StatusCompleted),
			PaymentStatus: repositories.PaymentStatusPtr(models.PaymentStatusPaid),
			ReleaseClaim:  true,
		})
	if err != nil {
		s.log.Error("captured payment not recorded",
			zap.String("transaction_id", tx.ID),
			zap.String("payment_intent_id", intentID),
			zap.Error(err))
		if errors.Is(err, repositories.ErrStaleWrite) {
			return nil, apperrors.Conflict("transaction changed while releasing the payment")
		}
		return nil, apperrors.Internal(err)
	}

	s.log.Info("payment released",
		zap.String("transaction_id", tx.ID),
		zap.String("payment_intent_id", intentID),
		zap.String("released_by", callerID))
	s.notify(ctx, tx.ID, MsgPaymentReleased)
	return s.load(ctx, tx.ID)
}

func (s *service) CancelPayment(ctx context.Context, transactionID, callerID, reason string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.IsParticipant(callerID) {
		return nil, apperrors.Unauthorized("you are not a participant in this transaction")
	}
	if !tx.HasPaymentIntent() {
		return nil, apperrors.FailedPrecondition("no payment has been started for this transaction")
	}
	if tx.Status == models.StatusCancelled {
		return tx, nil
	}
	if tx.Status == models.StatusCompleted {
		return nil, apperrors.Conflict("payment has already been released and cannot be cancelled")
	}
	if !CanTransition(tx.Status, models.StatusCancelled) {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot cancel a transaction that is %s", tx.Status))
	}
	if reason == "" {
		reason = defaultCancelReason
	}

	if err := s.claim(ctx, tx, models.OperationCancel); err != nil {
		if current, ok := s.alreadyCancelled(ctx, tx.ID); ok {
			return current, nil
		}
		return nil, err
	}

	intentID := *tx.PaymentIntentID
	if _, err := s.gw.CancelIntent(ctx, intentID, reason); err != nil {
		if !s.intentReached(ctx, intentID, gateway.IntentCanceled) {
			return nil, s.abandon(ctx, tx, models.OperationCancel, "cancel payment intent", err)
		}
		s.log.Info("payment intent was already cancelled", zap.String("payment_intent_id", intentID))
	}

	err = s.transactor.Atomically(ctx, func(ctx context.Context) error {
		err := s.txs.UpdateIf(ctx, tx.ID,
			repositories.TransactionGuard{
				ClaimedBy: repositories.StringPtr(models.OperationCancel),
				IntentID:  &intentID,
			},
			repositories.TransactionUpdate{
				Status:             repositories.StatusPtr(models.StatusCancelled),
				PaymentStatus:      repositories.PaymentStatusPtr(models.PaymentStatusCancelled),
				CancellationReason: &reason,
				ReleaseClaim:       true,
			})
		if err != nil {
			return err
		}
		// Stock was reserved when the seller accepted.
		if err := s.catalog.ReleaseStock(ctx, tx.ItemID, tx.Quantity); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		s.log.Error("cancelled payment not recorded",
			zap.String("transaction_id", tx.ID),
			zap.String("payment_intent_id", intentID),
			zap.Error(err))
		if errors.Is(err, repositories.ErrStaleWrite) {
			return nil, apperrors.Conflict("transaction changed while cancelling the payment")
		}
		return nil, apperrors.Internal(err)
	}

	s.log.Info("payment cancelled",
		zap.String("transaction_id", tx.ID),
		zap.String("payment_intent_id", intentID),
		zap.String("cancelled_by", callerID),
		zap.String("reason", reason))
	s.notify(ctx, tx.ID, fmt.Sprintf(msgCancelledFormat, reason))
	return s.load(ctx, tx.ID)
}

// checkCode compares the verification code in constant time. Wrong codes
// are counted per transaction and never reach the gateway.
func (s *service) checkCode(ctx context.Context, tx *models.Transaction, code string) error {
	if s.limiter != nil {
		blocked, err := s.limiter.Blocked(ctx, tx.ID)
		if err != nil {
			s.log.Warn("attempt limiter unavailable", zap.Error(err))
		} else if blocked {
			return apperrors.ErrRateLimited
		}
	}

	if !utils.CodesEqual(tx.TransactionCode, code) {
		if s.limiter != nil {
			if n, err := s.limiter.RecordFailure(ctx, tx.ID); err != nil {
				s.log.Warn("attempt limiter unavailable", zap.Error(err))
			} else {
				s.log.Info("verification code mismatch",
					zap.String("transaction_id", tx.ID),
					zap.Int64("failures", n))
			}
		}
		return apperrors.ErrCodeMismatch
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, tx.ID); err != nil {
			s.log.Warn("attempt limiter reset failed", zap.Error(err))
		}
	}
	return nil
}

// claim marks the transaction as busy with op. Only one caller can hold a
// claim; claims older than the TTL are treated as abandoned.
func (s *service) claim(ctx context.Context, tx *models.Transaction, op string) error {
	now := s.now()
	staleBefore := now.Add(-s.claimTTL)
	err := s.txs.UpdateIf(ctx, tx.ID,
		repositories.TransactionGuard{
			Statuses: []models.TransactionStatus{models.StatusSellerAccepted},
			PaymentStatuses: []models.PaymentStatus{
				models.PaymentStatusAwaitingPayment,
				models.PaymentStatusSucceeded,
			},
			IntentID:         tx.PaymentIntentID,
			Unclaimed:        true,
			ClaimStaleBefore: &staleBefore,
		},
		repositories.TransactionUpdate{Claim: &op, ClaimedAt: now})
	if errors.Is(err, repositories.ErrStaleWrite) {
		current, loadErr := s.load(ctx, tx.ID)
		if loadErr == nil && current.Status == models.StatusCompleted {
			return apperrors.Conflict("payment has already been released")
		}
		if loadErr == nil && current.Status == models.StatusCancelled {
			return apperrors.Conflict("payment has already been cancelled")
		}
		return apperrors.Conflict("another payment operation is in progress for this transaction")
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// abandon releases op's claim after a gateway failure so the operation can
// be retried.
func (s *service) abandon(ctx context.Context, tx *models.Transaction, op, gatewayOp string, cause error) error {
	s.log.Error("gateway call failed",
		zap.String("op", gatewayOp),
		zap.String("transaction_id", tx.ID),
		zap.String("payment_intent_id", *tx.PaymentIntentID),
		zap.Error(cause))

	err := s.txs.UpdateIf(ctx, tx.ID,
		repositories.TransactionGuard{ClaimedBy: &op},
		repositories.TransactionUpdate{ReleaseClaim: true})
	if err != nil {
		s.log.Warn("claim not released; it will expire",
			zap.String("transaction_id", tx.ID),
			zap.Duration("ttl", s.claimTTL),
			zap.Error(err))
	}

	if op == models.OperationCapture && s.intentReached(ctx, *tx.PaymentIntentID, gateway.IntentRequiresPayment) {
		return apperrors.FailedPrecondition("the buyer has not completed payment yet")
	}
	return apperrors.Gateway(gatewayOp, cause)
}

// intentReached asks the gateway whether the intent is already in status.
// Lookup failures count as no.
func (s *service) intentReached(ctx context.Context, intentID string, status gateway.IntentStatus) bool {
	intent, err := s.gw.GetIntent(ctx, intentID)
	if err != nil {
		s.log.Warn("payment intent lookup failed", zap.String("payment_intent_id", intentID), zap.Error(err))
		return false
	}
	return intent.Status == status
}

func (s *service) alreadyCancelled(ctx context.Context, transactionID string) (*models.Transaction, bool) {
	current, err := s.load(ctx, transactionID)
	if err != nil || current.Status != models.StatusCancelled {
		return nil, false
	}
	return current, true
}

func (s *service) load(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.txs.FindByID(ctx, transactionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.NotFound("transaction not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return tx, nil
}

func (s *service) notify(ctx context.Context, transactionID, text string) {
	msg := models.NewSystemMessage(transactionID, text, s.now())
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.Warn("system message not delivered",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
	}
}
