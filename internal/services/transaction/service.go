// Package transaction implements the proposal half of the escrow flow:
// a buyer proposes a purchase, the seller accepts or rejects it, and the
// buyer may withdraw it until payment starts.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "bazaar/internal/errors"
	"bazaar/internal/models"
	"bazaar/internal/repositories"
	"bazaar/internal/services/escrow"
	"bazaar/internal/services/notification"
	"bazaar/internal/utils"
	"bazaar/internal/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config wires the service's collaborators. Now, NewID and NewCode default
// to the wall clock, random UUIDs and random verification codes.
type Config struct {
	Transactions repositories.TransactionRepository
	Catalog      repositories.ListingRepository
	Transactor   repositories.Transactor
	Notifier     notification.ChatNotifier
	Logger       *zap.Logger

	Now     func() time.Time
	NewID   func() string
	NewCode func() (string, error)
}

type service struct {
	txs        repositories.TransactionRepository
	catalog    repositories.ListingRepository
	transactor repositories.Transactor
	notifier   notification.ChatNotifier
	log        *zap.Logger

	now     func() time.Time
	newID   func() string
	newCode func() (string, error)
}

// NewService creates a new transaction service
func NewService(cfg Config) Service {
	if cfg.Transactions == nil {
		panic("transaction repository is required")
	}
	if cfg.Catalog == nil {
		panic("catalog is required")
	}
	if cfg.Transactor == nil {
		panic("transactor is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notification.NewLogNotifier(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.NewCode == nil {
		cfg.NewCode = func() (string, error) { return utils.GenerateVerificationCode(CodeLength) }
	}

	return &service{
		txs:        cfg.Transactions,
		catalog:    cfg.Catalog,
		transactor: cfg.Transactor,
		notifier:   cfg.Notifier,
		log:        cfg.Logger.Named("transaction"),
		now:        cfg.Now,
		newID:      cfg.NewID,
		newCode:    cfg.NewCode,
	}
}

func (s *service) Initiate(ctx context.Context, buyerID string, req models.InitiateTransactionRequest) (*models.Transaction, error) {
	if buyerID == "" {
		return nil, apperrors.ErrUnauthenticated
	}

	v := validation.New()
	v.InitiateTransaction(&req)
	if err := v.Err(); err != nil {
		return nil, err
	}
	if buyerID == req.SellerID {
		return nil, apperrors.InvalidArgument("you cannot buy your own item")
	}
	if req.FulfillmentType == "" {
		req.FulfillmentType = models.FulfillmentInPerson
	}

	listing, err := s.catalog.GetListing(ctx, req.ItemID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.InvalidArgument("item not found")
	}
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("load listing: %w", err))
	}
	if listing.SellerID != req.SellerID {
		return nil, apperrors.InvalidArgument("item is not sold by this seller")
	}
	if !listing.UnitPrice.Equal(req.UnitPrice) {
		return nil, apperrors.Conflict("the item's price has changed, please review the offer")
	}
	if req.Quantity > listing.Stock {
		return nil, apperrors.FailedPrecondition("not enough items in stock")
	}

	code, err := s.newCode()
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("generate verification code: %w", err))
	}

	now := s.now()
	tx := &models.Transaction{
		ID:              s.newID(),
		BuyerID:         buyerID,
		SellerID:        req.SellerID,
		ItemID:          req.ItemID,
		ItemName:        listing.Name,
		UnitPrice:       req.UnitPrice,
		Quantity:        req.Quantity,
		TotalPrice:      req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))),
		FulfillmentType: req.FulfillmentType,
		TransactionCode: code,
		Status:          models.StatusPendingSellerAcceptance,
		PaymentStatus:   models.PaymentStatusNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, apperrors.Internal(err)
	}

	s.log.Info("transaction initiated",
		zap.String("transaction_id", tx.ID),
		zap.String("buyer_id", buyerID),
		zap.String("seller_id", tx.SellerID),
		zap.String("total", tx.TotalPrice.StringFixed(2)))
	return tx, nil
}

func (s *service) Accept(ctx context.Context, transactionID, sellerID string) (*models.Transaction, error) {
	tx, err := s.loadForSeller(ctx, transactionID, sellerID)
	if err != nil {
		return nil, err
	}

	err = s.transactor.Atomically(ctx, func(ctx context.Context) error {
		if err := s.catalog.ReserveStock(ctx, tx.ItemID, tx.Quantity); err != nil {
			if errors.Is(err, repositories.ErrInsufficientStock) {
				return apperrors.FailedPrecondition("not enough items in stock to accept this offer")
			}
			return apperrors.Internal(err)
		}
		return s.transition(ctx, tx, models.StatusSellerAccepted)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("transaction accepted", zap.String("transaction_id", tx.ID))
	s.notify(ctx, tx.ID, msgAccepted)
	return s.reload(ctx, tx.ID)
}

func (s *service) Reject(ctx context.Context, transactionID, sellerID string) (*models.Transaction, error) {
	tx, err := s.loadForSeller(ctx, transactionID, sellerID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, tx, models.StatusSellerRejected); err != nil {
		return nil, err
	}

	s.log.Info("transaction rejected", zap.String("transaction_id", tx.ID))
	s.notify(ctx, tx.ID, msgRejected)
	return s.reload(ctx, tx.ID)
}

func (s *service) Withdraw(ctx context.Context, transactionID, buyerID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != buyerID {
		return nil, apperrors.Unauthorized("only the buyer can withdraw this offer")
	}
	if !escrow.CanTransition(tx.Status, models.StatusWithdrawn) {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot withdraw a transaction that is %s", tx.Status))
	}
	if tx.PaymentStatus != models.PaymentStatusNone || tx.PendingOperation != models.OperationNone {
		return nil, apperrors.Conflict("payment has started; cancel the payment instead")
	}

	reserved := tx.Status == models.StatusSellerAccepted
	err = s.transactor.Atomically(ctx, func(ctx context.Context) error {
		err := s.txs.UpdateIf(ctx, tx.ID,
			repositories.TransactionGuard{
				Statuses:        []models.TransactionStatus{tx.Status},
				PaymentStatuses: []models.PaymentStatus{models.PaymentStatusNone},
				IntentUnset:     true,
				Unclaimed:       true,
			},
			repositories.TransactionUpdate{Status: repositories.StatusPtr(models.StatusWithdrawn)})
		if errors.Is(err, repositories.ErrStaleWrite) {
			return apperrors.Conflict("transaction changed while withdrawing, please refresh")
		}
		if err != nil {
			return apperrors.Internal(err)
		}
		if reserved {
			if err := s.catalog.ReleaseStock(ctx, tx.ItemID, tx.Quantity); err != nil && !errors.Is(err, repositories.ErrNotFound) {
				return apperrors.Internal(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("transaction withdrawn",
		zap.String("transaction_id", tx.ID),
		zap.Bool("stock_released", reserved))
	s.notify(ctx, tx.ID, msgWithdrawn)
	return s.reload(ctx, tx.ID)
}

func (s *service) Get(ctx context.Context, transactionID, callerID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.IsParticipant(callerID) {
		return nil, apperrors.Unauthorized("you are not a participant in this transaction")
	}
	return tx, nil
}

func (s *service) List(ctx context.Context, callerID string, limit, offset int) ([]models.Transaction, int64, error) {
	if callerID == "" {
		return nil, 0, apperrors.ErrUnauthenticated
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	list, total, err := s.txs.ListByParticipant(ctx, callerID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return list, total, nil
}

// transition moves a pending proposal to next, compare-and-swapping on the
// pending status.
func (s *service) transition(ctx context.Context, tx *models.Transaction, next models.TransactionStatus) error {
	err := s.txs.UpdateIf(ctx, tx.ID,
		repositories.TransactionGuard{Statuses: []models.TransactionStatus{models.StatusPendingSellerAcceptance}},
		repositories.TransactionUpdate{Status: repositories.StatusPtr(next)})
	if errors.Is(err, repositories.ErrStaleWrite) {
		return apperrors.Conflict("transaction is no longer awaiting the seller's decision")
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *service) loadForSeller(ctx context.Context, transactionID, sellerID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.SellerID != sellerID {
		return nil, apperrors.Unauthorized("only the seller can decide on this offer")
	}
	if tx.Status != models.StatusPendingSellerAcceptance {
		return nil, apperrors.Conflict(fmt.Sprintf("transaction is %s, not awaiting the seller's decision", tx.Status))
	}
	return tx, nil
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

func (s *service) reload(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.load(ctx, transactionID)
}

// notify runs after the state it announces is committed. Delivery failures
// are logged and do not fail the operation.
func (s *service) notify(ctx context.Context, transactionID, text string) {
	msg := models.NewSystemMessage(transactionID, text, s.now())
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.Warn("system message not delivered",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
	}
}
