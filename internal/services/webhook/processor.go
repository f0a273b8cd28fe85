// Package webhook applies verified payment gateway events. Every event id
// is recorded in the ledger in the same database transaction as its state
// changes, so redeliveries are no-ops and a failed apply is redelivered.
package webhook

import (
	"context"
	"errors"
	"time"

	apperrors "bazaar/internal/errors"
	"bazaar/internal/gateway"
	"bazaar/internal/models"
	"bazaar/internal/repositories"
	"bazaar/internal/services/escrow"
	"bazaar/internal/services/notification"

	"go.uber.org/zap"
)

// AccountUpdater persists a connected account snapshot. The seller service
// implements it with the same status rule its polling path uses.
type AccountUpdater interface {
	ApplyAccountUpdate(ctx context.Context, acct gateway.Account) (*models.SellerAccount, error)
}

type Processor interface {
	// Handle verifies rawBody against signature and applies the event. A nil
	// return means the event is durably recorded, including events that
	// referenced nothing we know about.
	Handle(ctx context.Context, rawBody []byte, signature string) error
}

type Config struct {
	Verifier     gateway.EventVerifier
	Ledger       repositories.WebhookLedger
	Transactions repositories.TransactionRepository
	Accounts     AccountUpdater
	Transactor   repositories.Transactor
	Notifier     notification.ChatNotifier
	Logger       *zap.Logger
	Now          func() time.Time
}

type processor struct {
	verifier   gateway.EventVerifier
	ledger     repositories.WebhookLedger
	txs        repositories.TransactionRepository
	accounts   AccountUpdater
	transactor repositories.Transactor
	notifier   notification.ChatNotifier
	log        *zap.Logger
	now        func() time.Time
}

// errAlreadyRecorded aborts the apply transaction when a concurrent
// delivery of the same event won the ledger insert.
var errAlreadyRecorded = errors.New("event already recorded")

func NewProcessor(cfg Config) Processor {
	if cfg.Verifier == nil {
		panic("event verifier is required")
	}
	if cfg.Ledger == nil {
		panic("webhook ledger is required")
	}
	if cfg.Transactions == nil {
		panic("transaction repository is required")
	}
	if cfg.Accounts == nil {
		panic("account updater is required")
	}
	if cfg.Transactor == nil {
		panic("transactor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notification.NewLogNotifier(cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &processor{
		verifier:   cfg.Verifier,
		ledger:     cfg.Ledger,
		txs:        cfg.Transactions,
		accounts:   cfg.Accounts,
		transactor: cfg.Transactor,
		notifier:   cfg.Notifier,
		log:        cfg.Logger.Named("webhook"),
		now:        cfg.Now,
	}
}

func (p *processor) Handle(ctx context.Context, rawBody []byte, signature string) error {
	evt, err := p.verifier.VerifyEvent(rawBody, signature)
	if err != nil {
		p.log.Warn("webhook rejected", zap.Error(err))
		return apperrors.WebhookVerification(err)
	}

	log := p.log.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))

	seen, err := p.ledger.Exists(ctx, evt.ID)
	if err != nil {
		return apperrors.Internal(err)
	}
	if seen {
		log.Debug("duplicate event ignored")
		return nil
	}

	var held string
	err = p.transactor.Atomically(ctx, func(ctx context.Context) error {
		held = ""
		entry := &models.WebhookEvent{
			EventID:     evt.ID,
			EventType:   evt.Type,
			Payload:     models.JSON(evt.Payload),
			ProcessedAt: p.now(),
		}
		if err := p.ledger.Record(ctx, entry); err != nil {
			if errors.Is(err, repositories.ErrDuplicateEvent) {
				return errAlreadyRecorded
			}
			return err
		}

		switch evt.Type {
		case gateway.EventPaymentIntentSucceeded, gateway.EventPaymentIntentAmountCapturable:
			id, err := p.markSucceeded(ctx, evt.PaymentIntent, log)
			held = id
			return err
		case gateway.EventAccountUpdated:
			return p.applyAccount(ctx, evt.Account, log)
		default:
			log.Debug("event type not handled")
			return nil
		}
	})
	if errors.Is(err, errAlreadyRecorded) {
		log.Debug("duplicate event ignored")
		return nil
	}
	if err != nil {
		log.Error("webhook processing failed", zap.Error(err))
		return apperrors.Internal(err)
	}

	if held != "" {
		msg := models.NewSystemMessage(held, escrow.MsgPaymentHeld, p.now())
		if err := p.notifier.Notify(ctx, msg); err != nil {
			log.Warn("system message not delivered", zap.String("transaction_id", held), zap.Error(err))
		}
	}
	return nil
}

// markSucceeded moves the payment from awaiting_payment to succeeded and
// returns the transaction id when it did. The business status is left for
// the code capture.
func (p *processor) markSucceeded(ctx context.Context, in *gateway.Intent, log *zap.Logger) (string, error) {
	if in == nil {
		log.Warn("payment event without intent object")
		return "", nil
	}
	transactionID := in.Metadata[gateway.MetadataTransactionID]
	if transactionID == "" {
		log.Info("intent has no transaction reference", zap.String("intent_id", in.ID))
		return "", nil
	}
	log = log.With(zap.String("transaction_id", transactionID), zap.String("intent_id", in.ID))

	tx, err := p.txs.FindByID(ctx, transactionID)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Info("intent references unknown transaction")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if tx.PaymentIntentID == nil || *tx.PaymentIntentID != in.ID {
		log.Warn("intent does not match transaction")
		return "", nil
	}
	if tx.PaymentStatus != models.PaymentStatusAwaitingPayment {
		return "", nil
	}

	err = p.txs.UpdateIf(ctx, tx.ID, repositories.TransactionGuard{
		PaymentStatuses: []models.PaymentStatus{models.PaymentStatusAwaitingPayment},
		IntentID:        &in.ID,
	}, repositories.TransactionUpdate{
		PaymentStatus: repositories.PaymentStatusPtr(models.PaymentStatusSucceeded),
	})
	if errors.Is(err, repositories.ErrStaleWrite) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	log.Info("payment held in escrow")
	return tx.ID, nil
}

func (p *processor) applyAccount(ctx context.Context, acct *gateway.Account, log *zap.Logger) error {
	if acct == nil {
		log.Warn("account event without account object")
		return nil
	}
	_, err := p.accounts.ApplyAccountUpdate(ctx, *acct)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Info("account event for unknown seller", zap.String("account_id", acct.ID))
		return nil
	}
	return err
}
