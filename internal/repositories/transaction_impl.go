package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bazaar/internal/models"

	"gorm.io/gorm"
)

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository returns a gorm-backed TransactionRepository.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if err := conn(ctx, r.db).Create(tx).Error; err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := conn(ctx, r.db).Where("id = ?", id).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction %s: %w", id, err)
	}
	return &tx, nil
}

func (r *transactionRepository) UpdateIf(ctx context.Context, id string, guard TransactionGuard, update TransactionUpdate) error {
	values := updateValues(update)
	if len(values) == 0 {
		return nil
	}
	values["updated_at"] = time.Now().UTC()

	q := applyGuard(conn(ctx, r.db).Model(&models.Transaction{}).Where("id = ?", id), guard)
	result := q.Updates(values)
	if result.Error != nil {
		return fmt.Errorf("update transaction %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *transactionRepository) ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, int64, error) {
	var (
		transactions []models.Transaction
		total        int64
	)
	q := conn(ctx, r.db).Model(&models.Transaction{}).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Session(&gorm.Session{})

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&transactions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return transactions, total, nil
}

func applyGuard(q *gorm.DB, g TransactionGuard) *gorm.DB {
	if len(g.Statuses) > 0 {
		q = q.Where("status IN ?", g.Statuses)
	}
	if len(g.PaymentStatuses) > 0 {
		q = q.Where("payment_status IN ?", g.PaymentStatuses)
	}
	if g.IntentUnset {
		q = q.Where("payment_intent_id IS NULL")
	}
	if g.IntentID != nil {
		q = q.Where("payment_intent_id = ?", *g.IntentID)
	}
	if g.Unclaimed {
		if g.ClaimStaleBefore != nil {
			q = q.Where("(pending_operation = '' OR pending_operation_at < ?)", g.ClaimStaleBefore.UTC())
		} else {
			q = q.Where("pending_operation = ''")
		}
	}
	if g.ClaimedBy != nil {
		q = q.Where("pending_operation = ?", *g.ClaimedBy)
	}
	return q
}

func updateValues(u TransactionUpdate) map[string]interface{} {
	values := map[string]interface{}{}
	if u.Status != nil {
		values["status"] = *u.Status
	}
	if u.PaymentStatus != nil {
		values["payment_status"] = *u.PaymentStatus
	}
	if u.PaymentIntentID != nil {
		values["payment_intent_id"] = *u.PaymentIntentID
	}
	if u.CancellationReason != nil {
		values["cancellation_reason"] = *u.CancellationReason
	}
	switch {
	case u.Claim != nil:
		values["pending_operation"] = *u.Claim
		values["pending_operation_at"] = u.ClaimedAt.UTC()
	case u.ReleaseClaim:
		values["pending_operation"] = models.OperationNone
		values["pending_operation_at"] = nil
	}
	return values
}
