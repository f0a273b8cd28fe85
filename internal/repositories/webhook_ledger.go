package repositories

import (
	"context"
	"fmt"

	"bazaar/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookLedger is the append-only record of processed gateway events.
type WebhookLedger interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	// Record appends evt. It returns ErrDuplicateEvent if the event id is
	// already present.
	Record(ctx context.Context, evt *models.WebhookEvent) error
	Recent(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

type webhookLedger struct {
	db *gorm.DB
}

// NewWebhookLedger returns a gorm-backed WebhookLedger.
func NewWebhookLedger(db *gorm.DB) WebhookLedger {
	return &webhookLedger{db: db}
}

func (l *webhookLedger) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := conn(ctx, l.db).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check webhook ledger: %w", err)
	}
	return count > 0, nil
}

func (l *webhookLedger) Record(ctx context.Context, evt *models.WebhookEvent) error {
	result := conn(ctx, l.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(evt)
	if result.Error != nil {
		return fmt.Errorf("record webhook event %s: %w", evt.EventID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (l *webhookLedger) Recent(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []models.WebhookEvent
	err := conn(ctx, l.db).Order("processed_at DESC, id DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list webhook ledger: %w", err)
	}
	return events, nil
}
