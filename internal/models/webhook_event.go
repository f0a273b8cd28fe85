package models

import "time"

// WebhookEvent is a ledger entry for a processed gateway event. EventID is
// unique; a second insert of the same id is how duplicates are detected.
type WebhookEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	EventID     string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"event_id"`
	EventType   string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload     JSON      `gorm:"type:jsonb" json:"payload,omitempty"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}
