package repositories

import (
	"context"
	"time"

	"bazaar/internal/models"
)

// TransactionGuard is the WHERE side of a conditional update. Empty slices
// and nil pointers impose no condition.
type TransactionGuard struct {
	Statuses        []models.TransactionStatus
	PaymentStatuses []models.PaymentStatus

	// IntentUnset requires that no payment intent is attached yet.
	IntentUnset bool
	// IntentID requires the attached payment intent to be exactly this id.
	IntentID *string

	// Unclaimed requires that no capture/cancel claim is held. A claim
	// taken before ClaimStaleBefore counts as released.
	Unclaimed        bool
	ClaimStaleBefore *time.Time
	// ClaimedBy requires the held claim to be this operation.
	ClaimedBy *string
}

// TransactionUpdate is the SET side of a conditional update. Nil fields are
// left untouched.
type TransactionUpdate struct {
	Status             *models.TransactionStatus
	PaymentStatus      *models.PaymentStatus
	PaymentIntentID    *string
	CancellationReason *string

	// Claim sets the pending operation and stamps it with ClaimedAt.
	Claim     *string
	ClaimedAt time.Time
	// ReleaseClaim clears any pending operation.
	ReleaseClaim bool
}

// TransactionRepository persists escrow transactions. Every state change
// goes through UpdateIf so that racing writers are serialized by the store.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	FindByID(ctx context.Context, id string) (*models.Transaction, error)

	// UpdateIf applies update to the transaction only if guard holds for
	// the stored row. It returns ErrStaleWrite when no row matched.
	UpdateIf(ctx context.Context, id string, guard TransactionGuard, update TransactionUpdate) error

	// ListByParticipant returns the transactions where userID is buyer or
	// seller, newest first.
	ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, int64, error)
}

// Status and PaymentStatus pointer helpers for building updates.
func StatusPtr(s models.TransactionStatus) *models.TransactionStatus { return &s }
func PaymentStatusPtr(s models.PaymentStatus) *models.PaymentStatus  { return &s }
func StringPtr(s string) *string                                     { return &s }
