package transaction

import (
	"context"

	"bazaar/internal/models"
)

// Service manages purchase proposals up to seller acceptance.
type Service interface {
	Initiate(ctx context.Context, buyerID string, req models.InitiateTransactionRequest) (*models.Transaction, error)
	Accept(ctx context.Context, transactionID, sellerID string) (*models.Transaction, error)
	Reject(ctx context.Context, transactionID, sellerID string) (*models.Transaction, error)
	Withdraw(ctx context.Context, transactionID, buyerID string) (*models.Transaction, error)

	// Get returns the transaction if callerID is a participant.
	Get(ctx context.Context, transactionID, callerID string) (*models.Transaction, error)
	List(ctx context.Context, callerID string, limit, offset int) ([]models.Transaction, int64, error)
}
