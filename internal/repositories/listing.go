package repositories

import (
	"context"
	"errors"
	"fmt"

	"bazaar/internal/models"

	"gorm.io/gorm"
)

// ListingRepository is the catalog collaborator: price lookup and stock
// adjustment for listed items.
type ListingRepository interface {
	GetListing(ctx context.Context, itemID string) (*models.Listing, error)
	// ReserveStock decrements stock by quantity, failing with
	// ErrInsufficientStock rather than going negative.
	ReserveStock(ctx context.Context, itemID string, quantity int) error
	ReleaseStock(ctx context.Context, itemID string, quantity int) error
}

type listingRepository struct {
	db *gorm.DB
}

// NewListingRepository returns a gorm-backed ListingRepository.
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) GetListing(ctx context.Context, itemID string) (*models.Listing, error) {
	var l models.Listing
	err := conn(ctx, r.db).Where("id = ?", itemID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find listing %s: %w", itemID, err)
	}
	return &l, nil
}

func (r *listingRepository) ReserveStock(ctx context.Context, itemID string, quantity int) error {
	result := conn(ctx, r.db).Model(&models.Listing{}).
		Where("id = ? AND stock >= ?", itemID, quantity).
		Update("stock", gorm.Expr("stock - ?", quantity))
	if result.Error != nil {
		return fmt.Errorf("reserve stock for %s: %w", itemID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *listingRepository) ReleaseStock(ctx context.Context, itemID string, quantity int) error {
	result := conn(ctx, r.db).Model(&models.Listing{}).
		Where("id = ?", itemID).
		Update("stock", gorm.Expr("stock + ?", quantity))
	if result.Error != nil {
		return fmt.Errorf("release stock for %s: %w", itemID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
