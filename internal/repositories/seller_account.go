package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bazaar/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountSnapshot is the derived onboarding state written back for a
// seller account.
type AccountSnapshot struct {
	Status           models.AccountStatus
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
}

// SellerAccountRepository persists the link between users and gateway
// connected accounts.
type SellerAccountRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.SellerAccount, error)
	FindByGatewayAccountID(ctx context.Context, accountID string) (*models.SellerAccount, error)

	// AttachGatewayAccount records accountID for userID, creating the row
	// if needed. It returns ErrStaleWrite if a different account is
	// already attached.
	AttachGatewayAccount(ctx context.Context, userID, accountID string, status models.AccountStatus) error
	UpdateStatus(ctx context.Context, userID string, snapshot AccountSnapshot) error
	ListWithGatewayAccount(ctx context.Context) ([]models.SellerAccount, error)
}

type sellerAccountRepository struct {
	db *gorm.DB
}

// NewSellerAccountRepository returns a gorm-backed SellerAccountRepository.
func NewSellerAccountRepository(db *gorm.DB) SellerAccountRepository {
	return &sellerAccountRepository{db: db}
}

func (r *sellerAccountRepository) FindByUserID(ctx context.Context, userID string) (*models.SellerAccount, error) {
	return r.findOne(ctx, "user_id = ?", userID)
}

func (r *sellerAccountRepository) FindByGatewayAccountID(ctx context.Context, accountID string) (*models.SellerAccount, error) {
	return r.findOne(ctx, "gateway_account_id = ?", accountID)
}

func (r *sellerAccountRepository) findOne(ctx context.Context, query string, arg interface{}) (*models.SellerAccount, error) {
	var acct models.SellerAccount
	err := conn(ctx, r.db).Where(query, arg).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find seller account: %w", err)
	}
	return &acct, nil
}

func (r *sellerAccountRepository) AttachGatewayAccount(ctx context.Context, userID, accountID string, status models.AccountStatus) error {
	db := conn(ctx, r.db)

	row := models.SellerAccount{UserID: userID, AccountStatus: models.AccountNotCreated}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("ensure seller account: %w", err)
	}

	result := db.Model(&models.SellerAccount{}).
		Where("user_id = ? AND (gateway_account_id IS NULL OR gateway_account_id = ?)", userID, accountID).
		Updates(map[string]interface{}{
			"gateway_account_id": accountID,
			"account_status":     status,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("attach gateway account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *sellerAccountRepository) UpdateStatus(ctx context.Context, userID string, s AccountSnapshot) error {
	result := conn(ctx, r.db).Model(&models.SellerAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"account_status":    s.Status,
			"details_submitted": s.DetailsSubmitted,
			"charges_enabled":   s.ChargesEnabled,
			"payouts_enabled":   s.PayoutsEnabled,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update seller account status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sellerAccountRepository) ListWithGatewayAccount(ctx context.Context) ([]models.SellerAccount, error) {
	var accounts []models.SellerAccount
	err := conn(ctx, r.db).
		Where("gateway_account_id IS NOT NULL").
		Order("user_id").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list seller accounts: %w", err)
	}
	return accounts, nil
}
