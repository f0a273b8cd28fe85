package models

import "time"

// AccountStatus is the onboarding state of a seller's payout account.
type AccountStatus string

const (
	AccountNotCreated          AccountStatus = "not_created"
	AccountPendingDetails      AccountStatus = "pending_details"
	AccountPendingVerification AccountStatus = "pending_verification"
	AccountComplete            AccountStatus = "complete"
)

// SellerAccount links a marketplace user to a gateway connected account.
type SellerAccount struct {
	UserID           string        `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	GatewayAccountID *string       `gorm:"uniqueIndex" json:"gateway_account_id,omitempty"`
	AccountStatus    AccountStatus `gorm:"type:varchar(30);not null;default:'not_created'" json:"account_status"`
	ChargesEnabled   bool          `gorm:"not null;default:false" json:"charges_enabled"`
	PayoutsEnabled   bool          `gorm:"not null;default:false" json:"payouts_enabled"`
	DetailsSubmitted bool          `gorm:"not null;default:false" json:"details_submitted"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// HasGatewayAccount reports whether a connected account exists.
func (a *SellerAccount) HasGatewayAccount() bool {
	return a != nil && a.GatewayAccountID != nil && *a.GatewayAccountID != ""
}
