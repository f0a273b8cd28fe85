package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing is the catalog's view of an item for sale. The escrow core only
// reads the price and adjusts stock.
type Listing struct {
	ID        string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SellerID  string          `gorm:"not null;index" json:"seller_id"`
	Name      string          `gorm:"not null" json:"name"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Stock     int             `gorm:"not null;default:0" json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
