package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the business progress of an escrow transaction.
type TransactionStatus string

const (
	StatusPendingSellerAcceptance TransactionStatus = "pending_seller_acceptance"
	StatusSellerAccepted          TransactionStatus = "seller_accepted"
	StatusSellerRejected          TransactionStatus = "seller_rejected"
	StatusWithdrawn               TransactionStatus = "withdrawn"
	StatusCompleted               TransactionStatus = "completed"
	StatusCancelled               TransactionStatus = "cancelled"
)

// IsTerminal reports whether no transition leaves s.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusSellerRejected, StatusWithdrawn:
		return true
	}
	return false
}

// PaymentStatus tracks the gateway side of the payment independently of
// the business status.
type PaymentStatus string

const (
	PaymentStatusNone            PaymentStatus = "none"
	PaymentStatusAwaitingPayment PaymentStatus = "awaiting_payment"
	PaymentStatusSucceeded       PaymentStatus = "succeeded"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusCancelled       PaymentStatus = "cancelled"
)

// FulfillmentType is how the goods change hands.
type FulfillmentType string

const (
	FulfillmentInPerson FulfillmentType = "inperson"
)

// Pending operations held on a transaction while a gateway call is in flight.
const (
	OperationNone    = ""
	OperationCapture = "capture"
	OperationCancel  = "cancel"
)

// Transaction is a buyer's purchase proposal and its escrowed payment.
type Transaction struct {
	ID                 string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	BuyerID            string            `gorm:"not null;index" json:"buyer_id"`
	SellerID           string            `gorm:"not null;index" json:"seller_id"`
	ItemID             string            `gorm:"not null" json:"item_id"`
	ItemName           string            `json:"item_name"`
	UnitPrice          decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Quantity           int               `gorm:"not null" json:"quantity"`
	TotalPrice         decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"total_price"`
	FulfillmentType    FulfillmentType   `gorm:"type:varchar(20);not null;default:'inperson'" json:"fulfillment_type"`
	TransactionCode    string            `gorm:"not null" json:"-"`
	Status             TransactionStatus `gorm:"type:varchar(40);not null;index" json:"status"`
	PaymentStatus      PaymentStatus     `gorm:"type:varchar(20);not null;default:'none'" json:"payment_status"`
	PaymentIntentID    *string           `gorm:"uniqueIndex" json:"payment_intent_id,omitempty"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
	PendingOperation   string            `gorm:"type:varchar(20);not null;default:''" json:"-"`
	PendingOperationAt *time.Time        `json:"-"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// HasPaymentIntent reports whether a gateway intent has been attached.
func (t *Transaction) HasPaymentIntent() bool {
	return t.PaymentIntentID != nil && *t.PaymentIntentID != ""
}

// IsParticipant reports whether userID is the buyer or the seller.
func (t *Transaction) IsParticipant(userID string) bool {
	return userID != "" && (userID == t.BuyerID || userID == t.SellerID)
}

// TransactionView is the API shape of a transaction. VerificationCode is
// only set for the buyer, who reads it out to the seller at pickup.
type TransactionView struct {
	*Transaction
	VerificationCode string `json:"verification_code,omitempty"`
}

// ViewFor renders t for callerID.
func (t *Transaction) ViewFor(callerID string) TransactionView {
	v := TransactionView{Transaction: t}
	if callerID != "" && callerID == t.BuyerID {
		v.VerificationCode = t.TransactionCode
	}
	return v
}
