package models

import "github.com/shopspring/decimal"

// InitiateTransactionRequest is the buyer's purchase proposal.
type InitiateTransactionRequest struct {
	SellerID        string          `json:"seller_id"`
	ItemID          string          `json:"item_id"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	FulfillmentType FulfillmentType `json:"fulfillment_type"`
}

// CapturePaymentRequest carries the in-person verification code.
type CapturePaymentRequest struct {
	VerificationCode string `json:"verification_code"`
}

// CancelPaymentRequest carries the cancellation reason.
type CancelPaymentRequest struct {
	Reason string `json:"reason"`
}

// CreateSellerAccountRequest carries the seller's contact details.
type CreateSellerAccountRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}
