package validation

import (
	"bazaar/internal/models"

	"github.com/shopspring/decimal"
)

// InitiateTransaction validates a buyer's purchase proposal.
func (v *Validator) InitiateTransaction(req *models.InitiateTransactionRequest) {
	v.Required("seller_id", req.SellerID)
	v.MaxLength("seller_id", req.SellerID, MaxIDLength)
	v.Required("item_id", req.ItemID)
	v.MaxLength("item_id", req.ItemID, MaxIDLength)

	v.Check(req.Quantity >= MinQuantity, "quantity", "must be greater than zero")
	v.Check(req.Quantity <= MaxQuantity, "quantity", "exceeds the maximum per transaction")

	v.Check(req.UnitPrice.GreaterThan(decimal.Zero), "unit_price", "must be greater than zero")
	v.Check(req.UnitPrice.LessThanOrEqual(decimal.NewFromFloat(MaxUnitPrice)), "unit_price", "exceeds the maximum price")
	v.Check(req.UnitPrice.Equal(req.UnitPrice.Round(2)), "unit_price", "must have at most two decimal places")

	v.Check(req.FulfillmentType == "" || req.FulfillmentType == models.FulfillmentInPerson,
		"fulfillment_type", "must be inperson")
}

// CapturePayment validates a release request.
func (v *Validator) CapturePayment(req *models.CapturePaymentRequest) {
	v.Required("verification_code", req.VerificationCode)
	v.MaxLength("verification_code", req.VerificationCode, 32)
}

// CancelPayment validates a cancellation request. The reason is optional.
func (v *Validator) CancelPayment(req *models.CancelPaymentRequest) {
	v.MaxLength("reason", req.Reason, MaxReasonLength)
}

// SellerAccount validates a connected-account creation request.
func (v *Validator) SellerAccount(req *models.CreateSellerAccountRequest) {
	v.Required("email", req.Email)
	if req.Email != "" {
		v.Email("email", req.Email)
	}
	v.MaxLength("display_name", req.DisplayName, MaxDisplayNameLength)
}
