package escrow

import "time"

const (
	DefaultCurrency = "usd"
	DefaultClaimTTL = 2 * time.Minute

	defaultCancelReason = "no reason given"
)

// System chat messages.
const (
	MsgPaymentReleased = "Payment has been released to the seller. Thanks for trading in person!"
	MsgPaymentHeld     = "Payment received and held in escrow. Meet up, check the item, then share the verification code to release it."
	msgCancelledFormat = "Payment was cancelled: %s. Any authorized funds have been released back to the buyer."
)
