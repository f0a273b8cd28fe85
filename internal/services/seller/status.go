package seller

import "bazaar/internal/models"

// DeriveAccountStatus is the single rule mapping a connected account's
// onboarding flags to our status. Status polls and account webhooks both
// go through it.
func DeriveAccountStatus(detailsSubmitted, chargesEnabled bool) models.AccountStatus {
	switch {
	case !detailsSubmitted:
		return models.AccountPendingDetails
	case !chargesEnabled:
		return models.AccountPendingVerification
	default:
		return models.AccountComplete
	}
}
