package escrow

import "bazaar/internal/models"

// transitions lists every allowed status change. Terminal statuses have no
// entry.
var transitions = map[models.TransactionStatus][]models.TransactionStatus{
	models.StatusPendingSellerAcceptance: {
		models.StatusSellerAccepted,
		models.StatusSellerRejected,
		models.StatusWithdrawn,
	},
	models.StatusSellerAccepted: {
		models.StatusCompleted,
		models.StatusCancelled,
		models.StatusWithdrawn,
	},
}

// CanTransition reports whether a transaction may move from one status to
// another.
func CanTransition(from, to models.TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
