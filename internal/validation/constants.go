package validation

const (
	// Quantity limits per proposal
	MinQuantity = 1
	MaxQuantity = 1000

	// Price ceiling, in major currency units
	MaxUnitPrice = 100000.00

	// String lengths
	MaxReasonLength      = 500
	MaxDisplayNameLength = 100
	MaxIDLength          = 64
)
