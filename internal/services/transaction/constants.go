package transaction

// CodeLength is the length of the in-person verification code.
const CodeLength = 8

// Default page size for participant listings.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// System chat messages posted on proposal decisions.
const (
	msgAccepted  = "The seller accepted this offer. The buyer can now pay; funds are held until the item is handed over."
	msgRejected  = "The seller declined this offer."
	msgWithdrawn = "The buyer withdrew this offer."
)
