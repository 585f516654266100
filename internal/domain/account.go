package domain

// Account holds the resolved values of a ledger account that carries velocity controls.
type Account struct {
	Metadata          map[string]any
	ID                string
	Code              string
	Name              string
	ExternalID        string
	NormalBalanceType Direction
}

// AccountControls pairs an account with the ordered velocity controls attached to it.
type AccountControls struct {
	Account  Account
	Controls []VelocityControl
}
