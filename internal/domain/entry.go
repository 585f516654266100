package domain

import (
	"github.com/shopspring/decimal"
)

// Direction is the side of the ledger an entry posts to.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Layer is the balance layer an entry affects.
type Layer string

const (
	LayerSettled     Layer = "settled"
	LayerPending     Layer = "pending"
	LayerEncumbrance Layer = "encumbrance"
)

// Entry represents a single ledger entry (debit or credit) produced by the posting engine.
// Entries are read-only while velocity controls are evaluated.
type Entry struct {
	Metadata      map[string]any
	ID            string
	TransactionID string
	JournalID     string
	AccountID     string
	EntryType     string
	Currency      string
	Description   string
	Layer         Layer
	Direction     Direction
	Units         decimal.Decimal
	Sequence      int
}
