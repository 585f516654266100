package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceAmount is the debit/credit accumulation of one balance layer.
type BalanceAmount struct {
	ModifiedAt time.Time
	EntryID    string
	DrBalance  decimal.Decimal
	CrBalance  decimal.Decimal
}

// Net returns the signed total in the given direction.
func (b BalanceAmount) Net(direction Direction) decimal.Decimal {
	if direction == DirectionCredit {
		return b.CrBalance.Sub(b.DrBalance)
	}
	return b.DrBalance.Sub(b.CrBalance)
}

func (b BalanceAmount) add(other BalanceAmount) BalanceAmount {
	return BalanceAmount{
		ModifiedAt: b.ModifiedAt,
		EntryID:    b.EntryID,
		DrBalance:  b.DrBalance.Add(other.DrBalance),
		CrBalance:  b.CrBalance.Add(other.CrBalance),
	}
}

func (b BalanceAmount) apply(at time.Time, entry *Entry) BalanceAmount {
	b.ModifiedAt = at
	b.EntryID = entry.ID
	if entry.Direction == DirectionCredit {
		b.CrBalance = b.CrBalance.Add(entry.Units)
	} else {
		b.DrBalance = b.DrBalance.Add(entry.Units)
	}
	return b
}

// BalanceSnapshot is one version of the rolling total of a velocity bucket.
// Snapshots are append-only: folding an entry always yields a new value.
type BalanceSnapshot struct {
	CreatedAt   time.Time
	ModifiedAt  time.Time
	JournalID   string
	AccountID   string
	Currency    string
	EntryID     string
	Settled     BalanceAmount
	Pending     BalanceAmount
	Encumbrance BalanceAmount
	Version     int32
}

// Available returns the cumulative amount visible at the given layer.
// Pending includes settled, encumbrance includes both.
func (s *BalanceSnapshot) Available(layer Layer) BalanceAmount {
	switch layer {
	case LayerPending:
		return s.Settled.add(s.Pending)
	case LayerEncumbrance:
		return s.Settled.add(s.Pending).add(s.Encumbrance)
	default:
		return s.Settled
	}
}

func (s *BalanceSnapshot) layer(layer Layer) *BalanceAmount {
	switch layer {
	case LayerPending:
		return &s.Pending
	case LayerEncumbrance:
		return &s.Encumbrance
	default:
		return &s.Settled
	}
}

// NewSnapshot seeds the first snapshot of a bucket from the entry that triggered it.
func NewSnapshot(at time.Time, accountID string, entry *Entry) *BalanceSnapshot {
	empty := BalanceAmount{
		ModifiedAt: at,
		EntryID:    entry.ID,
		DrBalance:  decimal.Zero,
		CrBalance:  decimal.Zero,
	}

	snapshot := &BalanceSnapshot{
		CreatedAt:   at,
		ModifiedAt:  at,
		JournalID:   entry.JournalID,
		AccountID:   accountID,
		Currency:    entry.Currency,
		EntryID:     entry.ID,
		Settled:     empty,
		Pending:     empty,
		Encumbrance: empty,
		Version:     1,
	}

	amount := snapshot.layer(entry.Layer)
	*amount = amount.apply(at, entry)

	return snapshot
}

// UpdateSnapshot folds the entry into prior and returns the next version.
// prior is not modified.
func UpdateSnapshot(at time.Time, prior *BalanceSnapshot, entry *Entry) *BalanceSnapshot {
	next := *prior
	next.Version = prior.Version + 1
	next.ModifiedAt = at
	next.EntryID = entry.ID

	amount := next.layer(entry.Layer)
	*amount = amount.apply(at, entry)

	return &next
}
