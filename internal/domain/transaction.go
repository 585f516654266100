package domain

import "time"

// Transaction carries the transaction-level values visible to velocity predicates.
type Transaction struct {
	EffectiveDate time.Time
	CreatedAt     time.Time
	Metadata      map[string]any
	ID            string
	JournalID     string
	CorrelationID string
	ExternalID    string
	Description   string
}
