package dto

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/iho/goledger-velocity/internal/domain"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// OperationResponse is returned when an operation passes every velocity limit.
type OperationResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Entries       int    `json:"entries"`
}

// LimitExceededResponse details the bucket and totals of a velocity breach.
type LimitExceededResponse struct {
	AccountID string          `json:"account_id"`
	JournalID string          `json:"journal_id"`
	Currency  string          `json:"currency"`
	ControlID string          `json:"control_id"`
	LimitID   string          `json:"limit_id"`
	Window    json.RawMessage `json:"window"`
	EntryID   string          `json:"entry_id"`
	Layer     string          `json:"layer"`
	Direction string          `json:"direction"`
	Limit     decimal.Decimal `json:"limit"`
	Requested decimal.Decimal `json:"requested"`
}

// LimitExceededFromDomain converts a breach to its response.
func LimitExceededFromDomain(e *domain.LimitExceededError) *LimitExceededResponse {
	return &LimitExceededResponse{
		AccountID: e.Key.AccountID,
		JournalID: e.Key.JournalID,
		Currency:  e.Key.Currency,
		ControlID: e.Key.ControlID,
		LimitID:   e.Key.LimitID,
		Window:    json.RawMessage(e.Key.Window),
		EntryID:   e.EntryID,
		Layer:     string(e.Layer),
		Direction: string(e.Direction),
		Limit:     e.Limit,
		Requested: e.Requested,
	}
}
