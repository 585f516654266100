package dto

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/goledger-velocity/internal/domain"
	"github.com/iho/goledger-velocity/internal/policy"
)

const operationJSON = `{
	"transaction": {"id": "tx-1", "journal_id": "journal-1", "effective_date": "2024-03-15"},
	"entries": [
		{"id": "e1", "account_id": "acc-1", "currency": "USD", "direction": "debit", "units": "700"},
		{"id": "e2", "account_id": "acc-2", "currency": "USD", "direction": "credit", "units": "700", "layer": "pending"}
	],
	"accounts": [{
		"id": "acc-1",
		"code": "CASH",
		"controls": [{
			"id": "ctrl-1",
			"limits": [{
				"id": "lim-daily",
				"currency": "USD",
				"window": [{"alias": "day", "value": "transaction.effective"}],
				"balance": [{"amount": "1000"}]
			}]
		}]
	}]
}`

func decodeOperation(t *testing.T) SubmitOperationRequest {
	t.Helper()
	var req SubmitOperationRequest
	if err := json.Unmarshal([]byte(operationJSON), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return req
}

func TestSubmitOperationRequest_ToUseCaseInput(t *testing.T) {
	req := decodeOperation(t)

	input, err := req.ToUseCaseInput()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !input.Transaction.EffectiveDate.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected effective date %s", input.Transaction.EffectiveDate)
	}
	if len(input.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(input.Entries))
	}

	first := input.Entries[0]
	if first.JournalID != "journal-1" || first.TransactionID != "tx-1" || first.Sequence != 1 {
		t.Fatalf("expected entry to inherit transaction values, got %+v", first)
	}
	if first.Layer != domain.LayerSettled || !first.Units.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("unexpected entry values %+v", first)
	}
	if input.Entries[1].Layer != domain.LayerPending || input.Entries[1].Direction != domain.DirectionCredit {
		t.Fatalf("unexpected second entry %+v", input.Entries[1])
	}

	ac, ok := input.Controls["acc-1"]
	if !ok || len(ac.Controls) != 1 {
		t.Fatalf("expected one control for acc-1, got %+v", input.Controls)
	}
	if ac.Account.NormalBalanceType != domain.DirectionDebit {
		t.Fatalf("expected default normal balance type debit, got %s", ac.Account.NormalBalanceType)
	}
	if got := ac.Controls[0].Limits()[0].ID(); got != "lim-daily" {
		t.Fatalf("expected compiled limit lim-daily, got %s", got)
	}
}

func TestSubmitOperationRequest_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *SubmitOperationRequest)
		target error
	}{
		{"missing transaction id", func(r *SubmitOperationRequest) { r.Transaction.ID = "" }, ErrInvalidRequest},
		{"bad effective date", func(r *SubmitOperationRequest) { r.Transaction.EffectiveDate = "15/03/2024" }, ErrInvalidRequest},
		{"zero units", func(r *SubmitOperationRequest) { r.Entries[0].Units = decimal.Zero }, ErrInvalidRequest},
		{"negative units", func(r *SubmitOperationRequest) { r.Entries[0].Units = decimal.NewFromInt(-5) }, domain.ErrInvalidAmount},
		{"lowercase currency", func(r *SubmitOperationRequest) { r.Entries[0].Currency = "usd" }, domain.ErrInvalidCurrency},
		{"entry id with whitespace", func(r *SubmitOperationRequest) { r.Entries[0].ID = "e 1" }, domain.ErrInvalidIDFormat},
		{"unknown direction", func(r *SubmitOperationRequest) { r.Entries[0].Direction = "sideways" }, ErrInvalidRequest},
		{"unknown layer", func(r *SubmitOperationRequest) { r.Entries[0].Layer = "future" }, ErrInvalidRequest},
		{"duplicate account", func(r *SubmitOperationRequest) { r.Accounts = append(r.Accounts, r.Accounts[0]) }, ErrInvalidRequest},
		{"limit without balance", func(r *SubmitOperationRequest) { r.Accounts[0].Controls[0].Limits[0].Balance = nil }, policy.ErrInvalidSpec},
		{"malformed condition", func(r *SubmitOperationRequest) { r.Accounts[0].Controls[0].Condition = "entry.units >" }, domain.ErrConditionEvaluation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeOperation(t)
			tt.mutate(&req)

			_, err := req.ToUseCaseInput()
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestLimitExceededFromDomain(t *testing.T) {
	resp := LimitExceededFromDomain(&domain.LimitExceededError{
		Key: domain.VelocityBalanceKey{
			Window:    `{"day":"2024-03-15"}`,
			Currency:  "USD",
			AccountID: "acc-1",
			LimitID:   "lim-daily",
		},
		EntryID:   "e2",
		Limit:     decimal.NewFromInt(1000),
		Requested: decimal.NewFromInt(1100),
	})

	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	window, ok := decoded["window"].(map[string]any)
	if !ok || window["day"] != "2024-03-15" {
		t.Fatalf("expected window to be embedded as an object, got %v", decoded["window"])
	}
	if decoded["requested"] != "1100" {
		t.Fatalf("expected requested 1100, got %v", decoded["requested"])
	}
}
