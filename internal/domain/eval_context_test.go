package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEvalContextForEntry(t *testing.T) {
	tx := &Transaction{
		ID:            "tx-1",
		JournalID:     "journal-1",
		EffectiveDate: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC),
		Metadata:      map[string]any{"channel": "card"},
	}
	accounts := []Account{{ID: "acc-1", Code: "CUST-1", Metadata: map[string]any{"tier": "gold"}}}

	ctx := NewEvalContext(tx, accounts)
	entryCtx := ctx.ContextForEntry(&Entry{ID: "e1", AccountID: "acc-1", Units: decimal.NewFromInt(5), Direction: DirectionDebit})

	txVars, ok := entryCtx.Lookup("transaction")
	if !ok {
		t.Fatalf("expected transaction variable")
	}
	if got := txVars.(map[string]any)["effective"]; got != "2026-10-17" {
		t.Fatalf("expected effective date, got %v", got)
	}

	accountVars, _ := entryCtx.Lookup("account")
	if got := accountVars.(map[string]any)["code"]; got != "CUST-1" {
		t.Fatalf("expected account code, got %v", got)
	}

	entryVars, _ := entryCtx.Lookup("entry")
	if got := entryVars.(map[string]any)["units"]; got != "5" {
		t.Fatalf("expected units as string, got %v", got)
	}
	if got := entryVars.(map[string]any)["units_value"]; got != 5.0 {
		t.Fatalf("expected numeric units, got %v", got)
	}
}

func TestEvalContextUnknownAccountIsCached(t *testing.T) {
	ctx := NewEvalContext(&Transaction{ID: "tx-1"}, nil)

	first := ctx.ContextForEntry(&Entry{AccountID: "acc-x"})
	second := ctx.ContextForEntry(&Entry{AccountID: "acc-x"})

	a1, _ := first.Lookup("account")
	a2, _ := second.Lookup("account")
	if a1.(map[string]any)["id"] != "acc-x" {
		t.Fatalf("expected lazily built account, got %v", a1)
	}
	if len(ctx.accounts) != 1 || a2.(map[string]any)["id"] != "acc-x" {
		t.Fatalf("expected account variables to be cached once")
	}
}
