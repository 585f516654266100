package dto

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/goledger-velocity/internal/domain"
	"github.com/iho/goledger-velocity/internal/policy"
	"github.com/iho/goledger-velocity/internal/usecase"
)

// ErrInvalidRequest is returned when a request body is structurally invalid.
var ErrInvalidRequest = errors.New("invalid request")

const dateLayout = "2006-01-02"

// SubmitOperationRequest carries the already-resolved values of a ledger operation:
// its transaction, its entries and the controlled accounts they post to.
type SubmitOperationRequest struct {
	CreatedAt   *time.Time         `json:"created_at,omitempty"`
	Transaction TransactionRequest `json:"transaction"`
	Entries     []EntryRequest     `json:"entries"`
	Accounts    []AccountRequest   `json:"accounts"`
}

// TransactionRequest represents the transaction of an operation.
type TransactionRequest struct {
	ID            string         `json:"id"`
	JournalID     string         `json:"journal_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ExternalID    string         `json:"external_id,omitempty"`
	Description   string         `json:"description,omitempty"`
	EffectiveDate string         `json:"effective_date"`
	CreatedAt     *time.Time     `json:"created_at,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// EntryRequest represents one ledger entry.
type EntryRequest struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	EntryType   string          `json:"entry_type,omitempty"`
	Currency    string          `json:"currency"`
	Layer       string          `json:"layer,omitempty"`
	Direction   string          `json:"direction"`
	Units       decimal.Decimal `json:"units"`
	Sequence    int             `json:"sequence,omitempty"`
	Description string          `json:"description,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// AccountRequest represents an account and the velocity controls attached to it.
type AccountRequest struct {
	ID                string           `json:"id"`
	Code              string           `json:"code,omitempty"`
	Name              string           `json:"name,omitempty"`
	ExternalID        string           `json:"external_id,omitempty"`
	NormalBalanceType string           `json:"normal_balance_type,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	Controls          []ControlRequest `json:"controls"`
}

// ControlRequest represents a velocity control.
type ControlRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Condition string         `json:"condition,omitempty"`
	Limits    []LimitRequest `json:"limits"`
}

// LimitRequest represents a velocity limit.
type LimitRequest struct {
	ID              string                `json:"id"`
	Name            string                `json:"name,omitempty"`
	Currency        string                `json:"currency,omitempty"`
	Condition       string                `json:"condition,omitempty"`
	TimestampSource string                `json:"timestamp_source,omitempty"`
	Window          []PartitionKeyRequest `json:"window,omitempty"`
	Balance         []BalanceLimitRequest `json:"balance"`
}

// PartitionKeyRequest represents one window partition of a limit.
type PartitionKeyRequest struct {
	Alias string `json:"alias"`
	Value string `json:"value"`
}

// BalanceLimitRequest represents one threshold of a limit.
type BalanceLimitRequest struct {
	Layer     string `json:"layer,omitempty"`
	Direction string `json:"direction,omitempty"`
	Amount    string `json:"amount"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
}

// ToUseCaseInput validates the request and compiles its controls.
func (r *SubmitOperationRequest) ToUseCaseInput() (usecase.UpdateBalancesInput, error) {
	tx, err := r.Transaction.toDomain()
	if err != nil {
		return usecase.UpdateBalancesInput{}, err
	}

	entries := make([]*domain.Entry, 0, len(r.Entries))
	for i, e := range r.Entries {
		entry, err := e.toDomain(tx, i)
		if err != nil {
			return usecase.UpdateBalancesInput{}, err
		}
		entries = append(entries, entry)
	}

	controls := make(map[string]domain.AccountControls, len(r.Accounts))
	for _, a := range r.Accounts {
		if a.ID == "" {
			return usecase.UpdateBalancesInput{}, fmt.Errorf("%w: account id is required", ErrInvalidRequest)
		}
		if _, dup := controls[a.ID]; dup {
			return usecase.UpdateBalancesInput{}, fmt.Errorf("%w: account %s listed twice", ErrInvalidRequest, a.ID)
		}
		ac, err := a.toDomain()
		if err != nil {
			return usecase.UpdateBalancesInput{}, err
		}
		controls[a.ID] = ac
	}

	input := usecase.UpdateBalancesInput{
		Transaction: tx,
		Entries:     entries,
		Controls:    controls,
	}
	if r.CreatedAt != nil {
		input.CreatedAt = r.CreatedAt.UTC()
	}

	return input, nil
}

func (r TransactionRequest) toDomain() (*domain.Transaction, error) {
	if r.ID == "" || r.JournalID == "" {
		return nil, fmt.Errorf("%w: transaction id and journal_id are required", ErrInvalidRequest)
	}

	effective, err := time.Parse(dateLayout, r.EffectiveDate)
	if err != nil {
		return nil, fmt.Errorf("%w: effective_date must be YYYY-MM-DD", ErrInvalidRequest)
	}

	tx := &domain.Transaction{
		ID:            r.ID,
		JournalID:     r.JournalID,
		CorrelationID: r.CorrelationID,
		ExternalID:    r.ExternalID,
		Description:   r.Description,
		EffectiveDate: effective,
		Metadata:      r.Metadata,
	}
	if r.CreatedAt != nil {
		tx.CreatedAt = r.CreatedAt.UTC()
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return tx, nil
}

func (r EntryRequest) toDomain(tx *domain.Transaction, index int) (*domain.Entry, error) {
	if r.ID == "" || r.AccountID == "" || r.Currency == "" {
		return nil, fmt.Errorf("%w: entry %d requires id, account_id and currency", ErrInvalidRequest, index)
	}
	direction, err := parseDirection(r.Direction, "")
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", r.ID, err)
	}
	layer, err := parseLayer(r.Layer)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", r.ID, err)
	}

	sequence := r.Sequence
	if sequence == 0 {
		sequence = index + 1
	}

	entry := &domain.Entry{
		ID:            r.ID,
		TransactionID: tx.ID,
		JournalID:     tx.JournalID,
		AccountID:     r.AccountID,
		EntryType:     r.EntryType,
		Currency:      r.Currency,
		Description:   r.Description,
		Layer:         layer,
		Direction:     direction,
		Units:         r.Units,
		Sequence:      sequence,
		Metadata:      r.Metadata,
	}
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return entry, nil
}

func (r AccountRequest) toDomain() (domain.AccountControls, error) {
	normal, err := parseDirection(r.NormalBalanceType, domain.DirectionDebit)
	if err != nil {
		return domain.AccountControls{}, fmt.Errorf("account %s: %w", r.ID, err)
	}

	ac := domain.AccountControls{
		Account: domain.Account{
			ID:                r.ID,
			Code:              r.Code,
			Name:              r.Name,
			ExternalID:        r.ExternalID,
			NormalBalanceType: normal,
			Metadata:          r.Metadata,
		},
	}

	for _, c := range r.Controls {
		spec, err := c.toSpec()
		if err != nil {
			return domain.AccountControls{}, fmt.Errorf("account %s: %w", r.ID, err)
		}
		control, err := policy.NewControl(spec)
		if err != nil {
			return domain.AccountControls{}, fmt.Errorf("account %s: %w", r.ID, err)
		}
		ac.Controls = append(ac.Controls, control)
	}

	return ac, nil
}

func (r ControlRequest) toSpec() (policy.ControlSpec, error) {
	spec := policy.ControlSpec{
		ID:        r.ID,
		Name:      r.Name,
		Condition: r.Condition,
	}

	for _, l := range r.Limits {
		ls := policy.LimitSpec{
			ID:              l.ID,
			Name:            l.Name,
			Currency:        l.Currency,
			Condition:       l.Condition,
			TimestampSource: l.TimestampSource,
		}
		for _, w := range l.Window {
			ls.Window = append(ls.Window, policy.PartitionKey{Alias: w.Alias, Value: w.Value})
		}
		for _, b := range l.Balance {
			layer, err := parseLayer(b.Layer)
			if err != nil {
				return policy.ControlSpec{}, fmt.Errorf("limit %s: %w", l.ID, err)
			}
			direction, err := parseDirection(b.Direction, domain.DirectionDebit)
			if err != nil {
				return policy.ControlSpec{}, fmt.Errorf("limit %s: %w", l.ID, err)
			}
			ls.Balance = append(ls.Balance, policy.BalanceLimitSpec{
				Layer:     layer,
				Direction: direction,
				Amount:    b.Amount,
				Start:     b.Start,
				End:       b.End,
			})
		}
		spec.Limits = append(spec.Limits, ls)
	}

	return spec, nil
}

func parseDirection(s string, fallback domain.Direction) (domain.Direction, error) {
	switch domain.Direction(s) {
	case domain.DirectionDebit, domain.DirectionCredit:
		return domain.Direction(s), nil
	case "":
		if fallback != "" {
			return fallback, nil
		}
	}
	return "", fmt.Errorf("%w: direction must be debit or credit, got %q", ErrInvalidRequest, s)
}

func parseLayer(s string) (domain.Layer, error) {
	switch domain.Layer(s) {
	case "":
		return domain.LayerSettled, nil
	case domain.LayerSettled, domain.LayerPending, domain.LayerEncumbrance:
		return domain.Layer(s), nil
	}
	return "", fmt.Errorf("%w: unknown layer %q", ErrInvalidRequest, s)
}
