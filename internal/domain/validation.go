package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrAmountTooLarge   = errors.New("amount exceeds maximum allowed")
	ErrMetadataTooLarge = errors.New("metadata size exceeds limit")
	ErrInvalidIDFormat  = errors.New("invalid ID format")
)

// Validation constants
const (
	MaxIDLength     = 128
	MaxMetadataSize = 10240              // 10KB
	MaxEntryUnits   = "1000000000000000" // 1 quadrillion
)

// ISO 4217 style codes plus longer ticker-like codes for non-fiat units.
var currencyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{2,9}$`)

var maxEntryUnits = decimal.RequireFromString(MaxEntryUnits)

// ValidateID validates an externally supplied identifier
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidIDFormat)
	}

	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidIDFormat, MaxIDLength)
	}

	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidIDFormat, id)
	}

	return nil
}

// ValidateCurrency validates currency code. Codes are case sensitive since they
// become part of velocity bucket keys.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}

	return nil
}

// ValidateAmount validates entry units
func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	if amount.GreaterThan(maxEntryUnits) {
		return fmt.Errorf("%w: maximum amount is %s", ErrAmountTooLarge, MaxEntryUnits)
	}

	return nil
}

// ValidateMetadata validates metadata size
func ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMetadataTooLarge, err)
	}

	if len(raw) > MaxMetadataSize {
		return fmt.Errorf("%w: metadata size %d bytes exceeds limit of %d bytes", ErrMetadataTooLarge, len(raw), MaxMetadataSize)
	}

	return nil
}

// Validate checks the fields an entry contributes to velocity buckets.
func (e *Entry) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	if err := ValidateID(e.AccountID); err != nil {
		return fmt.Errorf("entry %s account: %w", e.ID, err)
	}
	if err := ValidateCurrency(e.Currency); err != nil {
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if err := ValidateAmount(e.Units); err != nil {
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return ValidateMetadata(e.Metadata)
}

// Validate checks the transaction identity and metadata.
func (t *Transaction) Validate() error {
	if err := ValidateID(t.ID); err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	if err := ValidateID(t.JournalID); err != nil {
		return fmt.Errorf("transaction %s journal: %w", t.ID, err)
	}
	return ValidateMetadata(t.Metadata)
}
