package domain

const dateLayout = "2006-01-02"

// EvalContext holds the state shared by every entry of one transaction.
type EvalContext struct {
	transaction map[string]any
	accounts    map[string]map[string]any
}

// NewEvalContext builds the transaction variables and one set of account variables per account.
func NewEvalContext(tx *Transaction, accounts []Account) *EvalContext {
	c := &EvalContext{
		transaction: transactionVars(tx),
		accounts:    make(map[string]map[string]any, len(accounts)),
	}
	for i := range accounts {
		c.accounts[accounts[i].ID] = accountVars(&accounts[i])
	}
	return c
}

// ContextForEntry returns the variables visible while evaluating the entry.
// Accounts not seen at construction are added on first use.
func (c *EvalContext) ContextForEntry(entry *Entry) EntryContext {
	account, ok := c.accounts[entry.AccountID]
	if !ok {
		account = accountVars(&Account{ID: entry.AccountID})
		c.accounts[entry.AccountID] = account
	}

	return EntryContext{vars: map[string]any{
		"transaction": c.transaction,
		"account":     account,
		"entry":       entryVars(entry),
	}}
}

// EntryContext is the per-entry view of an EvalContext.
type EntryContext struct {
	vars map[string]any
}

// Vars returns the activation passed to policy expressions.
func (c EntryContext) Vars() map[string]any {
	return c.vars
}

// Lookup returns a top-level variable.
func (c EntryContext) Lookup(name string) (any, bool) {
	v, ok := c.vars[name]
	return v, ok
}

func transactionVars(tx *Transaction) map[string]any {
	if tx == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":             tx.ID,
		"journal_id":     tx.JournalID,
		"correlation_id": tx.CorrelationID,
		"external_id":    tx.ExternalID,
		"description":    tx.Description,
		"effective":      tx.EffectiveDate.UTC().Format(dateLayout),
		"created_at":     tx.CreatedAt.UTC(),
		"metadata":       metadataVars(tx.Metadata),
	}
}

func accountVars(a *Account) map[string]any {
	return map[string]any{
		"id":                  a.ID,
		"code":                a.Code,
		"name":                a.Name,
		"external_id":         a.ExternalID,
		"normal_balance_type": string(a.NormalBalanceType),
		"metadata":            metadataVars(a.Metadata),
	}
}

// entryVars exposes units twice: "units" is the exact decimal string (parse it for amounts),
// "units_value" is a double for numeric comparisons such as entry.units_value > 100.
func entryVars(e *Entry) map[string]any {
	return map[string]any{
		"id":             e.ID,
		"transaction_id": e.TransactionID,
		"journal_id":     e.JournalID,
		"account_id":     e.AccountID,
		"entry_type":     e.EntryType,
		"sequence":       int64(e.Sequence),
		"layer":          string(e.Layer),
		"direction":      string(e.Direction),
		"currency":       e.Currency,
		"units":          e.Units.String(),
		"units_value":    e.Units.InexactFloat64(),
		"description":    e.Description,
		"metadata":       metadataVars(e.Metadata),
	}
}

func metadataVars(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

