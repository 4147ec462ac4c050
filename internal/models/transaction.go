package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a bank transaction fetched from the provider.
// (account_id, external_id) is unique; re-syncing the same transaction
// overwrites the mutable fields instead of creating a duplicate.
type Transaction struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	ExternalID  string          `json:"external_id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Raw         json.RawMessage `json:"raw,omitempty"` // Original provider payload for audit
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
