package bank

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountRecord is the gateway's output contract for a provider account.
// It decouples the provider JSON shape from the upsert logic.
type AccountRecord struct {
	ExternalID string
	Name       string
	Currency   string
}

// TransactionRecord is the gateway's output contract for a provider
// transaction. Raw keeps the original provider object for audit.
type TransactionRecord struct {
	ExternalID  string
	Date        time.Time
	Amount      decimal.Decimal
	Currency    string
	Description string
	Raw         json.RawMessage
}

type accountPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type transactionPayload struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

const dateLayout = "2006-01-02"

// ParseAccountRecord decodes one provider account object.
func ParseAccountRecord(raw json.RawMessage) (AccountRecord, error) {
	var p accountPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return AccountRecord{}, fmt.Errorf("failed to decode account: %w", err)
	}
	if p.ID == "" {
		return AccountRecord{}, fmt.Errorf("account is missing an id")
	}
	return AccountRecord{
		ExternalID: p.ID,
		Name:       p.Name,
		Currency:   p.Currency,
	}, nil
}

// ParseTransactionRecord decodes one provider transaction object. The webhook
// ingestor uses the same decoder so pushed and polled transactions go through
// an identical shape.
func ParseTransactionRecord(raw json.RawMessage) (TransactionRecord, error) {
	var p transactionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TransactionRecord{}, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if p.ID == "" {
		return TransactionRecord{}, fmt.Errorf("transaction is missing an id")
	}
	date, err := time.Parse(dateLayout, p.Date)
	if err != nil {
		return TransactionRecord{}, fmt.Errorf("failed to parse date %q: %w", p.Date, err)
	}
	return TransactionRecord{
		ExternalID:  p.ID,
		Date:        date,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: p.Description,
		Raw:         raw,
	}, nil
}
