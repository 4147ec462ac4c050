package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banklink-dev/banklink/internal/integrations/bank"
	"github.com/banklink-dev/banklink/internal/models"
)

// ReconcileTransactions applies a batch of fetched transaction records to one
// account inside a single database transaction. A per-account advisory lock
// serializes concurrent reconciliations (poll sync vs webhook delivery) so the
// upsert sequence and the last_synced_at advance cannot interleave. The batch
// is all-or-nothing: any failure rolls the whole account batch back.
//
// syncedAt, when non-nil, advances last_synced_at; the GREATEST guard keeps it
// monotonically non-decreasing. Webhook deliveries pass nil because a single
// pushed event is not evidence of a complete fetch window.
func (r *Repository) ReconcileTransactions(ctx context.Context, accountID int64, records []bank.TransactionRecord, syncedAt *time.Time) (created, updated int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Held until commit; the provider fetch has already completed, so no
	// network wait happens under this lock.
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, accountID); err != nil {
		return 0, 0, fmt.Errorf("failed to acquire account lock: %w", err)
	}

	for _, rec := range records {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM bank_transactions WHERE account_id = $1 AND external_id = $2)`,
			accountID, rec.ExternalID).Scan(&exists)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to check transaction %s: %w", rec.ExternalID, err)
		}

		// Mutable fields are only rewritten when the incoming value
		// differs, so an identical re-sync touches nothing.
		query := `
			INSERT INTO bank_transactions (account_id, external_id, date, amount, currency, description, raw, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT (account_id, external_id) DO UPDATE
			SET amount = EXCLUDED.amount,
			    description = EXCLUDED.description,
			    raw = EXCLUDED.raw,
			    updated_at = CURRENT_TIMESTAMP
			WHERE (bank_transactions.amount, bank_transactions.description, bank_transactions.raw)
			      IS DISTINCT FROM (EXCLUDED.amount, EXCLUDED.description, EXCLUDED.raw)`
		var res sql.Result
		res, err = tx.ExecContext(ctx, query,
			accountID, rec.ExternalID, rec.Date, rec.Amount, rec.Currency, rec.Description, []byte(rec.Raw))
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert transaction %s: %w", rec.ExternalID, err)
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			err = fmt.Errorf("failed to upsert transaction %s: %w", rec.ExternalID, raErr)
			return 0, 0, err
		}
		if !exists {
			created++
		} else if affected > 0 {
			updated++
		}
	}

	if syncedAt != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE bank_accounts
			SET last_synced_at = GREATEST(COALESCE(last_synced_at, 'epoch'::timestamptz), $2)
			WHERE id = $1`, accountID, *syncedAt)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to advance last_synced_at: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return created, updated, nil
}

const transactionColumns = `id, account_id, external_id, date, amount, currency, description, raw, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	t := &models.Transaction{}
	var raw []byte
	err := row.Scan(
		&t.ID, &t.AccountID, &t.ExternalID, &t.Date, &t.Amount,
		&t.Currency, &t.Description, &raw, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Raw = raw
	return t, nil
}

// ListTransactionsByAccount retrieves transactions for one account, newest
// first.
func (r *Repository) ListTransactionsByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM bank_transactions
		WHERE account_id = $1
		ORDER BY date DESC, id DESC
		LIMIT $2 OFFSET $3`
	return r.listTransactions(ctx, query, accountID, limit, offset)
}

// ListTransactionsByUser retrieves transactions across all of a user's
// accounts, newest first.
func (r *Repository) ListTransactionsByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	query := `
		SELECT t.id, t.account_id, t.external_id, t.date, t.amount, t.currency, t.description, t.raw, t.created_at, t.updated_at
		FROM bank_transactions t
		JOIN bank_accounts a ON a.id = t.account_id
		JOIN bank_credentials c ON c.id = a.credential_id
		WHERE c.user_id = $1
		ORDER BY t.date DESC, t.id DESC
		LIMIT $2 OFFSET $3`
	return r.listTransactions(ctx, query, userID, limit, offset)
}

func (r *Repository) listTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}
