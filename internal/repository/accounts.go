package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banklink-dev/banklink/internal/models"
)

const accountColumns = `id, credential_id, external_id, name, currency, last_synced_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	acct := &models.Account{}
	var lastSynced sql.NullTime
	err := row.Scan(
		&acct.ID, &acct.CredentialID, &acct.ExternalID, &acct.Name,
		&acct.Currency, &lastSynced, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		acct.LastSyncedAt = &t
	}
	return acct, nil
}

// UpsertAccount inserts or updates an account keyed on
// (credential_id, external_id) and reports whether a new row was created.
// Accounts absent from a provider response are never deleted here.
func (r *Repository) UpsertAccount(ctx context.Context, acct *models.Account) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bank_accounts WHERE credential_id = $1 AND external_id = $2)`,
		acct.CredentialID, acct.ExternalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}

	query := `
		INSERT INTO bank_accounts (credential_id, external_id, name, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (credential_id, external_id) DO UPDATE
		SET name = EXCLUDED.name,
		    currency = EXCLUDED.currency,
		    updated_at = CASE
		        WHEN (bank_accounts.name, bank_accounts.currency) IS DISTINCT FROM (EXCLUDED.name, EXCLUDED.currency)
		        THEN CURRENT_TIMESTAMP
		        ELSE bank_accounts.updated_at
		    END
		RETURNING ` + accountColumns
	updated, err := scanAccount(r.db.QueryRowContext(ctx, query,
		acct.CredentialID, acct.ExternalID, acct.Name, acct.Currency))
	if err != nil {
		return false, fmt.Errorf("failed to upsert account: %w", err)
	}
	*acct = *updated
	return !exists, nil
}

// FindAccountByID retrieves an account by id
func (r *Repository) FindAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM bank_accounts WHERE id = $1`
	acct, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acct, nil
}

// FindAccountByExternalID retrieves an account by its provider identifier.
// Used by the webhook ingestor, which only knows provider ids.
func (r *Repository) FindAccountByExternalID(ctx context.Context, externalID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM bank_accounts WHERE external_id = $1`
	acct, err := scanAccount(r.db.QueryRowContext(ctx, query, externalID))
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acct, nil
}

// ListAccountsByCredential retrieves all accounts under one credential
func (r *Repository) ListAccountsByCredential(ctx context.Context, credentialID int64) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM bank_accounts WHERE credential_id = $1 ORDER BY id`
	return r.listAccounts(ctx, query, credentialID)
}

// ListAccountsByUser retrieves all accounts across a user's credentials
func (r *Repository) ListAccountsByUser(ctx context.Context, userID int64) ([]*models.Account, error) {
	query := `
		SELECT a.id, a.credential_id, a.external_id, a.name, a.currency, a.last_synced_at, a.created_at, a.updated_at
		FROM bank_accounts a
		JOIN bank_credentials c ON c.id = a.credential_id
		WHERE c.user_id = $1
		ORDER BY a.id`
	return r.listAccounts(ctx, query, userID)
}

func (r *Repository) listAccounts(ctx context.Context, query string, arg any) ([]*models.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// ListStaleAccountIDs returns accounts that have never been synced or whose
// last sync is older than the given age. The background refresher feeds
// these into the sync queue.
func (r *Repository) ListStaleAccountIDs(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM bank_accounts
		WHERE last_synced_at IS NULL OR last_synced_at < $1
		ORDER BY last_synced_at NULLS FIRST`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale accounts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
