package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banklink-dev/banklink/internal/models"
)

// CreateCredential creates a new bank credential for a user
func (r *Repository) CreateCredential(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO bank_credentials (user_id, provider, external_id, access_token, refresh_token, scopes, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		cred.UserID, cred.Provider, cred.ExternalID, cred.AccessToken, cred.RefreshToken, cred.Scopes, cred.ExpiresAt).
		Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// FindCredentialByID retrieves a credential by id
func (r *Repository) FindCredentialByID(ctx context.Context, id int64) (*models.Credential, error) {
	cred := &models.Credential{}
	query := `
		SELECT id, user_id, provider, external_id, access_token, refresh_token, scopes, expires_at, needs_relink, created_at, updated_at
		FROM bank_credentials
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&cred.ID, &cred.UserID, &cred.Provider, &cred.ExternalID,
		&cred.AccessToken, &cred.RefreshToken, &cred.Scopes, &cred.ExpiresAt,
		&cred.NeedsRelink, &cred.CreatedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("credential not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	return cred, nil
}

// ListCredentialsByUser retrieves all credentials belonging to a user
func (r *Repository) ListCredentialsByUser(ctx context.Context, userID int64) ([]*models.Credential, error) {
	query := `
		SELECT id, user_id, provider, external_id, access_token, refresh_token, scopes, expires_at, needs_relink, created_at, updated_at
		FROM bank_credentials
		WHERE user_id = $1
		ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred := &models.Credential{}
		if err := rows.Scan(
			&cred.ID, &cred.UserID, &cred.Provider, &cred.ExternalID,
			&cred.AccessToken, &cred.RefreshToken, &cred.Scopes, &cred.ExpiresAt,
			&cred.NeedsRelink, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// DeleteCredential removes a credential owned by a user. Accounts and
// transactions cascade at the schema level.
func (r *Repository) DeleteCredential(ctx context.Context, id, userID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bank_credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("credential not found")
	}
	return nil
}

// MarkCredentialNeedsRelink flags a credential whose tokens the provider
// rejected, so the user can be prompted to connect again.
func (r *Repository) MarkCredentialNeedsRelink(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bank_credentials SET needs_relink = TRUE, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark credential for re-link: %w", err)
	}
	return nil
}

// UpdateCredentialTokens stores fresh (already encrypted) tokens after a
// token refresh or re-link and clears the needs_relink flag.
func (r *Repository) UpdateCredentialTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bank_credentials
		SET access_token = $2, refresh_token = $3, expires_at = $4, needs_relink = FALSE, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update credential tokens: %w", err)
	}
	return nil
}
