package models

import "time"

// Account represents a bank account discovered through a credential.
// (credential_id, external_id) is unique; accounts are created and updated
// by the sync engine only.
type Account struct {
	ID           int64      `json:"id"`
	CredentialID int64      `json:"credential_id"`
	ExternalID   string     `json:"external_id"`
	Name         string     `json:"name"`
	Currency     string     `json:"currency"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
