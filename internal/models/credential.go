package models

import "time"

// Credential represents a stored link between a user and a bank provider.
// AccessToken and RefreshToken are AES-encrypted at rest; the service layer
// decrypts them before calling the provider.
type Credential struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	Provider     string     `json:"provider"`
	ExternalID   string     `json:"external_id"`
	AccessToken  string     `json:"-"` // Not serialized
	RefreshToken string     `json:"-"` // Not serialized
	Scopes       string     `json:"scopes"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	NeedsRelink  bool       `json:"needs_relink"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
