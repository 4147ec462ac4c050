package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banklink-dev/banklink/internal/integrations/bank"
	"github.com/banklink-dev/banklink/internal/models"
)

// SyncFailure records one account that could not be reconciled.
type SyncFailure struct {
	AccountID int64  `json:"account_id"`
	Error     string `json:"error"`
}

// SyncResult aggregates the outcome of a credential-wide sync. A failure on
// one account never aborts its siblings; successes are committed and
// failures collected here.
type SyncResult struct {
	CredentialID    int64         `json:"credential_id"`
	AccountsFound   int           `json:"accounts_found"`
	AccountsCreated int           `json:"accounts_created"`
	AccountsUpdated int           `json:"accounts_updated"`
	Succeeded       []int64       `json:"succeeded"`
	Failed          []SyncFailure `json:"failed"`
}

// SyncCredential reconciles every account under one credential. It returns a
// non-nil error only when the gateway could not be reached for the whole
// operation (or the credential itself is unusable); per-account failures are
// reported in the result instead.
func (s *Service) SyncCredential(ctx context.Context, credentialID int64) (*SyncResult, error) {
	cred, err := s.store.FindCredentialByID(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	token, err := s.accessToken(cred)
	if err != nil {
		return nil, err
	}

	records, err := s.gateway.FetchAccounts(ctx, token, cred.ExternalID)
	if err != nil {
		if errors.Is(err, bank.ErrUnauthorized) {
			s.handleUnauthorized(ctx, cred)
		}
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	result := &SyncResult{
		CredentialID:  credentialID,
		AccountsFound: len(records),
	}

	// Upsert by (credential, external_id). Accounts missing from the
	// response are left alone; absence from a page is not deletion.
	for _, rec := range records {
		acct := &models.Account{
			CredentialID: credentialID,
			ExternalID:   rec.ExternalID,
			Name:         rec.Name,
			Currency:     rec.Currency,
		}
		created, err := s.store.UpsertAccount(ctx, acct)
		if err != nil {
			s.log.Errorf("Credential %d: failed to upsert account %s: %v", credentialID, rec.ExternalID, err)
			result.Failed = append(result.Failed, SyncFailure{AccountID: acct.ID, Error: err.Error()})
			continue
		}
		if created {
			result.AccountsCreated++
		} else {
			result.AccountsUpdated++
		}
	}

	accounts, err := s.store.ListAccountsByCredential(ctx, credentialID)
	if err != nil {
		return result, fmt.Errorf("failed to list accounts: %w", err)
	}

	// Accounts fetch in parallel; each account's upsert sequence is
	// serialized by the store's per-account lock.
	var (
		mu           sync.Mutex
		wg           sync.WaitGroup
		unauthorized bool
	)
	for _, acct := range accounts {
		wg.Add(1)
		go func(acct *models.Account) {
			defer wg.Done()
			err := s.syncAccountTransactions(ctx, acct, token)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, SyncFailure{AccountID: acct.ID, Error: err.Error()})
				if errors.Is(err, bank.ErrUnauthorized) {
					unauthorized = true
				}
				return
			}
			result.Succeeded = append(result.Succeeded, acct.ID)
		}(acct)
	}
	wg.Wait()

	if unauthorized {
		s.handleUnauthorized(ctx, cred)
	}

	s.log.WithFields(map[string]any{
		"credential_id": credentialID,
		"accounts":      result.AccountsFound,
		"succeeded":     len(result.Succeeded),
		"failed":        len(result.Failed),
	}).Info("Credential sync complete")

	return result, nil
}

// SyncAccount reconciles a single account. Safe to run concurrently with
// itself: the upsert keys make repeated runs converge on the same state.
func (s *Service) SyncAccount(ctx context.Context, accountID int64) error {
	acct, err := s.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	cred, err := s.store.FindCredentialByID(ctx, acct.CredentialID)
	if err != nil {
		return err
	}
	token, err := s.accessToken(cred)
	if err != nil {
		return err
	}

	if err := s.syncAccountTransactions(ctx, acct, token); err != nil {
		if errors.Is(err, bank.ErrUnauthorized) {
			s.handleUnauthorized(ctx, cred)
		}
		return err
	}
	return nil
}

// syncAccountTransactions fetches transactions since the account's last sync
// and commits them in one all-or-nothing batch. last_synced_at advances to
// "now" rather than the newest transaction date, so clock skew or
// late-arriving transactions at the provider are picked up by the next sync.
func (s *Service) syncAccountTransactions(ctx context.Context, acct *models.Account, token string) error {
	records, err := s.gateway.FetchTransactions(ctx, token, acct.ExternalID, acct.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions: %w", err)
	}

	now := time.Now().UTC()
	created, updated, err := s.store.ReconcileTransactions(ctx, acct.ID, records, &now)
	if err != nil {
		return fmt.Errorf("failed to reconcile transactions: %w", err)
	}

	s.log.WithFields(map[string]any{
		"account_id": acct.ID,
		"fetched":    len(records),
		"created":    created,
		"updated":    updated,
	}).Info("Account sync complete")
	return nil
}

// handleUnauthorized flags the credential for re-link and notifies the user.
// Unauthorized is never retried automatically.
func (s *Service) handleUnauthorized(ctx context.Context, cred *models.Credential) {
	s.log.Warnf("Credential %d: provider rejected tokens, marking for re-link", cred.ID)
	if err := s.store.MarkCredentialNeedsRelink(ctx, cred.ID); err != nil {
		s.log.Errorf("Credential %d: failed to mark for re-link: %v", cred.ID, err)
	}
	if s.notifier == nil {
		return
	}
	user, err := s.store.FindUserByID(ctx, cred.UserID)
	if err != nil {
		s.log.Errorf("Credential %d: failed to load user for notice: %v", cred.ID, err)
		return
	}
	if err := s.notifier.SendRelinkNotice(user.Email, user.Username, cred.Provider); err != nil {
		s.log.Errorf("Credential %d: failed to send re-link notice: %v", cred.ID, err)
	}
}
