package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banklink-dev/banklink/internal/config"
	"github.com/banklink-dev/banklink/internal/integrations/bank"
	"github.com/banklink-dev/banklink/internal/models"
	"github.com/sirupsen/logrus"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:     "secret",
		WebhookSecret: "whsec_test",
		EncryptionKey: strings.Repeat("ab", 32),
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestService(store Store, gateway BankGateway, notifier Notifier, sched TaskScheduler) *Service {
	return NewService(store, gateway, notifier, sched, testLogger(), testConfig())
}

// fakeStore is an in-memory Store. It mirrors the repository's upsert
// semantics: accounts key on (credential_id, external_id), transactions on
// (account_id, external_id), and a reconcile batch is all-or-nothing.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	creds    map[int64]*models.Credential
	accounts map[int64]*models.Account
	txs      map[string]*models.Transaction
	nextID   int64

	// reconcileErr forces ReconcileTransactions to fail for an account
	reconcileErr map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[int64]*models.User),
		creds:        make(map[int64]*models.Credential),
		accounts:     make(map[int64]*models.Account),
		txs:          make(map[string]*models.Transaction),
		reconcileErr: make(map[int64]error),
	}
}

func txKey(accountID int64, externalID string) string {
	return fmt.Sprintf("%d|%s", accountID, externalID)
}

func (f *fakeStore) addUser(user *models.User) *models.User {
	f.nextID++
	user.ID = f.nextID
	f.users[user.ID] = user
	return user
}

func (f *fakeStore) addCredential(cred *models.Credential) *models.Credential {
	f.nextID++
	cred.ID = f.nextID
	f.creds[cred.ID] = cred
	return cred
}

func (f *fakeStore) addAccount(acct *models.Account) *models.Account {
	f.nextID++
	acct.ID = f.nextID
	f.accounts[acct.ID] = acct
	return acct
}

func (f *fakeStore) CreateUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addUser(user)
	return nil
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user not found")
}

func (f *fakeStore) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return u, nil
}

func (f *fakeStore) CreateCredential(_ context.Context, cred *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCredential(cred)
	return nil
}

func (f *fakeStore) FindCredentialByID(_ context.Context, id int64) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return nil, fmt.Errorf("credential not found")
	}
	return c, nil
}

func (f *fakeStore) ListCredentialsByUser(_ context.Context, userID int64) ([]*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Credential
	for _, c := range f.creds {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteCredential(_ context.Context, id, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("credential not found")
	}
	delete(f.creds, id)
	return nil
}

func (f *fakeStore) MarkCredentialNeedsRelink(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return fmt.Errorf("credential not found")
	}
	c.NeedsRelink = true
	return nil
}

func (f *fakeStore) UpdateCredentialTokens(_ context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return fmt.Errorf("credential not found")
	}
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	c.ExpiresAt = expiresAt
	c.NeedsRelink = false
	return nil
}

func (f *fakeStore) UpsertAccount(_ context.Context, acct *models.Account) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if existing.CredentialID == acct.CredentialID && existing.ExternalID == acct.ExternalID {
			existing.Name = acct.Name
			existing.Currency = acct.Currency
			*acct = *existing
			return false, nil
		}
	}
	f.addAccount(acct)
	return true, nil
}

func (f *fakeStore) FindAccountByID(_ context.Context, id int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account not found")
	}
	return a, nil
}

func (f *fakeStore) FindAccountByExternalID(_ context.Context, externalID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ExternalID == externalID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListAccountsByCredential(_ context.Context, credentialID int64) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Account
	for _, a := range f.accounts {
		if a.CredentialID == credentialID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAccountsByUser(_ context.Context, userID int64) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Account
	for _, a := range f.accounts {
		cred, ok := f.creds[a.CredentialID]
		if ok && cred.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ReconcileTransactions(_ context.Context, accountID int64, records []bank.TransactionRecord, syncedAt *time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reconcileErr[accountID]; err != nil {
		return 0, 0, err
	}
	created, updated := 0, 0
	for _, rec := range records {
		key := txKey(accountID, rec.ExternalID)
		existing, ok := f.txs[key]
		if !ok {
			f.nextID++
			f.txs[key] = &models.Transaction{
				ID:          f.nextID,
				AccountID:   accountID,
				ExternalID:  rec.ExternalID,
				Date:        rec.Date,
				Amount:      rec.Amount,
				Currency:    rec.Currency,
				Description: rec.Description,
				Raw:         rec.Raw,
			}
			created++
			continue
		}
		if !existing.Amount.Equal(rec.Amount) || existing.Description != rec.Description {
			existing.Amount = rec.Amount
			existing.Description = rec.Description
			existing.Raw = rec.Raw
			updated++
		}
	}
	if syncedAt != nil {
		acct := f.accounts[accountID]
		if acct.LastSyncedAt == nil || syncedAt.After(*acct.LastSyncedAt) {
			ts := *syncedAt
			acct.LastSyncedAt = &ts
		}
	}
	return created, updated, nil
}

func (f *fakeStore) ListTransactionsByAccount(_ context.Context, accountID int64, _, _ int) ([]*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range f.txs {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTransactionsByUser(_ context.Context, userID int64, _, _ int) ([]*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range f.txs {
		acct, ok := f.accounts[tx.AccountID]
		if !ok {
			continue
		}
		cred, ok := f.creds[acct.CredentialID]
		if ok && cred.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// mockGateway stubs the provider with function fields
type mockGateway struct {
	fetchAccounts     func(ctx context.Context, accessToken, customerID string) ([]bank.AccountRecord, error)
	fetchTransactions func(ctx context.Context, accessToken, accountExternalID string, since *time.Time) ([]bank.TransactionRecord, error)
}

func (m *mockGateway) FetchAccounts(ctx context.Context, accessToken, customerID string) ([]bank.AccountRecord, error) {
	return m.fetchAccounts(ctx, accessToken, customerID)
}

func (m *mockGateway) FetchTransactions(ctx context.Context, accessToken, accountExternalID string, since *time.Time) ([]bank.TransactionRecord, error) {
	return m.fetchTransactions(ctx, accessToken, accountExternalID, since)
}

func (m *mockGateway) StartOAuthFlow(userID int64, provider string) string {
	return fmt.Sprintf("https://bank.example/connect?user=%d&provider=%s", userID, provider)
}

type mockNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (m *mockNotifier) SendRelinkNotice(to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, to)
	return nil
}

type mockSched struct {
	mu       sync.Mutex
	enqueued []int64
	err      error
}

func (m *mockSched) EnqueueAccountSync(accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, accountID)
	return nil
}
