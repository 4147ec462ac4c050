package service

import (
	"context"
	"fmt"
	"time"

	"github.com/banklink-dev/banklink/internal/config"
	"github.com/banklink-dev/banklink/internal/integrations/bank"
	"github.com/banklink-dev/banklink/internal/models"
	"github.com/banklink-dev/banklink/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Store is the persistence surface the service depends on. Implemented by
// *repository.Repository.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)

	CreateCredential(ctx context.Context, cred *models.Credential) error
	FindCredentialByID(ctx context.Context, id int64) (*models.Credential, error)
	ListCredentialsByUser(ctx context.Context, userID int64) ([]*models.Credential, error)
	DeleteCredential(ctx context.Context, id, userID int64) error
	MarkCredentialNeedsRelink(ctx context.Context, id int64) error
	UpdateCredentialTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error

	UpsertAccount(ctx context.Context, acct *models.Account) (bool, error)
	FindAccountByID(ctx context.Context, id int64) (*models.Account, error)
	FindAccountByExternalID(ctx context.Context, externalID string) (*models.Account, error)
	ListAccountsByCredential(ctx context.Context, credentialID int64) ([]*models.Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]*models.Account, error)

	ReconcileTransactions(ctx context.Context, accountID int64, records []bank.TransactionRecord, syncedAt *time.Time) (int, int, error)
	ListTransactionsByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*models.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error)
}

// BankGateway is the external bank adapter boundary. Implemented by
// *bank.Client.
type BankGateway interface {
	FetchAccounts(ctx context.Context, accessToken, customerID string) ([]bank.AccountRecord, error)
	FetchTransactions(ctx context.Context, accessToken, accountExternalID string, since *time.Time) ([]bank.TransactionRecord, error)
	StartOAuthFlow(userID int64, provider string) string
}

// Notifier sends user-facing notices. Implemented by *email.Sender.
type Notifier interface {
	SendRelinkNotice(to, username, provider string) error
}

// TaskScheduler hands account syncs off to a background queue. Implemented
// by *scheduler.Queue.
type TaskScheduler interface {
	EnqueueAccountSync(accountID int64) error
}

// Service handles business logic
type Service struct {
	store    Store
	gateway  BankGateway
	notifier Notifier
	sched    TaskScheduler
	log      *logrus.Logger
	config   *config.Config
	encKey   []byte
}

// NewService initializes a new service
func NewService(store Store, gateway BankGateway, notifier Notifier, sched TaskScheduler, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		sched:    sched,
		log:      log,
		config:   cfg,
		encKey:   cfg.EncryptionKeyBytes(),
	}
}

// Register creates a new user with hashed password
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Email)
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", user.ID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", user.Email)
	return tokenString, nil
}

// CreateCredentialParams carries the fields accepted when linking a bank.
type CreateCredentialParams struct {
	Provider     string
	ExternalID   string
	AccessToken  string
	RefreshToken string
	Scopes       string
	ExpiresAt    *time.Time
}

// CreateCredential links a bank provider to a user. Tokens are encrypted
// before they reach the store.
func (s *Service) CreateCredential(ctx context.Context, userID int64, params CreateCredentialParams) (*models.Credential, error) {
	if params.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}

	cred := &models.Credential{
		UserID:     userID,
		Provider:   params.Provider,
		ExternalID: params.ExternalID,
		Scopes:     params.Scopes,
		ExpiresAt:  params.ExpiresAt,
	}

	var err error
	if params.AccessToken != "" {
		if cred.AccessToken, err = utils.Encrypt(params.AccessToken, s.encKey); err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
	}
	if params.RefreshToken != "" {
		if cred.RefreshToken, err = utils.Encrypt(params.RefreshToken, s.encKey); err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}

	s.log.Infof("Credential created for user %d: %s", userID, cred.Provider)
	return cred, nil
}

// UpdateTokensParams carries fresh provider tokens after a completed
// (re-)link.
type UpdateTokensParams struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// UpdateCredentialTokens stores fresh tokens for a credential the user owns
// and clears the needs_relink flag. Tokens are encrypted before they reach
// the store.
func (s *Service) UpdateCredentialTokens(ctx context.Context, userID, credentialID int64, params UpdateTokensParams) (*models.Credential, error) {
	if params.AccessToken == "" {
		return nil, fmt.Errorf("access_token is required")
	}
	if _, err := s.credentialOwnedBy(ctx, userID, credentialID); err != nil {
		return nil, err
	}

	accessToken, err := utils.Encrypt(params.AccessToken, s.encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	var refreshToken string
	if params.RefreshToken != "" {
		if refreshToken, err = utils.Encrypt(params.RefreshToken, s.encKey); err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	if err := s.store.UpdateCredentialTokens(ctx, credentialID, accessToken, refreshToken, params.ExpiresAt); err != nil {
		return nil, err
	}

	s.log.Infof("Credential %d re-linked by user %d", credentialID, userID)
	return s.store.FindCredentialByID(ctx, credentialID)
}

// ListCredentials returns the credentials belonging to a user
func (s *Service) ListCredentials(ctx context.Context, userID int64) ([]*models.Credential, error) {
	return s.store.ListCredentialsByUser(ctx, userID)
}

// DeleteCredential unlinks a bank; accounts and transactions cascade
func (s *Service) DeleteCredential(ctx context.Context, userID, credentialID int64) error {
	if err := s.store.DeleteCredential(ctx, credentialID, userID); err != nil {
		return err
	}
	s.log.Infof("Credential %d deleted for user %d", credentialID, userID)
	return nil
}

// StartConnect returns the hosted OAuth URL for a credential the user owns
func (s *Service) StartConnect(ctx context.Context, userID, credentialID int64) (string, error) {
	cred, err := s.credentialOwnedBy(ctx, userID, credentialID)
	if err != nil {
		return "", err
	}
	return s.gateway.StartOAuthFlow(userID, cred.Provider), nil
}

// EnqueueAccountSync verifies ownership and hands the account to the
// background queue.
func (s *Service) EnqueueAccountSync(ctx context.Context, userID, accountID int64) error {
	if _, err := s.accountOwnedBy(ctx, userID, accountID); err != nil {
		return err
	}
	if err := s.sched.EnqueueAccountSync(accountID); err != nil {
		return fmt.Errorf("failed to enqueue sync: %w", err)
	}
	s.log.Infof("Sync queued for account %d", accountID)
	return nil
}

// ListAccounts returns all accounts across a user's credentials
func (s *Service) ListAccounts(ctx context.Context, userID int64) ([]*models.Account, error) {
	return s.store.ListAccountsByUser(ctx, userID)
}

// ListAccountTransactions returns transactions for one account the user owns
func (s *Service) ListAccountTransactions(ctx context.Context, userID, accountID int64, limit, offset int) ([]*models.Transaction, error) {
	if _, err := s.accountOwnedBy(ctx, userID, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactionsByAccount(ctx, accountID, limit, offset)
}

// ListTransactions returns transactions across all of a user's accounts
func (s *Service) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	return s.store.ListTransactionsByUser(ctx, userID, limit, offset)
}

func (s *Service) credentialOwnedBy(ctx context.Context, userID, credentialID int64) (*models.Credential, error) {
	cred, err := s.store.FindCredentialByID(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if cred.UserID != userID {
		return nil, fmt.Errorf("credential does not belong to user")
	}
	return cred, nil
}

func (s *Service) accountOwnedBy(ctx context.Context, userID, accountID int64) (*models.Account, error) {
	acct, err := s.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if _, err := s.credentialOwnedBy(ctx, userID, acct.CredentialID); err != nil {
		return nil, err
	}
	return acct, nil
}

// accessToken decrypts a credential's stored access token
func (s *Service) accessToken(cred *models.Credential) (string, error) {
	if cred.AccessToken == "" {
		return "", nil
	}
	token, err := utils.Decrypt(cred.AccessToken, s.encKey)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return token, nil
}
