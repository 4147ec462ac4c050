package service

import (
	"context"
	"errors"
	"testing"

	"github.com/banklink-dev/banklink/internal/models"
	"github.com/banklink-dev/banklink/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedBody(body string) ([]byte, string) {
	b := []byte(body)
	return b, utils.SignHMAC(b, testConfig().WebhookSecret)
}

func TestHandleWebhookRejectsInvalidSignature(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &mockGateway{}, &mockNotifier{}, &mockSched{})

	body := []byte(`{"events":[{"id":"evt1","type":"transaction.created"}]}`)
	_, err := svc.HandleWebhook(context.Background(), body, "deadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
	assert.Empty(t, store.txs, "forged payload must not touch the store")
}

func TestHandleWebhookRejectsMalformedPayload(t *testing.T) {
	svc := newTestService(newFakeStore(), &mockGateway{}, &mockNotifier{}, &mockSched{})

	body, sig := signedBody(`{"events":`)
	_, err := svc.HandleWebhook(context.Background(), body, sig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestHandleWebhookUpsertsTransaction(t *testing.T) {
	store := newFakeStore()
	cred := seedCredential(store)
	acct := store.addAccount(&models.Account{CredentialID: cred.ID, ExternalID: "acc1", Name: "Checking", Currency: "USD"})
	svc := newTestService(store, &mockGateway{}, &mockNotifier{}, &mockSched{})

	body, sig := signedBody(`{"events":[{
		"id": "evt1",
		"type": "transaction.created",
		"account_id": "acc1",
		"transaction": {"id":"tx1","date":"2024-01-01","amount":"-12.50","currency":"USD","description":"Coffee"}
	}]}`)

	result, err := svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Ignored)

	txs, err := store.ListTransactionsByAccount(context.Background(), acct.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx1", txs[0].ExternalID)
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("-12.50")))
	assert.Nil(t, acct.LastSyncedAt, "a pushed event must not advance the sync cursor")

	// At-least-once delivery: the same event again converges on one row.
	result, err = svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	txs, err = store.ListTransactionsByAccount(context.Background(), acct.ID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestHandleWebhookIgnoresUnknownAccount(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &mockGateway{}, &mockNotifier{}, &mockSched{})

	body, sig := signedBody(`{"events":[{
		"id": "evt1",
		"type": "transaction.created",
		"account_id": "never-synced",
		"transaction": {"id":"tx1","date":"2024-01-01","amount":"1.00","currency":"USD"}
	}]}`)

	result, err := svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Ignored)
	assert.Empty(t, store.txs)
}

func TestHandleWebhookIgnoresUnknownEventType(t *testing.T) {
	svc := newTestService(newFakeStore(), &mockGateway{}, &mockNotifier{}, &mockSched{})

	body, sig := signedBody(`{"events":[{"id":"evt1","type":"statement.ready"}]}`)
	result, err := svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err, "unknown event types are acknowledged, not rejected")
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Ignored)
}

func TestHandleWebhookAccountUpdatedEnqueuesSync(t *testing.T) {
	store := newFakeStore()
	cred := seedCredential(store)
	acct := store.addAccount(&models.Account{CredentialID: cred.ID, ExternalID: "acc1"})
	sched := &mockSched{}
	svc := newTestService(store, &mockGateway{}, &mockNotifier{}, sched)

	body, sig := signedBody(`{"events":[{"id":"evt1","type":"account.updated","account_id":"acc1"}]}`)
	result, err := svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []int64{acct.ID}, sched.enqueued)
}

func TestHandleWebhookEventMissingTransaction(t *testing.T) {
	svc := newTestService(newFakeStore(), &mockGateway{}, &mockNotifier{}, &mockSched{})

	body, sig := signedBody(`{"events":[{"id":"evt1","type":"transaction.created","account_id":"acc1"}]}`)
	_, err := svc.HandleWebhook(context.Background(), body, sig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}
