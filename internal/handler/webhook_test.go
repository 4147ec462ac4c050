package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banklink-dev/banklink/internal/config"
	"github.com/banklink-dev/banklink/internal/models"
	"github.com/banklink-dev/banklink/internal/service"
	"github.com/banklink-dev/banklink/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore overrides only what the webhook path touches; everything else
// panics via the embedded nil interface.
type stubStore struct {
	service.Store
}

func (s *stubStore) FindAccountByExternalID(_ context.Context, _ string) (*models.Account, error) {
	return nil, nil
}

func newWebhookHandler() (*Handler, *config.Config) {
	cfg := &config.Config{
		JWTSecret:     "secret",
		WebhookSecret: "whsec_test",
		EncryptionKey: strings.Repeat("ab", 16),
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	svc := service.NewService(&stubStore{}, nil, nil, nil, log, cfg)
	return NewHandler(svc), cfg
}

func postWebhook(h *Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Bank-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, _ := newWebhookHandler()

	rec := postWebhook(h, []byte(`{"events":[]}`), "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(h, []byte(`{"events":[]}`), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	h, cfg := newWebhookHandler()

	body := []byte(`{"events"`)
	rec := postWebhook(h, body, utils.SignHMAC(body, cfg.WebhookSecret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAcksValidDelivery(t *testing.T) {
	h, cfg := newWebhookHandler()

	// The referenced account was never synced, so the event is counted as
	// ignored but the delivery is still acknowledged.
	body := []byte(`{"events":[{
		"id": "evt1",
		"type": "transaction.created",
		"account_id": "acc1",
		"transaction": {"id":"tx1","date":"2024-01-01","amount":"1.00","currency":"USD"}
	}]}`)
	rec := postWebhook(h, body, utils.SignHMAC(body, cfg.WebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(0), resp["processed"])
	assert.Equal(t, float64(1), resp["ignored"])
}
