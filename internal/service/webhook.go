package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banklink-dev/banklink/internal/integrations/bank"
	"github.com/banklink-dev/banklink/internal/utils"
)

// Webhook rejection errors. The handler maps them to 401 and 400.
var (
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrMalformedPayload = errors.New("webhook: malformed payload")
)

// AckResult reports what a webhook delivery did.
type AckResult struct {
	Processed int `json:"processed"`
	Ignored   int `json:"ignored"`
}

const (
	eventTransactionCreated = "transaction.created"
	eventTransactionUpdated = "transaction.updated"
	eventAccountUpdated     = "account.updated"
)

type webhookEnvelope struct {
	Events []webhookEvent `json:"events"`
}

type webhookEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AccountID   string          `json:"account_id"`
	Transaction json.RawMessage `json:"transaction"`
}

// HandleWebhook validates and applies an asynchronous push from the bank.
// The signature is verified against the raw body before anything is parsed;
// a forged payload never reaches the upsert path. Deliveries are
// at-least-once, so every event routes through the same upsert keys as poll
// sync and duplicates converge on the same row.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*AckResult, error) {
	if !utils.VerifyHMAC(body, signature, s.config.WebhookSecret) {
		return nil, ErrInvalidSignature
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	result := &AckResult{}
	for _, event := range envelope.Events {
		if err := s.applyWebhookEvent(ctx, event, result); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(map[string]any{
		"events":    len(envelope.Events),
		"processed": result.Processed,
		"ignored":   result.Ignored,
	}).Info("Webhook delivery acknowledged")
	return result, nil
}

func (s *Service) applyWebhookEvent(ctx context.Context, event webhookEvent, result *AckResult) error {
	switch event.Type {
	case eventTransactionCreated, eventTransactionUpdated:
		if event.AccountID == "" || len(event.Transaction) == 0 {
			return fmt.Errorf("%w: %s event missing account or transaction", ErrMalformedPayload, event.Type)
		}
		rec, err := bank.ParseTransactionRecord(event.Transaction)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		acct, err := s.store.FindAccountByExternalID(ctx, event.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			// An event for an account we have never synced; nothing
			// to attach it to yet.
			s.log.Warnf("Webhook event %s references unknown account %s, ignoring", event.ID, event.AccountID)
			result.Ignored++
			return nil
		}
		// Same upsert path as poll sync, scoped to this account only.
		// last_synced_at is not advanced: one pushed event says nothing
		// about the rest of the fetch window.
		if _, _, err := s.store.ReconcileTransactions(ctx, acct.ID, []bank.TransactionRecord{rec}, nil); err != nil {
			return err
		}
		result.Processed++

	case eventAccountUpdated:
		if event.AccountID == "" {
			return fmt.Errorf("%w: %s event missing account", ErrMalformedPayload, event.Type)
		}
		acct, err := s.store.FindAccountByExternalID(ctx, event.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			s.log.Warnf("Webhook event %s references unknown account %s, ignoring", event.ID, event.AccountID)
			result.Ignored++
			return nil
		}
		if err := s.sched.EnqueueAccountSync(acct.ID); err != nil {
			return fmt.Errorf("failed to enqueue sync for account %d: %w", acct.ID, err)
		}
		result.Processed++

	default:
		// Unknown event types are acknowledged for forward
		// compatibility with provider schema changes.
		s.log.Infof("Ignoring unknown webhook event type %q", event.Type)
		result.Ignored++
	}
	return nil
}
