package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/banklink-dev/banklink/internal/service"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Webhook accepts asynchronous pushes from the bank provider. The raw body
// is read before any parsing so the signature check covers exactly the bytes
// the provider signed.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := h.svc.HandleWebhook(r.Context(), body, r.Header.Get("X-Bank-Signature"))
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	case errors.Is(err, service.ErrMalformedPayload):
		respondError(w, http.StatusBadRequest, "malformed payload")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"processed": result.Processed,
		"ignored":   result.Ignored,
	})
}
