package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/banklink-dev/banklink/internal/service"
	"github.com/gorilla/mux"
)

const defaultPageSize = 100

type credentialRequest struct {
	Provider     string     `json:"provider"`
	ExternalID   string     `json:"external_id"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	Scopes       string     `json:"scopes"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// CreateCredential links a bank provider to the authenticated user
func (h *Handler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cred, err := h.svc.CreateCredential(r.Context(), uid, service.CreateCredentialParams{
		Provider:     req.Provider,
		ExternalID:   req.ExternalID,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Scopes:       req.Scopes,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, cred)
}

// ListCredentials returns the authenticated user's bank credentials
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	creds, err := h.svc.ListCredentials(r.Context(), uid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, creds)
}

// DeleteCredential unlinks a bank credential
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid credential id")
		return
	}
	if err := h.svc.DeleteCredential(r.Context(), uid, id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tokensRequest struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// UpdateCredentialTokens stores fresh provider tokens after a completed
// connect flow and clears the re-link flag
func (h *Handler) UpdateCredentialTokens(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid credential id")
		return
	}

	var req tokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cred, err := h.svc.UpdateCredentialTokens(r.Context(), uid, id, service.UpdateTokensParams{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cred)
}

// StartConnect returns the hosted OAuth URL for re-linking a credential
func (h *Handler) StartConnect(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid credential id")
		return
	}
	url, err := h.svc.StartConnect(r.Context(), uid, id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// ListAccounts returns the authenticated user's bank accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	accounts, err := h.svc.ListAccounts(r.Context(), uid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

// SyncAccount queues a background sync for one account
func (h *Handler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := h.svc.EnqueueAccountSync(r.Context(), uid, id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// ListAccountTransactions returns transactions for one account
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	limit, offset := pagination(r)
	transactions, err := h.svc.ListAccountTransactions(r.Context(), uid, id, limit, offset)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, transactions)
}

// ListTransactions returns transactions across all of the user's accounts
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	transactions, err := h.svc.ListTransactions(r.Context(), uid, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, transactions)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
