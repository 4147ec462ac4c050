package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/banklink-dev/banklink/internal/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 10 * time.Second

// Client handles integration with the bank provider API. All calls attach
// the provider API key and run with a bounded timeout so a hung upstream
// never blocks the caller indefinitely.
type Client struct {
	baseURL  string
	oauthURL string
	apiKey   string
	client   *http.Client
	log      *logrus.Logger
}

// NewClient initializes a new bank provider client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		baseURL:  cfg.BankAPIBaseURL,
		oauthURL: cfg.BankOAuthURL,
		apiKey:   cfg.BankAPIKey,
		client: &http.Client{
			Timeout: requestTimeout,
		},
		log: log,
	}
}

// StartOAuthFlow builds the hosted OAuth redirect URL for linking a bank.
// Pure URL construction; never fails.
func (c *Client) StartOAuthFlow(userID int64, provider string) string {
	q := url.Values{}
	q.Set("user", strconv.FormatInt(userID, 10))
	q.Set("provider", provider)
	q.Set("state", uuid.NewString())
	return c.oauthURL + "?" + q.Encode()
}

// FetchAccounts retrieves the accounts visible to a credential. When the
// provider assigned the credential an external customer id, the scoped
// customer endpoint is used.
func (c *Client) FetchAccounts(ctx context.Context, accessToken, customerID string) ([]AccountRecord, error) {
	path := "/accounts"
	if customerID != "" {
		path = "/customers/" + url.PathEscape(customerID) + "/accounts"
	}

	body, err := c.get(ctx, path, accessToken, nil)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, newError(ErrBadResponse, http.StatusOK, "accounts response is not a JSON array: %v", err)
	}

	records := make([]AccountRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := ParseAccountRecord(raw)
		if err != nil {
			return nil, newError(ErrBadResponse, http.StatusOK, "%v", err)
		}
		records = append(records, rec)
	}

	c.log.Debugf("Fetched %d accounts from provider", len(records))
	return records, nil
}

// FetchTransactions retrieves transactions for an account. since is an
// optional inclusive lower-bound date; nil means full history.
func (c *Client) FetchTransactions(ctx context.Context, accessToken, accountExternalID string, since *time.Time) ([]TransactionRecord, error) {
	path := "/accounts/" + url.PathEscape(accountExternalID) + "/transactions"

	q := url.Values{}
	if since != nil {
		q.Set("since", since.Format(dateLayout))
	}

	body, err := c.get(ctx, path, accessToken, q)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, newError(ErrBadResponse, http.StatusOK, "transactions response is not a JSON array: %v", err)
	}

	records := make([]TransactionRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := ParseTransactionRecord(raw)
		if err != nil {
			return nil, newError(ErrBadResponse, http.StatusOK, "%v", err)
		}
		records = append(records, rec)
	}

	c.log.Debugf("Fetched %d transactions for account %s", len(records), accountExternalID)
	return records, nil
}

// get executes a provider request and maps transport and HTTP failures into
// the adapter error taxonomy.
func (c *Client) get(ctx context.Context, path, accessToken string, query url.Values) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", c.apiKey)

	reqURL := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(ErrUnavailable, 0, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ErrUnavailable, resp.StatusCode, "failed to read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newError(ErrUnauthorized, resp.StatusCode, "provider rejected credential (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := newError(ErrRateLimited, resp.StatusCode, "provider rate limit hit")
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, e
	case resp.StatusCode >= 500:
		return nil, newError(ErrUnavailable, resp.StatusCode, "provider error (status %d)", resp.StatusCode)
	default:
		return nil, newError(ErrBadResponse, resp.StatusCode, "unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
