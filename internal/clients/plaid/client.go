// Package plaid provides the Plaid API client for banking transactions.
package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"findata/internal/domain"
	"findata/internal/providers"
	"findata/internal/ratelimit"
)

// ProviderName identifies this client in rate limiter and health state.
const ProviderName = string(domain.SourcePlaid)

// environmentURLs maps the Plaid environment name to its API host.
var environmentURLs = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

const pageSize = 500

// Client for the Plaid API.
type Client struct {
	clientID string
	secret   string
	baseURL  string
	client   *http.Client
	limiter  *ratelimit.Limiter
	health   *providers.HealthTracker
	log      zerolog.Logger
}

// NewClient creates a new Plaid client for the given environment
// (sandbox, development or production).
func NewClient(clientID, secret, environment string, limiter *ratelimit.Limiter, health *providers.HealthTracker, timeout time.Duration, log zerolog.Logger) *Client {
	baseURL, ok := environmentURLs[environment]
	if !ok {
		baseURL = environmentURLs["sandbox"]
	}
	return &Client{
		clientID: clientID,
		secret:   secret,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		health:   health,
		log:      log.With().Str("client", "plaid").Logger(),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Name returns the provider name.
func (c *Client) Name() string { return ProviderName }

type transactionsRequest struct {
	ClientID    string             `json:"client_id"`
	Secret      string             `json:"secret"`
	AccessToken string             `json:"access_token"`
	StartDate   string             `json:"start_date"`
	EndDate     string             `json:"end_date"`
	Options     transactionOptions `json:"options"`
}

type transactionOptions struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
}

type plaidTransaction struct {
	AccountID       string  `json:"account_id"`
	TransactionID   string  `json:"transaction_id"`
	Amount          float64 `json:"amount"`
	ISOCurrencyCode string  `json:"iso_currency_code"`
	Date            string  `json:"date"`
	Name            string  `json:"name"`
	MerchantName    string  `json:"merchant_name"`
	Pending         bool    `json:"pending"`
}

type transactionsResponse struct {
	Transactions      []plaidTransaction `json:"transactions"`
	TotalTransactions int                `json:"total_transactions"`
	Item              struct {
		InstitutionID string `json:"institution_id"`
	} `json:"item"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// GetTransactions fetches all transactions for an access token within
// the date range, paging through the API until the reported total is
// reached. Amounts are normalized to negative-for-debit; Plaid reports
// outflows as positive.
func (c *Client) GetTransactions(ctx context.Context, accessToken string, startDate, endDate time.Time) ([]domain.BankingTransaction, error) {
	if c.clientID == "" || c.secret == "" {
		return nil, domain.ErrNotConfigured{Provider: ProviderName, Reason: "missing client ID or secret"}
	}
	if accessToken == "" {
		return nil, domain.ErrNotConfigured{Provider: ProviderName, Reason: "missing access token"}
	}

	var transactions []domain.BankingTransaction
	offset := 0

	for {
		page, err := c.fetchPage(ctx, accessToken, startDate, endDate, offset)
		if err != nil {
			return nil, err
		}

		for _, raw := range page.Transactions {
			txn, err := c.mapTransaction(raw, page.Item.InstitutionID)
			if err != nil {
				c.log.Warn().Err(err).Str("transaction_id", raw.TransactionID).Msg("Skipping malformed transaction")
				continue
			}
			transactions = append(transactions, txn)
		}

		offset += len(page.Transactions)
		if offset >= page.TotalTransactions || len(page.Transactions) == 0 {
			break
		}
	}

	c.log.Debug().Int("count", len(transactions)).Msg("Fetched transactions")
	return transactions, nil
}

// fetchPage issues one transactions/get call. The breaker is consulted
// before the rate limiter so a rejected call does not consume a slot,
// and each clean page records a success so a half-open probe is
// released before the next page is requested.
func (c *Client) fetchPage(ctx context.Context, accessToken string, startDate, endDate time.Time, offset int) (*transactionsResponse, error) {
	if !c.health.Allow(ProviderName) {
		return nil, domain.ErrCircuitOpen{Provider: ProviderName, RetryAfter: c.health.RetryAfter(ProviderName)}
	}

	if !c.limiter.TryAcquire(ProviderName) {
		return nil, domain.ErrRateLimitExceeded{Provider: ProviderName, Limit: c.limiter.Limit(ProviderName)}
	}

	reqBody, err := json.Marshal(transactionsRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: accessToken,
		StartDate:   startDate.Format("2006-01-02"),
		EndDate:     endDate.Format("2006-01-02"),
		Options:     transactionOptions{Count: pageSize, Offset: offset},
	})
	if err != nil {
		return nil, c.fail("failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions/get", bytes.NewReader(reqBody))
	if err != nil {
		return nil, c.fail("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail("failed to read response", err)
	}

	var page transactionsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, c.fail("failed to parse response", err)
	}
	if resp.StatusCode != http.StatusOK || page.ErrorCode != "" {
		message := page.ErrorMessage
		if message == "" {
			message = fmt.Sprintf("API returned status %d", resp.StatusCode)
		}
		return nil, c.fail(message, nil)
	}

	c.health.RecordSuccess(ProviderName)
	return &page, nil
}

func (c *Client) mapTransaction(raw plaidTransaction, institution string) (domain.BankingTransaction, error) {
	date, err := time.Parse("2006-01-02", raw.Date)
	if err != nil {
		return domain.BankingTransaction{}, fmt.Errorf("invalid date %q: %w", raw.Date, err)
	}

	return domain.BankingTransaction{
		AccountID:     raw.AccountID,
		TransactionID: raw.TransactionID,
		Amount:        -raw.Amount,
		Currency:      raw.ISOCurrencyCode,
		Date:          date,
		Description:   raw.Name,
		MerchantName:  raw.MerchantName,
		Pending:       raw.Pending,
		Institution:   institution,
	}, nil
}

func (c *Client) fail(message string, err error) error {
	upstream := domain.ErrUpstream{Provider: ProviderName, Message: message, Err: err}
	c.health.RecordFailure(ProviderName, upstream)
	c.log.Warn().Err(upstream).Msg("Plaid call failed")
	return upstream
}
