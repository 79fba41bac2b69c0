// Package yahoo provides the Yahoo Finance chart API client for stock
// quotes. Yahoo requires no credentials, so the client is always
// configured.
package yahoo

import (
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
const ProviderName = string(domain.SourceYahoo)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client for the Yahoo Finance chart API.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
	health  *providers.HealthTracker
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client.
func NewClient(limiter *ratelimit.Limiter, health *providers.HealthTracker, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		health:  health,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Name returns the provider name.
func (c *Client) Name() string { return ProviderName }

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta chartMeta `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartMeta struct {
	Symbol               string  `json:"symbol"`
	Currency             string  `json:"currency"`
	ExchangeName         string  `json:"exchangeName"`
	LongName             string  `json:"longName"`
	RegularMarketPrice   float64 `json:"regularMarketPrice"`
	RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
	RegularMarketVolume  int64   `json:"regularMarketVolume"`
	RegularMarketTime    int64   `json:"regularMarketTime"`
	ChartPreviousClose   float64 `json:"chartPreviousClose"`
	PreviousClose        float64 `json:"previousClose"`
}

// GetStockQuote fetches the current quote for a symbol from the chart
// endpoint and normalizes it into the common shape.
func (c *Client) GetStockQuote(ctx context.Context, symbol string) (*domain.StockQuote, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if !c.health.Allow(ProviderName) {
		return nil, domain.ErrCircuitOpen{Provider: ProviderName, RetryAfter: c.health.RetryAfter(ProviderName)}
	}

	if !c.limiter.TryAcquire(ProviderName) {
		return nil, domain.ErrRateLimitExceeded{Provider: ProviderName, Limit: c.limiter.Limit(ProviderName)}
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, c.fail("failed to create request", err)
	}
	// The chart endpoint rejects requests without a browser-like agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; findata/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail("failed to read response", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, c.fail(fmt.Sprintf("symbol %s not found", symbol), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(fmt.Sprintf("API returned status %d", resp.StatusCode), nil)
	}

	var payload chartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, c.fail("failed to parse chart response", err)
	}
	if payload.Chart.Error != nil {
		return nil, c.fail(payload.Chart.Error.Description, nil)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, c.fail(fmt.Sprintf("no chart data for %s", symbol), nil)
	}

	meta := payload.Chart.Result[0].Meta

	previousClose := meta.ChartPreviousClose
	if meta.PreviousClose != 0 {
		previousClose = meta.PreviousClose
	}

	quote := &domain.StockQuote{
		Symbol:      domain.NormalizeSymbol(meta.Symbol),
		CompanyName: meta.LongName,
		Price: domain.QuotePrice{
			Current:       meta.RegularMarketPrice,
			High:          meta.RegularMarketDayHigh,
			Low:           meta.RegularMarketDayLow,
			PreviousClose: previousClose,
		},
		Volume:      meta.RegularMarketVolume,
		Exchange:    meta.ExchangeName,
		Currency:    meta.Currency,
		LastUpdated: time.Now(),
		Source:      domain.SourceYahoo,
	}
	if previousClose != 0 {
		quote.Price.Change = quote.Price.Current - previousClose
		quote.Price.ChangePercent = quote.Price.Change / previousClose * 100
	}

	c.health.RecordSuccess(ProviderName)
	c.log.Debug().Str("symbol", symbol).Float64("price", quote.Price.Current).Msg("Fetched quote")
	return quote, nil
}

func (c *Client) fail(message string, err error) error {
	upstream := domain.ErrUpstream{Provider: ProviderName, Message: message, Err: err}
	c.health.RecordFailure(ProviderName, upstream)
	c.log.Warn().Err(upstream).Msg("Yahoo Finance call failed")
	return upstream
}
