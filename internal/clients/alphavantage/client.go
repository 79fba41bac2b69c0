// Package alphavantage provides the Alpha Vantage API client for stock
// quotes and fundamental data.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"findata/internal/domain"
	"findata/internal/providers"
	"findata/internal/ratelimit"
)

// ProviderName identifies this client in rate limiter and health state.
const ProviderName = string(domain.SourceAlphaVantage)

const defaultBaseURL = "https://www.alphavantage.co/query"

// Client for the Alpha Vantage API.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
	health  *providers.HealthTracker
	log     zerolog.Logger
}

// NewClient creates a new Alpha Vantage client. The limiter and health
// tracker are shared process-wide state owned by the caller.
func NewClient(apiKey string, limiter *ratelimit.Limiter, health *providers.HealthTracker, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		health:  health,
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Name returns the provider name.
func (c *Client) Name() string { return ProviderName }

// globalQuote is the vendor shape of the GLOBAL_QUOTE function. All
// numeric fields are string-typed and must be parsed.
type globalQuote struct {
	Symbol           string `json:"01. symbol"`
	Open             string `json:"02. open"`
	High             string `json:"03. high"`
	Low              string `json:"04. low"`
	Price            string `json:"05. price"`
	Volume           string `json:"06. volume"`
	LatestTradingDay string `json:"07. latest trading day"`
	PreviousClose    string `json:"08. previous close"`
	Change           string `json:"09. change"`
	ChangePercent    string `json:"10. change percent"`
}

// GetStockQuote fetches the current quote for a symbol and normalizes
// it into the common shape.
func (c *Client) GetStockQuote(ctx context.Context, symbol string) (*domain.StockQuote, error) {
	symbol = domain.NormalizeSymbol(symbol)

	body, err := c.request(ctx, map[string]string{
		"function": "GLOBAL_QUOTE",
		"symbol":   symbol,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		GlobalQuote globalQuote `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, c.fail("failed to parse quote response", err)
	}
	if payload.GlobalQuote.Symbol == "" {
		return nil, c.fail(fmt.Sprintf("no quote data for %s", symbol), nil)
	}

	quote := &domain.StockQuote{
		Symbol: domain.NormalizeSymbol(payload.GlobalQuote.Symbol),
		Price: domain.QuotePrice{
			Current:       parseFloat64(payload.GlobalQuote.Price),
			Open:          parseFloat64(payload.GlobalQuote.Open),
			High:          parseFloat64(payload.GlobalQuote.High),
			Low:           parseFloat64(payload.GlobalQuote.Low),
			PreviousClose: parseFloat64(payload.GlobalQuote.PreviousClose),
			Change:        parseFloat64(payload.GlobalQuote.Change),
			ChangePercent: parseFloat64(payload.GlobalQuote.ChangePercent),
		},
		Volume:      int64(parseFloat64(payload.GlobalQuote.Volume)),
		Currency:    "USD",
		LastUpdated: time.Now(),
		Source:      domain.SourceAlphaVantage,
	}

	c.log.Debug().Str("symbol", symbol).Float64("price", quote.Price.Current).Msg("Fetched quote")
	return quote, nil
}

// annualReport holds the string-typed fields shared by the statement
// endpoints. Only the fields we map are declared.
type annualReport struct {
	FiscalDateEnding    string `json:"fiscalDateEnding"`
	TotalRevenue        string `json:"totalRevenue"`
	GrossProfit         string `json:"grossProfit"`
	NetIncome           string `json:"netIncome"`
	EBITDA              string `json:"ebitda"`
	TotalAssets         string `json:"totalAssets"`
	TotalLiabilities    string `json:"totalLiabilities"`
	TotalShareholderEq  string `json:"totalShareholderEquity"`
	OperatingCashflow   string `json:"operatingCashflow"`
	CapitalExpenditures string `json:"capitalExpenditures"`
	CurrentAssets       string `json:"totalCurrentAssets"`
	CurrentLiabilities  string `json:"totalCurrentLiabilities"`
	Inventory           string `json:"inventory"`
}

type statementResponse struct {
	Symbol        string         `json:"symbol"`
	AnnualReports []annualReport `json:"annualReports"`
}

// GetFinancialMetrics fetches the latest annual fundamentals for a
// symbol, merging the income statement, balance sheet and cash flow
// endpoints into the common shape. Derived ratios are recomputed, never
// taken from the vendor.
func (c *Client) GetFinancialMetrics(ctx context.Context, symbol string) (*domain.FinancialMetrics, error) {
	symbol = domain.NormalizeSymbol(symbol)

	income, err := c.fetchStatement(ctx, "INCOME_STATEMENT", symbol)
	if err != nil {
		return nil, err
	}
	balance, err := c.fetchStatement(ctx, "BALANCE_SHEET", symbol)
	if err != nil {
		return nil, err
	}
	cashflow, err := c.fetchStatement(ctx, "CASH_FLOW", symbol)
	if err != nil {
		return nil, err
	}

	if len(income.AnnualReports) == 0 {
		return nil, c.fail(fmt.Sprintf("no annual reports for %s", symbol), nil)
	}

	latest := income.AnnualReports[0]
	fiscalDate, err := time.Parse("2006-01-02", latest.FiscalDateEnding)
	if err != nil {
		return nil, c.fail("invalid fiscal date in income statement", err)
	}

	metrics := &domain.FinancialMetrics{
		Symbol:     symbol,
		Date:       fiscalDate,
		Period:     domain.PeriodAnnual,
		FiscalYear: fiscalDate.Year(),
		Metrics: domain.MetricValues{
			Revenue:     parseFloat64(latest.TotalRevenue),
			GrossProfit: parseFloat64(latest.GrossProfit),
			NetIncome:   parseFloat64(latest.NetIncome),
			EBITDA:      parseFloat64(latest.EBITDA),
		},
		LastUpdated: time.Now(),
		Source:      domain.SourceAlphaVantage,
	}

	// The statement endpoints report independent fiscal calendars;
	// match on the income statement's period end.
	if report, ok := findReport(balance.AnnualReports, latest.FiscalDateEnding); ok {
		metrics.Metrics.TotalAssets = parseFloat64(report.TotalAssets)
		metrics.Metrics.TotalLiabilities = parseFloat64(report.TotalLiabilities)
		metrics.Metrics.ShareholdersEquity = parseFloat64(report.TotalShareholderEq)

		currentLiabilities := parseFloat64(report.CurrentLiabilities)
		if currentLiabilities != 0 {
			currentAssets := parseFloat64(report.CurrentAssets)
			metrics.Metrics.CurrentRatio = currentAssets / currentLiabilities
			metrics.Metrics.QuickRatio = (currentAssets - parseFloat64(report.Inventory)) / currentLiabilities
		}
	}
	if report, ok := findReport(cashflow.AnnualReports, latest.FiscalDateEnding); ok {
		metrics.Metrics.OperatingCashFlow = parseFloat64(report.OperatingCashflow)
		metrics.Metrics.CapitalExpenditures = parseFloat64(report.CapitalExpenditures)
	}

	metrics.ComputeDerived()

	c.log.Debug().
		Str("symbol", symbol).
		Int("fiscal_year", metrics.FiscalYear).
		Msg("Fetched financial metrics")
	return metrics, nil
}

func (c *Client) fetchStatement(ctx context.Context, function, symbol string) (*statementResponse, error) {
	body, err := c.request(ctx, map[string]string{
		"function": function,
		"symbol":   symbol,
	})
	if err != nil {
		return nil, err
	}

	var resp statementResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.fail(fmt.Sprintf("failed to parse %s response", function), err)
	}
	return &resp, nil
}

func findReport(reports []annualReport, fiscalDateEnding string) (annualReport, bool) {
	for _, r := range reports {
		if r.FiscalDateEnding == fiscalDateEnding {
			return r, true
		}
	}
	return annualReport{}, false
}

// request issues one API call: credentials check, circuit breaker, rate
// limiter, then HTTP. The breaker is consulted before the limiter so a
// rejected call does not consume a rate-limit slot. Vendor-level errors
// inside a 200 response are treated as upstream failures; a clean
// exchange records a success, so multi-request operations release the
// half-open probe as soon as the first call lands.
func (c *Client) request(ctx context.Context, params map[string]string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, domain.ErrNotConfigured{Provider: ProviderName, Reason: "missing API key"}
	}

	if !c.health.Allow(ProviderName) {
		return nil, domain.ErrCircuitOpen{Provider: ProviderName, RetryAfter: c.health.RetryAfter(ProviderName)}
	}

	if !c.limiter.TryAcquire(ProviderName) {
		return nil, domain.ErrRateLimitExceeded{Provider: ProviderName, Limit: c.limiter.Limit(ProviderName)}
	}

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, c.fail("failed to create request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail("failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(fmt.Sprintf("API returned status %d", resp.StatusCode), nil)
	}

	// Alpha Vantage reports errors inside a 200 response
	var vendorErr struct {
		ErrorMessage string `json:"Error Message"`
		Note         string `json:"Note"`
		Information  string `json:"Information"`
	}
	if err := json.Unmarshal(body, &vendorErr); err == nil {
		switch {
		case vendorErr.ErrorMessage != "":
			return nil, c.fail(vendorErr.ErrorMessage, nil)
		case vendorErr.Note != "":
			return nil, c.fail(vendorErr.Note, nil)
		case vendorErr.Information != "":
			return nil, c.fail(vendorErr.Information, nil)
		}
	}

	c.health.RecordSuccess(ProviderName)
	return body, nil
}

// fail records the failure against provider health and returns a typed
// upstream error.
func (c *Client) fail(message string, err error) error {
	upstream := domain.ErrUpstream{Provider: ProviderName, Message: message, Err: err}
	c.health.RecordFailure(ProviderName, upstream)
	c.log.Warn().Err(upstream).Msg("Alpha Vantage call failed")
	return upstream
}

// parseFloat64 parses Alpha Vantage's string-typed numeric fields.
// Placeholder values ("None", "null", "-", "") and trailing percent
// signs are tolerated; unparseable input maps to 0.
func parseFloat64(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "", "None", "null", "-":
		return 0
	}
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
