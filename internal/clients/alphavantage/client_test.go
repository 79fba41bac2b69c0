package alphavantage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findata/internal/domain"
	"findata/internal/providers"
	"findata/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, limit int) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := ratelimit.New(map[string]int{ProviderName: limit})
	health := providers.NewHealthTracker([]string{ProviderName}, 5, time.Minute)
	client := NewClient("test-key", limiter, health, 5*time.Second, zerolog.Nop())
	client.SetBaseURL(server.URL)
	return client
}

func TestParseFloat64(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"123.45", 123.45},
		{"-2.50", -2.50},
		{"None", 0},
		{"null", 0},
		{"", 0},
		{"-", 0},
		{"1.0875%", 1.0875},
		{" 42 ", 42},
		{"invalid", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseFloat64(tt.input), "input %q", tt.input)
	}
}

func TestGetStockQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))

		w.Write([]byte(`{"Global Quote": {
			"01. symbol": "AAPL",
			"02. open": "185.00",
			"03. high": "187.50",
			"04. low": "184.20",
			"05. price": "186.75",
			"06. volume": "52000000",
			"07. latest trading day": "2024-01-15",
			"08. previous close": "184.80",
			"09. change": "1.95",
			"10. change percent": "1.0552%"
		}}`))
	}, 10)

	quote, err := client.GetStockQuote(context.Background(), "aapl")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, 186.75, quote.Price.Current)
	assert.Equal(t, 185.00, quote.Price.Open)
	assert.Equal(t, 184.80, quote.Price.PreviousClose)
	assert.Equal(t, 1.0552, quote.Price.ChangePercent)
	assert.Equal(t, int64(52000000), quote.Volume)
	assert.Equal(t, domain.SourceAlphaVantage, quote.Source)
}

func TestGetStockQuoteEmptyResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote": {}}`))
	}, 10)

	_, err := client.GetStockQuote(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no quote data")
}

func TestGetStockQuoteVendorError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	}, 10)

	_, err := client.GetStockQuote(context.Background(), "AAPL")
	require.Error(t, err)

	var upstream domain.ErrUpstream
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, ProviderName, upstream.Provider)
}

func TestGetStockQuoteMissingAPIKey(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, 10)
	client.apiKey = ""

	_, err := client.GetStockQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
	assert.False(t, called, "should not reach the server without credentials")
}

func TestGetStockQuoteRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote": {"01. symbol": "AAPL", "05. price": "186.75"}}`))
	}, 2)

	for i := 0; i < 2; i++ {
		_, err := client.GetStockQuote(context.Background(), "AAPL")
		require.NoError(t, err)
	}

	_, err := client.GetStockQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, domain.IsRateLimitError(err))
}

func TestGetStockQuoteCircuitOpens(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, 100)

	for i := 0; i < 5; i++ {
		_, err := client.GetStockQuote(context.Background(), "AAPL")
		require.Error(t, err)
		assert.False(t, domain.IsCircuitOpenError(err))
	}

	_, err := client.GetStockQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, domain.IsCircuitOpenError(err))
}

func TestGetFinancialMetrics(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("function") {
		case "INCOME_STATEMENT":
			w.Write([]byte(`{"symbol": "JPM", "annualReports": [
				{"fiscalDateEnding": "2023-12-31", "totalRevenue": "1000", "grossProfit": "600", "netIncome": "100", "ebitda": "250"},
				{"fiscalDateEnding": "2022-12-31", "totalRevenue": "900", "grossProfit": "500", "netIncome": "80", "ebitda": "200"}
			]}`))
		case "BALANCE_SHEET":
			w.Write([]byte(`{"symbol": "JPM", "annualReports": [
				{"fiscalDateEnding": "2023-12-31", "totalAssets": "2000", "totalLiabilities": "1500", "totalShareholderEquity": "500",
				 "totalCurrentAssets": "800", "totalCurrentLiabilities": "400", "inventory": "100"}
			]}`))
		case "CASH_FLOW":
			w.Write([]byte(`{"symbol": "JPM", "annualReports": [
				{"fiscalDateEnding": "2023-12-31", "operatingCashflow": "150", "capitalExpenditures": "50"}
			]}`))
		default:
			t.Errorf("unexpected function %q", r.URL.Query().Get("function"))
		}
	}, 10)

	metrics, err := client.GetFinancialMetrics(context.Background(), "jpm")
	require.NoError(t, err)

	assert.Equal(t, "JPM", metrics.Symbol)
	assert.Equal(t, 2023, metrics.FiscalYear)
	assert.Equal(t, domain.PeriodAnnual, metrics.Period)
	assert.Equal(t, 1000.0, metrics.Metrics.Revenue)
	assert.Equal(t, 500.0, metrics.Metrics.ShareholdersEquity)
	assert.Equal(t, 150.0, metrics.Metrics.OperatingCashFlow)

	// Derived metrics are recomputed from the raw inputs
	assert.Equal(t, 100.0, metrics.Metrics.FreeCashFlow)
	assert.Equal(t, 20.0, metrics.Metrics.ReturnOnEquity)
	assert.Equal(t, 5.0, metrics.Metrics.ReturnOnAssets)
	assert.Equal(t, 3.0, metrics.Metrics.DebtToEquity)
	assert.Equal(t, 2.0, metrics.Metrics.CurrentRatio)
	assert.Equal(t, 1.75, metrics.Metrics.QuickRatio)
}

func TestGetFinancialMetricsRecoversAfterCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("function") {
		case "INCOME_STATEMENT":
			w.Write([]byte(`{"symbol": "JPM", "annualReports": [
				{"fiscalDateEnding": "2023-12-31", "totalRevenue": "1000", "netIncome": "100"}
			]}`))
		case "BALANCE_SHEET", "CASH_FLOW":
			w.Write([]byte(`{"symbol": "JPM", "annualReports": [
				{"fiscalDateEnding": "2023-12-31"}
			]}`))
		case "GLOBAL_QUOTE":
			w.Write([]byte(`{"Global Quote": {"01. symbol": "JPM", "05. price": "210.50"}}`))
		}
	}))
	t.Cleanup(server.Close)

	limiter := ratelimit.New(map[string]int{ProviderName: 100})
	health := providers.NewHealthTracker([]string{ProviderName}, 1, 20*time.Millisecond)
	client := NewClient("test-key", limiter, health, 5*time.Second, zerolog.Nop())
	client.SetBaseURL(server.URL)

	health.RecordFailure(ProviderName, domain.ErrUpstream{Provider: ProviderName, Message: "down"})
	_, err := client.GetFinancialMetrics(context.Background(), "JPM")
	require.Error(t, err)
	assert.True(t, domain.IsCircuitOpenError(err))

	// After the cooldown the first statement call is the half-open probe;
	// its success must close the circuit so the remaining statement calls
	// of the same operation go through.
	time.Sleep(50 * time.Millisecond)
	metrics, err := client.GetFinancialMetrics(context.Background(), "JPM")
	require.NoError(t, err)
	assert.Equal(t, 2023, metrics.FiscalYear)

	quote, err := client.GetStockQuote(context.Background(), "JPM")
	require.NoError(t, err, "circuit should stay closed after recovery")
	assert.Equal(t, 210.50, quote.Price.Current)
}

func TestCircuitOpenDoesNotConsumeRateLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("should not reach the server while the circuit is open")
	}, 1)

	for i := 0; i < 5; i++ {
		client.health.RecordFailure(ProviderName, domain.ErrUpstream{Provider: ProviderName, Message: "down"})
	}

	for i := 0; i < 3; i++ {
		_, err := client.GetStockQuote(context.Background(), "AAPL")
		require.Error(t, err)
		assert.True(t, domain.IsCircuitOpenError(err))
	}

	assert.Equal(t, 0, client.limiter.Snapshot()[ProviderName].Used)
}

func TestGetFinancialMetricsNoReports(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol": "NOPE", "annualReports": []}`))
	}, 10)

	_, err := client.GetFinancialMetrics(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no annual reports")
}
