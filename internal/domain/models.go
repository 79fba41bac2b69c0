// Package domain contains the core entities and error types for the
// financial data aggregation service. The domain layer is pure: no
// infrastructure dependencies.
package domain

import (
	"strings"
	"time"
)

// Source identifies an upstream financial data provider.
type Source string

const (
	SourceAuto         Source = "auto"
	SourceAlphaVantage Source = "alphavantage"
	SourceYahoo        Source = "yahoo"
	SourcePlaid        Source = "plaid"
)

// QuotePrice holds the price fields of a stock quote.
type QuotePrice struct {
	Current       float64 `json:"current"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PreviousClose float64 `json:"previous_close"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// StockQuote is the normalized quote shape shared by all providers.
// Symbol is always uppercased before storage or lookup.
type StockQuote struct {
	Symbol        string     `json:"symbol"`
	CompanyName   string     `json:"company_name,omitempty"`
	Price         QuotePrice `json:"price"`
	Volume        int64      `json:"volume"`
	MarketCap     float64    `json:"market_cap,omitempty"`
	PERatio       float64    `json:"pe_ratio,omitempty"`
	DividendYield float64    `json:"dividend_yield,omitempty"`
	Exchange      string     `json:"exchange,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	LastUpdated   time.Time  `json:"last_updated"`
	Source        Source     `json:"source"`
}

// MetricsPeriod distinguishes annual from quarterly metrics.
type MetricsPeriod string

const (
	PeriodAnnual    MetricsPeriod = "annual"
	PeriodQuarterly MetricsPeriod = "quarterly"
)

// MetricValues holds the raw and derived fundamental metrics for one
// fiscal period.
type MetricValues struct {
	Revenue             float64 `json:"revenue"`
	GrossProfit         float64 `json:"gross_profit"`
	NetIncome           float64 `json:"net_income"`
	TotalAssets         float64 `json:"total_assets"`
	TotalLiabilities    float64 `json:"total_liabilities"`
	ShareholdersEquity  float64 `json:"shareholders_equity"`
	OperatingCashFlow   float64 `json:"operating_cash_flow"`
	CapitalExpenditures float64 `json:"capital_expenditures"`
	FreeCashFlow        float64 `json:"free_cash_flow"`
	EBITDA              float64 `json:"ebitda"`
	EPS                 float64 `json:"eps"`
	BookValue           float64 `json:"book_value"`
	ReturnOnEquity      float64 `json:"return_on_equity"`
	ReturnOnAssets      float64 `json:"return_on_assets"`
	DebtToEquity        float64 `json:"debt_to_equity"`
	CurrentRatio        float64 `json:"current_ratio"`
	QuickRatio          float64 `json:"quick_ratio"`
}

// FinancialMetrics is the normalized fundamentals shape for one symbol
// and fiscal period.
type FinancialMetrics struct {
	Symbol      string        `json:"symbol"`
	Date        time.Time     `json:"date"` // fiscal period end
	Metrics     MetricValues  `json:"metrics"`
	Period      MetricsPeriod `json:"period"`
	FiscalYear  int           `json:"fiscal_year"`
	LastUpdated time.Time     `json:"last_updated"`
	Source      Source        `json:"source"`
}

// ComputeDerived recomputes all derived metric fields from their raw
// inputs. Derived fields are never trusted from upstream payloads.
func (m *FinancialMetrics) ComputeDerived() {
	v := &m.Metrics
	v.FreeCashFlow = v.OperatingCashFlow - v.CapitalExpenditures
	if v.ShareholdersEquity != 0 {
		v.ReturnOnEquity = v.NetIncome / v.ShareholdersEquity * 100
		v.DebtToEquity = v.TotalLiabilities / v.ShareholdersEquity
	} else {
		v.ReturnOnEquity = 0
		v.DebtToEquity = 0
	}
	if v.TotalAssets != 0 {
		v.ReturnOnAssets = v.NetIncome / v.TotalAssets * 100
	} else {
		v.ReturnOnAssets = 0
	}
}

// TransactionCategory is the closed set of banking transaction categories.
type TransactionCategory string

const (
	CategoryIncome     TransactionCategory = "income"
	CategoryExpense    TransactionCategory = "expense"
	CategoryTransfer   TransactionCategory = "transfer"
	CategoryInvestment TransactionCategory = "investment"
	CategoryFee        TransactionCategory = "fee"
	CategoryDividend   TransactionCategory = "dividend"
	CategoryInterest   TransactionCategory = "interest"
	CategoryTax        TransactionCategory = "tax"
	CategoryOther      TransactionCategory = "other"
)

// BankingTransaction is the normalized banking transaction shape.
// TransactionID is the upsert key: re-ingesting the same upstream
// transaction updates rather than duplicates.
type BankingTransaction struct {
	AccountID     string              `json:"account_id"`
	TransactionID string              `json:"transaction_id"`
	Amount        float64             `json:"amount"` // negative = debit
	Currency      string              `json:"currency"`
	Date          time.Time           `json:"date"`
	Description   string              `json:"description"`
	Category      TransactionCategory `json:"category"`
	MerchantName  string              `json:"merchant_name,omitempty"`
	Pending       bool                `json:"pending"`
	Institution   string              `json:"institution,omitempty"`
}

// Categorize assigns a category from the transaction name and amount.
// The rules form an ordered chain; first match wins. Note the magnitude
// rule fires before the sign rule.
func Categorize(name string, amount float64) TransactionCategory {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "dividend"), strings.Contains(lower, "interest"):
		return CategoryDividend
	case strings.Contains(lower, "fee"), strings.Contains(lower, "charge"):
		return CategoryFee
	case strings.Contains(lower, "tax"):
		return CategoryTax
	case amount > 10000 || amount < -10000:
		return CategoryInvestment
	case amount < 0:
		return CategoryExpense
	default:
		return CategoryIncome
	}
}

// NormalizeSymbol canonicalizes a ticker symbol for storage and lookup.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
