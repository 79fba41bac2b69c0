// Package manager orchestrates cache-first financial data retrieval
// across the upstream providers.
package manager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"findata/internal/clientdata"
	"findata/internal/domain"
	"findata/internal/providers"
	"findata/internal/ratelimit"
)

// QuoteClient fetches normalized stock quotes from one provider.
type QuoteClient interface {
	GetStockQuote(ctx context.Context, symbol string) (*domain.StockQuote, error)
}

// MetricsClient fetches normalized fundamentals from one provider.
type MetricsClient interface {
	GetFinancialMetrics(ctx context.Context, symbol string) (*domain.FinancialMetrics, error)
}

// TransactionsClient fetches banking transactions from one provider.
type TransactionsClient interface {
	GetTransactions(ctx context.Context, accessToken string, start, end time.Time) ([]domain.BankingTransaction, error)
}

// MarketDataClient is the full market data surface of Alpha Vantage.
type MarketDataClient interface {
	QuoteClient
	MetricsClient
}

// TTLConfig holds the cache lifetime per entity type. Transactions get
// a long retention so re-ingesting the same range upserts in place.
type TTLConfig struct {
	Quotes       time.Duration
	Metrics      time.Duration
	Transactions time.Duration
}

// Config wires the manager's collaborators. All state is injected; the
// manager owns none of it.
type Config struct {
	Repo    *clientdata.Repository
	Alpha   MarketDataClient
	Yahoo   QuoteClient
	Plaid   TransactionsClient
	Limiter *ratelimit.Limiter
	Health  *providers.HealthTracker
	TTL     TTLConfig
	Log     zerolog.Logger
}

// Manager is the cache-then-fetch-then-persist orchestrator. Concurrent
// requests for the same (provider, symbol) pair share one upstream call.
type Manager struct {
	repo    *clientdata.Repository
	alpha   MarketDataClient
	yahoo   QuoteClient
	plaid   TransactionsClient
	limiter *ratelimit.Limiter
	health  *providers.HealthTracker
	ttl     TTLConfig
	group   singleflight.Group
	log     zerolog.Logger
}

// New creates a new financial data manager.
func New(cfg Config) *Manager {
	return &Manager{
		repo:    cfg.Repo,
		alpha:   cfg.Alpha,
		yahoo:   cfg.Yahoo,
		plaid:   cfg.Plaid,
		limiter: cfg.Limiter,
		health:  cfg.Health,
		ttl:     cfg.TTL,
		log:     cfg.Log.With().Str("component", "manager").Logger(),
	}
}

// GetStockQuote returns the quote for a symbol, serving from cache when
// fresh. On upstream failure a stale cached quote of any age is served
// before the error is propagated.
func (m *Manager) GetStockQuote(ctx context.Context, symbol string, source domain.Source) (*domain.StockQuote, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if cached, err := m.repo.GetIfFresh(clientdata.TableStockQuotes, symbol); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache read failed")
	} else if cached != nil {
		var quote domain.StockQuote
		unmarshalErr := json.Unmarshal(cached, &quote)
		if unmarshalErr == nil {
			m.log.Debug().Str("symbol", symbol).Msg("Quote cache hit")
			return &quote, nil
		}
		m.log.Warn().Err(unmarshalErr).Str("symbol", symbol).Msg("Corrupt cache row, refetching")
	}

	client, provider, err := m.quoteClient(source)
	if err != nil {
		return nil, err
	}

	v, err, _ := m.group.Do(provider+":"+symbol, func() (interface{}, error) {
		quote, err := client.GetStockQuote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if storeErr := m.repo.Store(clientdata.TableStockQuotes, symbol, quote, m.ttl.Quotes); storeErr != nil {
			m.log.Warn().Err(storeErr).Str("symbol", symbol).Msg("Failed to cache quote")
		}
		return quote, nil
	})
	if err != nil {
		return m.staleQuote(symbol, err)
	}
	return v.(*domain.StockQuote), nil
}

func (m *Manager) quoteClient(source domain.Source) (QuoteClient, string, error) {
	switch source {
	case domain.SourceAuto, domain.SourceAlphaVantage, "":
		return m.alpha, string(domain.SourceAlphaVantage), nil
	case domain.SourceYahoo:
		return m.yahoo, string(domain.SourceYahoo), nil
	default:
		return nil, "", domain.ErrNotConfigured{Provider: string(source), Reason: "unsupported quote source"}
	}
}

func (m *Manager) staleQuote(symbol string, fetchErr error) (*domain.StockQuote, error) {
	cached, err := m.repo.Get(clientdata.TableStockQuotes, symbol)
	if err != nil || cached == nil {
		return nil, fetchErr
	}
	var quote domain.StockQuote
	if err := json.Unmarshal(cached, &quote); err != nil {
		return nil, fetchErr
	}
	m.log.Warn().Err(fetchErr).Str("symbol", symbol).Msg("Upstream failed, serving stale quote")
	return &quote, nil
}

// GetStockQuotes fetches quotes for several symbols concurrently.
// Failures are logged and skipped; one bad symbol never aborts the
// batch. Results keep the input order of the symbols that succeeded.
func (m *Manager) GetStockQuotes(ctx context.Context, symbols []string, source domain.Source) []*domain.StockQuote {
	results := make([]*domain.StockQuote, len(symbols))

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			quote, err := m.GetStockQuote(ctx, symbol, source)
			if err != nil {
				m.log.Warn().Err(err).Str("symbol", symbol).Msg("Skipping symbol in batch")
				return
			}
			results[i] = quote
		}(i, symbol)
	}
	wg.Wait()

	quotes := make([]*domain.StockQuote, 0, len(symbols))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, q)
		}
	}
	return quotes
}

// GetFinancialMetrics returns the latest annual fundamentals for a
// symbol. Cached rows are keyed symbol:fiscalYear; freshness is checked
// against the most recent fiscal year on record.
func (m *Manager) GetFinancialMetrics(ctx context.Context, symbol string) (*domain.FinancialMetrics, error) {
	symbol = domain.NormalizeSymbol(symbol)
	prefix := symbol + ":"

	key, cached, err := m.repo.GetLatestByPrefix(clientdata.TableFinancialMetrics, prefix)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache read failed")
	} else if cached != nil {
		fresh, err := m.repo.IsFresh(clientdata.TableFinancialMetrics, key)
		if err == nil && fresh {
			var metrics domain.FinancialMetrics
			if err := json.Unmarshal(cached, &metrics); err == nil {
				m.log.Debug().Str("symbol", symbol).Msg("Metrics cache hit")
				return &metrics, nil
			}
		}
	}

	v, err, _ := m.group.Do("metrics:"+symbol, func() (interface{}, error) {
		metrics, err := m.alpha.GetFinancialMetrics(ctx, symbol)
		if err != nil {
			return nil, err
		}
		storeKey := clientdata.MetricsKey(symbol, metrics.FiscalYear)
		if storeErr := m.repo.Store(clientdata.TableFinancialMetrics, storeKey, metrics, m.ttl.Metrics); storeErr != nil {
			m.log.Warn().Err(storeErr).Str("symbol", symbol).Msg("Failed to cache metrics")
		}
		return metrics, nil
	})
	if err != nil {
		return m.staleMetrics(symbol, err)
	}
	return v.(*domain.FinancialMetrics), nil
}

func (m *Manager) staleMetrics(symbol string, fetchErr error) (*domain.FinancialMetrics, error) {
	_, cached, err := m.repo.GetLatestByPrefix(clientdata.TableFinancialMetrics, symbol+":")
	if err != nil || cached == nil {
		return nil, fetchErr
	}
	var metrics domain.FinancialMetrics
	if err := json.Unmarshal(cached, &metrics); err != nil {
		return nil, fetchErr
	}
	m.log.Warn().Err(fetchErr).Str("symbol", symbol).Msg("Upstream failed, serving stale metrics")
	return &metrics, nil
}

// GetBankingTransactions fetches transactions from Plaid, categorizes
// each, and upserts them keyed by transaction ID. Persistence failures
// are logged per row; the fetched list is returned regardless. The
// returned batch ID ties the response to the ingestion log lines.
func (m *Manager) GetBankingTransactions(ctx context.Context, accessToken string, start, end time.Time) ([]domain.BankingTransaction, string, error) {
	batchID := uuid.New().String()

	transactions, err := m.plaid.GetTransactions(ctx, accessToken, start, end)
	if err != nil {
		return nil, batchID, err
	}

	for i := range transactions {
		txn := &transactions[i]
		txn.Category = domain.Categorize(txn.Description, txn.Amount)
		if err := m.repo.Store(clientdata.TableBankingTransactions, txn.TransactionID, txn, m.ttl.Transactions); err != nil {
			m.log.Warn().Err(err).
				Str("batch_id", batchID).
				Str("transaction_id", txn.TransactionID).
				Msg("Failed to persist transaction")
		}
	}

	m.log.Info().
		Str("batch_id", batchID).
		Int("count", len(transactions)).
		Msg("Ingested banking transactions")
	return transactions, batchID, nil
}

// ProviderStatus returns the current health snapshot for all providers.
func (m *Manager) ProviderStatus() map[string]providers.Status {
	return m.health.Snapshot()
}

// RateLimitStatus returns the current rate limiter snapshot for all
// providers.
func (m *Manager) RateLimitStatus() map[string]ratelimit.Status {
	return m.limiter.Snapshot()
}
