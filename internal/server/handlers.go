package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"findata/internal/domain"
	"findata/internal/providers"
	"findata/internal/ratelimit"
)

// DataManager is the data retrieval surface the handlers depend on.
type DataManager interface {
	GetStockQuote(ctx context.Context, symbol string, source domain.Source) (*domain.StockQuote, error)
	GetStockQuotes(ctx context.Context, symbols []string, source domain.Source) []*domain.StockQuote
	GetFinancialMetrics(ctx context.Context, symbol string) (*domain.FinancialMetrics, error)
	GetBankingTransactions(ctx context.Context, accessToken string, start, end time.Time) ([]domain.BankingTransaction, string, error)
	ProviderStatus() map[string]providers.Status
	RateLimitStatus() map[string]ratelimit.Status
}

// Handlers handles the market and banking data HTTP requests.
type Handlers struct {
	manager DataManager
	log     zerolog.Logger
}

// NewHandlers creates the data handlers.
func NewHandlers(manager DataManager, log zerolog.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		log:     log.With().Str("handler", "data").Logger(),
	}
}

// HandleHealth handles GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "findata",
	})
}

// HandleGetQuote handles GET /api/market/quote/{symbol}?source=
func (h *Handlers) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	source := domain.Source(r.URL.Query().Get("source"))

	quote, err := h.manager.GetStockQuote(r.Context(), symbol, source)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeData(w, quote)
}

// HandleGetQuotes handles GET /api/market/quotes?symbols=A,B,C&source=
func (h *Handlers) HandleGetQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	source := domain.Source(r.URL.Query().Get("source"))

	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		http.Error(w, "symbols query parameter is required", http.StatusBadRequest)
		return
	}

	quotes := h.manager.GetStockQuotes(r.Context(), symbols, source)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": quotes,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"requested": len(symbols),
			"returned":  len(quotes),
		},
	})
}

// HandleGetMetrics handles GET /api/market/metrics/{symbol}
func (h *Handlers) HandleGetMetrics(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	metrics, err := h.manager.GetFinancialMetrics(r.Context(), symbol)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeData(w, metrics)
}

// TransactionsRequest represents a request to ingest banking transactions
type TransactionsRequest struct {
	AccessToken string `json:"access_token"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// HandleGetTransactions handles POST /api/banking/transactions
func (h *Handlers) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	var req TransactionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccessToken == "" {
		http.Error(w, "access_token is required", http.StatusBadRequest)
		return
	}

	// Default to the trailing 30 days when no range is given
	end := time.Now()
	start := end.AddDate(0, 0, -30)
	var err error
	if req.StartDate != "" {
		if start, err = time.Parse("2006-01-02", req.StartDate); err != nil {
			http.Error(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if req.EndDate != "" {
		if end, err = time.Parse("2006-01-02", req.EndDate); err != nil {
			http.Error(w, "end_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if end.Before(start) {
		http.Error(w, "end_date must not precede start_date", http.StatusBadRequest)
		return
	}

	transactions, batchID, err := h.manager.GetBankingTransactions(r.Context(), req.AccessToken, start, end)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": transactions,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(transactions),
			"batch_id":  batchID,
		},
	})
}

// HandleProviderStatus handles GET /api/providers/status
func (h *Handlers) HandleProviderStatus(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, h.manager.ProviderStatus())
}

// HandleRateLimits handles GET /api/providers/rate-limits
func (h *Handlers) HandleRateLimits(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, h.manager.RateLimitStatus())
}

// respondError maps domain error types to HTTP status codes.
func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsConfigurationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case domain.IsRateLimitError(err):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case domain.IsCircuitOpenError(err):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Msg("Request failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

// writeData writes data in the standard response envelope.
func (h *Handlers) writeData(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
