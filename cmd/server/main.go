// Package main is the entry point for the findata service, an
// aggregation layer over external financial data providers. It serves
// stock quotes, fundamentals and banking transactions through a
// cache-first HTTP API with per-provider rate limiting and circuit
// breaking.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"findata/internal/clientdata"
	"findata/internal/clients/alphavantage"
	"findata/internal/clients/plaid"
	"findata/internal/clients/yahoo"
	"findata/internal/config"
	"findata/internal/database"
	"findata/internal/manager"
	"findata/internal/providers"
	"findata/internal/ratelimit"
	"findata/internal/scheduler"
	"findata/internal/server"
	"findata/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Int("port", cfg.Port).
		Str("data_dir", cfg.DataDir).
		Msg("Starting findata service")

	// Cache database
	cacheDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "findata_cache.db"),
		Name: "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	repo := clientdata.NewRepository(cacheDB.Conn())

	// Shared provider state: one limiter and one health tracker,
	// injected into every client
	providerNames := []string{
		alphavantage.ProviderName,
		yahoo.ProviderName,
		plaid.ProviderName,
	}
	limiter := ratelimit.New(map[string]int{
		alphavantage.ProviderName: cfg.AlphaVantageRateLimit,
		yahoo.ProviderName:        cfg.YahooRateLimit,
		plaid.ProviderName:        cfg.PlaidRateLimit,
	})
	health := providers.NewHealthTracker(providerNames, cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)

	alphaClient := alphavantage.NewClient(cfg.AlphaVantageAPIKey, limiter, health, cfg.HTTPTimeout, log)
	yahooClient := yahoo.NewClient(limiter, health, cfg.HTTPTimeout, log)
	plaidClient := plaid.NewClient(cfg.PlaidClientID, cfg.PlaidSecret, cfg.PlaidEnvironment, limiter, health, cfg.HTTPTimeout, log)

	dataManager := manager.New(manager.Config{
		Repo:    repo,
		Alpha:   alphaClient,
		Yahoo:   yahooClient,
		Plaid:   plaidClient,
		Limiter: limiter,
		Health:  health,
		TTL: manager.TTLConfig{
			Quotes:       cfg.QuoteTTL,
			Metrics:      cfg.MetricsTTL,
			Transactions: cfg.TransactionsTTL,
		},
		Log: log,
	})

	// Background cache cleanup
	sched := scheduler.New(log)
	cleanupJob := clientdata.NewCleanupJob(repo, log)
	if err := sched.AddJob("@daily", cleanupJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache cleanup")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:     log,
		Manager: dataManager,
		CacheDB: cacheDB,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
