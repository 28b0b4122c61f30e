// Command modelgated runs the modelgate HTTP proxy: it loads configuration,
// opens the system-of-record database, seeds the in-memory credential pool,
// and serves the four endpoints of §6 until terminated. Grounded on the
// teacher's main.go boot sequence (init logger, init DB, init pool-like
// state, start gin), trimmed to this proxy's scope (no web UI, no session
// store, no SMTP/Redis — §1 Non-goals).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/adapter"
	"github.com/modelgate/modelgate/internal/adapter/anthropic"
	"github.com/modelgate/modelgate/internal/adapter/deepseek"
	"github.com/modelgate/modelgate/internal/adapter/gemini"
	"github.com/modelgate/modelgate/internal/adapter/openai"
	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/crypto"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/health"
	"github.com/modelgate/modelgate/internal/httpclient"
	"github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/logsink"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/pool"
	"github.com/modelgate/modelgate/internal/preprocess"
	"github.com/modelgate/modelgate/internal/providerclient"
	"github.com/modelgate/modelgate/internal/resolver"
	"github.com/modelgate/modelgate/internal/server"
	"github.com/modelgate/modelgate/internal/store"
)

func main() {
	logger := logging.New()
	defer logger.Sync() //nolint:errcheck

	logger.Info("modelgate starting",
		zap.String("listen_addr", config.ListenAddr),
		zap.String("sqlite_path", config.SqlitePath))

	tables, err := config.LoadTables(config.ConfigTablesPath)
	if err != nil {
		logger.Fatal("failed to load config tables", zap.Error(err))
	}

	box := crypto.NewBox(config.MasterSecret)
	st, err := store.Open(config.SqlitePath, box)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	cache := store.NewModelConfigCache(st)
	if err := cache.Refresh(); err != nil {
		logger.Fatal("failed to load model configs", zap.Error(err))
	}

	credPool := pool.New(tables)
	if err := st.LoadPool(credPool); err != nil {
		logger.Fatal("failed to seed credential pool", zap.Error(err))
	}

	res := resolver.New(cache, credPool, tables)

	registry := adapter.NewRegistry(map[domain.Provider]adapter.Adapter{
		domain.ProviderOpenAI:    openai.New(),
		domain.ProviderAnthropic: anthropic.New(),
		domain.ProviderGemini:    gemini.New(),
		domain.ProviderDeepSeek:  deepseek.New(),
	})

	sharedClient := httpclient.New()

	breakers := circuitbreaker.NewRegistry(
		config.BreakerFailureThreshold,
		config.BreakerSuccessThreshold,
		time.Duration(config.BreakerRecoveryTimeoutSeconds)*time.Second,
		time.Duration(config.BreakerMaxTimeoutSeconds)*time.Second,
	)

	deps := &server.Deps{
		Resolver:   res,
		Pool:       credPool,
		Adapters:   registry,
		Provider:   providerclient.New(sharedClient),
		Preprocess: preprocess.New(sharedClient),
		Store:      st,
		LogSink:    logsink.New(st, logger),
		Metrics:    metrics.New("modelgate"),
		Breakers:   breakers,
		Health:     health.New(credPool, breakers),
		Logger:     logger,
	}
	defer deps.LogSink.Close()

	reportPoolMetrics(deps, logger)

	router := server.NewRouter(deps)
	httpServer := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", config.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	waitForShutdown(httpServer, logger)
}

// reportPoolMetrics publishes the initial pool-size gauge per provider so
// /metrics reflects reality immediately after boot, before any request has
// been observed.
func reportPoolMetrics(deps *server.Deps, logger *zap.Logger) {
	for _, provider := range deps.Pool.Providers() {
		deps.Metrics.SetPoolSize(string(provider), deps.Pool.Size(provider))
	}
	logger.Debug("initial pool metrics reported")
}

func waitForShutdown(httpServer *http.Server, logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
