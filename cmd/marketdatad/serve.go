package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/venuefeed/internal/config"
	applog "github.com/sawpanic/venuefeed/internal/log"
	"github.com/sawpanic/venuefeed/internal/marketdata/aggregation"
	"github.com/sawpanic/venuefeed/internal/marketdata/bus"
	"github.com/sawpanic/venuefeed/internal/marketdata/cache"
	"github.com/sawpanic/venuefeed/internal/marketdata/chart"
	"github.com/sawpanic/venuefeed/internal/marketdata/coldstore"
	"github.com/sawpanic/venuefeed/internal/marketdata/metrics"
	"github.com/sawpanic/venuefeed/internal/marketdata/model"
	"github.com/sawpanic/venuefeed/internal/marketdata/orderbook"
	"github.com/sawpanic/venuefeed/internal/marketdata/trade"
)

var startupSteps = []string{"config", "cache", "engines", "venues", "http"}

// shutdownGrace bounds graceful shutdown (spec §5): remaining I/O is
// abandoned past this soft timeout.
const shutdownGrace = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	boot := applog.NewStartupLogger(startupSteps)

	boot.StartStep("config")
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			boot.Fail(err.Error())
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	boot.CompleteStep()

	reg := metrics.New()

	boot.StartStep("cache")
	var cacheStore *cache.Store
	if cfg.Redis.Addr != "" {
		cacheStore = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer cacheStore.Close()
	}

	var store chart.ColdStore
	switch cfg.ColdStore.Driver {
	case "postgres":
		boot.Fail("postgres cold store requires a *sqlx.DB")
		return fmt.Errorf("postgres cold store requires a *sqlx.DB built from cfg.ColdStore.DSN; wire it in before deploying")
	default:
		store = coldstore.Noop{}
	}
	boot.CompleteStep()

	eventBus := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eventBus.Start(ctx); err != nil {
		boot.Fail(err.Error())
		return fmt.Errorf("starting bus: %w", err)
	}

	boot.StartStep("engines")
	var obCache orderbook.CacheStore
	var tCache trade.CacheStore
	var aggCache aggregation.CacheStore
	if cacheStore != nil {
		obCache, tCache, aggCache = cacheStore, cacheStore, cacheStore
	}

	p := &pipeline{
		orderbookEngine:       orderbook.New(obCache, eventBus),
		tradeEngine:           trade.New(tCache, eventBus, 2),
		chartEngine:           chart.New(eventBus, store, cfg.CandleBatchSize, cfg.CandleBatchInterval()),
		aggregationEngine:     aggregation.New(eventBus, aggCache, cfg.AggThrottle()),
		aggregatedChartEngine: aggregation.NewChartEngine(eventBus),
		metrics:               reg,
		connected:             make(map[model.Venue]*atomic.Bool),
	}
	p.chartEngine.OnCandleEvent = func(v model.Venue, evt model.CandleEvent) {
		p.aggregatedChartEngine.ProcessCandleEvent(ctx, v, evt)
	}

	p.orderbookEngine.StartWriteThrough(ctx)
	p.tradeEngine.StartMaintenance(ctx)
	p.chartEngine.StartBatchDrain(ctx)
	boot.CompleteStep()

	boot.StartStep("venues")
	adapters := make([]adapterHandle, 0, len(cfg.Venues))
	for _, vStr := range cfg.Venues {
		v := model.Venue(vStr)
		adapter := buildVenueAdapter(v, cfg, p)
		if adapter == nil {
			log.Warn().Str("venue", vStr).Msg("unknown venue in config, skipping")
			continue
		}
		if err := adapter.Subscribe(cfg.Symbols); err != nil {
			log.Warn().Err(err).Str("venue", vStr).Msg("pre-connect subscribe failed")
		}
		if err := adapter.Connect(ctx); err != nil {
			log.Error().Err(err).Str("venue", vStr).Msg("initial connect failed, relying on reconnect loop")
		}
		adapters = append(adapters, adapterHandle{venue: v, adapter: adapter})
	}
	boot.CompleteStep()

	boot.StartStep("http")
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(p))
	mux.Handle("/metrics", reg.Handler())

	server := &http.Server{
		Addr:         metricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", metricsAddr).Msg("metrics/health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	boot.CompleteStep()
	boot.Finish()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("metrics server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	p.chartEngine.ForceCompleteAllCandles(shutdownCtx)

	for _, h := range adapters {
		if err := h.adapter.Disconnect(); err != nil {
			log.Warn().Err(err).Str("venue", string(h.venue)).Msg("error disconnecting venue adapter")
		}
	}

	p.orderbookEngine.Stop()
	p.tradeEngine.Stop()
	p.chartEngine.Stop()

	cancel() // stop the bus and any context-scoped loops

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown error")
	}

	log.Info().Msg("shutdown complete")
	return nil
}

type adapterHandle struct {
	venue   model.Venue
	adapter interface {
		Disconnect() error
	}
}

func healthzHandler(p *pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status string          `json:"status"`
			Venues map[string]bool `json:"venues"`
		}{Status: "ok", Venues: make(map[string]bool)}

		anyConnected := false
		for v, c := range p.connected {
			up := c.Load()
			status.Venues[string(v)] = up
			anyConnected = anyConnected || up
		}
		if !anyConnected && len(p.connected) > 0 {
			status.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
