// Package main is the entry point for the prediction-market watcher.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/polywatch/engine/internal/alerting"
	"github.com/polywatch/engine/internal/config"
	"github.com/polywatch/engine/internal/detector"
	"github.com/polywatch/engine/internal/ingest"
	"github.com/polywatch/engine/internal/metrics"
	"github.com/polywatch/engine/internal/store"
	"github.com/polywatch/engine/internal/wallet"
)

// statsInterval is how often pipeline stats are logged.
const statsInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Configuration failures are the only fatal errors: exit before any
	// connection is opened.
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("watcher starting", "version", "1.0.0")
	slog.Info("config_loaded",
		"websocket_url", cfg.WebSocketURL,
		"data_api_base", cfg.DataAPIBase,
		"requests_per_minute", cfg.RequestsPerMinute,
		"large_trade_usd", cfg.LargeTradeUSD,
		"low_history_threshold", cfg.LowHistoryThreshold,
		"cache_ttl_hours", cfg.CacheTTLHours,
		"min_volume_usd", cfg.MinVolumeUSD,
		"max_trades_for_concentration", cfg.MaxTradesForConcentration,
		"min_concentration", cfg.MinConcentration,
		"min_trades_for_analysis", cfg.MinTradesForAnalysis,
		"min_profit_factor", cfg.MinProfitFactor,
		"min_win_rate", cfg.MinWinRate,
		"high_frequency_threshold", cfg.HighFrequencyThreshold,
		"db_path", cfg.DBPath,
		"worker_count", cfg.WorkerCount,
	)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracker := metrics.NewTracker()
	sink := alerting.NewLogSink(logger)

	cache := wallet.NewCache(
		wallet.NewDataAPIClient(cfg.DataAPIBase),
		db,
		cfg.CacheTTL(),
		cfg.RequestsPerMinute,
	)

	engine := detector.NewEngine(db, sink, cache, tracker, cfg.WorkerCount, cfg.TradeBuffer)
	engine.Register(detector.NewLowHistoryRule(cfg.LargeTradeUSD, cfg.LowHistoryThreshold, cache))
	engine.Register(detector.NewConcentrationRule(
		cfg.MinVolumeUSD,
		cfg.MaxTradesForConcentration,
		cfg.MinConcentration,
		detector.DefaultMaxTrackedWallets,
	))
	engine.Register(detector.NewProfitableRule(detector.ProfitableConfig{
		MinTradesForAnalysis:   cfg.MinTradesForAnalysis,
		MinProfitFactor:        cfg.MinProfitFactor,
		MinWinRate:             cfg.MinWinRate,
		HighFrequencyThreshold: cfg.HighFrequencyThreshold,
	}))

	tradeChan := make(chan store.Trade, cfg.TradeBuffer)

	engine.Start(ctx, tradeChan)

	listener := ingest.NewListener(cfg.WebSocketURL, tradeChan)
	listener.Start(ctx)
	tracker.SetStreamStatus("connected")

	go logStats(ctx, tracker)

	slog.Info("engine_started",
		"status", "listening for trades",
		"workers", cfg.WorkerCount,
	)

	sig := <-sigChan
	slog.Info("shutdown_signal_received", "signal", sig.String())

	// Stop the feed first so no new trades arrive, then let the engine
	// finish what is in flight.
	slog.Info("shutting_down", "status", "stopping listener")
	listener.Stop()
	tracker.SetStreamStatus("disconnected")

	close(tradeChan)
	engine.Wait()
	cancel()

	snap := tracker.Snapshot()
	slog.Info("shutdown_complete",
		"trades_processed", snap.TradesTotal,
		"alerts", snap.AlertsByType,
		"uptime", snap.Uptime,
	)
}

// logStats periodically logs a pipeline stats snapshot.
func logStats(ctx context.Context, tracker *metrics.Tracker) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := tracker.Snapshot()
			slog.Info("pipeline_stats",
				"trades_total", snap.TradesTotal,
				"trade_rate", snap.TradeRate,
				"alerts", snap.AlertsByType,
				"stream", snap.StreamStatus,
				"uptime", snap.Uptime,
			)
		}
	}
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}
