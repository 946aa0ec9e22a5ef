// Package alerting defines the alert sink contract and a structured-log
// implementation of it.
package alerting

import (
	"log/slog"

	"github.com/polywatch/engine/internal/store"
)

// Sink consumes the engine's alert stream. Delivery is fire-and-forget;
// no response is expected back.
type Sink interface {
	Deliver(alert store.Alert)
}

// LogSink writes each alert as a structured log record. External
// formatters (files, dashboards) consume from here or from the alerts
// table directly.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to the given logger, or the default
// logger when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the alert at warn level with its evidence attached.
func (s *LogSink) Deliver(alert store.Alert) {
	s.logger.Warn("anomaly_detected",
		"alert_id", alert.ID,
		"type", alert.AlertType,
		"wallet", alert.WalletAddress,
		"trade_size_usd", alert.TradeSizeUSD,
		"wallet_trade_count", alert.WalletTradeCount,
		"market", alert.MarketName,
		"outcome", alert.Outcome,
		"side", alert.Side,
		"tx", alert.TransactionHash,
		"details", alert.Details,
	)
}
