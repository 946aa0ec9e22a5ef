package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polywatch/engine/internal/store"
)

// HistoryProvider reports a wallet's historical trade count. known is false
// when no value could be obtained at all; the rule then skips the trade.
type HistoryProvider interface {
	TradeCount(ctx context.Context, address string) (count int, known bool)
}

// LowHistoryRule flags large trades placed by wallets with almost no
// trading history. Both boundaries are exclusive: a trade exactly at the
// size threshold, or a wallet exactly at the history threshold, does not
// trigger.
type LowHistoryRule struct {
	largeTradeUSD float64
	threshold     int
	history       HistoryProvider
}

// NewLowHistoryRule creates the rule with the given thresholds.
func NewLowHistoryRule(largeTradeUSD float64, lowHistoryThreshold int, history HistoryProvider) *LowHistoryRule {
	return &LowHistoryRule{
		largeTradeUSD: largeTradeUSD,
		threshold:     lowHistoryThreshold,
		history:       history,
	}
}

func (r *LowHistoryRule) Name() string { return store.AlertLowHistory }

// Analyze checks the trade against both thresholds. The history count is
// looked up before this trade is recorded, so it excludes the current
// trade: a wallet's first-ever trade sees a count of zero.
func (r *LowHistoryRule) Analyze(ctx context.Context, trade store.Trade) (*store.Alert, error) {
	if trade.USDValue <= r.largeTradeUSD {
		return nil, nil
	}
	if trade.WalletAddress == "" {
		return nil, nil
	}

	count, known := r.history.TradeCount(ctx, trade.WalletAddress)
	if !known {
		slog.Debug("low_history_skipped", "tx", trade.TransactionHash, "reason", "history unavailable")
		return nil, nil
	}

	if count >= r.threshold {
		return nil, nil
	}

	return &store.Alert{
		ID:               uuid.NewString(),
		CreatedAt:        time.Now(),
		AlertType:        store.AlertLowHistory,
		WalletAddress:    trade.WalletAddress,
		TradeSizeUSD:     trade.USDValue,
		WalletTradeCount: count,
		MarketID:         trade.MarketID,
		MarketName:       trade.MarketSlug,
		Outcome:          trade.Outcome,
		Side:             trade.Side,
		TransactionHash:  trade.TransactionHash,
		Details: map[string]any{
			"price":      trade.Price,
			"size":       trade.Size,
			"event_slug": trade.EventSlug,
			"pseudonym":  trade.Pseudonym,
		},
	}, nil
}
