package detector

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polywatch/engine/internal/store"
)

// maxTimestampHistory caps the per-wallet timestamp window used for
// frequency estimation. The oldest entries are trimmed first; realized
// P&L and won/lost counters are running totals and are never rewritten.
const maxTimestampHistory = 1000

// ProfitableConfig holds the profitable-trader rule thresholds.
type ProfitableConfig struct {
	MinTradesForAnalysis   int
	MinProfitFactor        float64
	MinWinRate             float64
	HighFrequencyThreshold float64
}

// ProfitableRule flags wallets whose realized results look too good:
// at least two of {win rate, profit factor, trading frequency} above their
// thresholds once enough trades have been observed.
//
// P&L uses average-cost accounting per (market, outcome): buys update the
// average cost basis, sells realize (exit price - average cost) * closed
// size. A wallet is flagged at most once per process lifetime.
type ProfitableRule struct {
	cfg ProfitableConfig

	stripes [concStripes]*profStripe
}

type profStripe struct {
	mu      sync.Mutex
	wallets map[string]*walletLedger
}

// walletLedger is the accumulated position state for one wallet.
type walletLedger struct {
	timestamps []time.Time
	trades     int

	positions map[string]*positionLot // "market:outcome" -> open lot

	realizedPnL float64
	grossGain   float64
	grossLoss   float64
	wins        int
	losses      int

	alerted bool
}

// positionLot is the open exposure in one (market, outcome).
type positionLot struct {
	size    float64
	avgCost float64
}

// NewProfitableRule creates the rule.
func NewProfitableRule(cfg ProfitableConfig) *ProfitableRule {
	r := &ProfitableRule{cfg: cfg}
	for i := range r.stripes {
		r.stripes[i] = &profStripe{wallets: make(map[string]*walletLedger)}
	}
	return r
}

func (r *ProfitableRule) Name() string { return store.AlertProfitable }

// Analyze folds the trade into the wallet's ledger, then evaluates the
// three signals once the wallet has enough history.
func (r *ProfitableRule) Analyze(_ context.Context, trade store.Trade) (*store.Alert, error) {
	if trade.WalletAddress == "" {
		return nil, nil
	}

	addr := strings.ToLower(trade.WalletAddress)
	stripe := r.stripes[stripeIndex(addr, concStripes)]

	stripe.mu.Lock()
	defer stripe.mu.Unlock()

	w, ok := stripe.wallets[addr]
	if !ok {
		w = &walletLedger{positions: make(map[string]*positionLot)}
		stripe.wallets[addr] = w
	}

	w.trades++
	w.timestamps = append(w.timestamps, trade.Timestamp)
	if len(w.timestamps) > maxTimestampHistory {
		w.timestamps = w.timestamps[len(w.timestamps)-maxTimestampHistory:]
	}

	w.applyTrade(trade)

	if w.trades < r.cfg.MinTradesForAnalysis || w.alerted {
		return nil, nil
	}

	winRate := w.winRate()
	profitFactor, unboundedPF := w.profitFactor()
	frequency := w.tradesPerDay()

	signals := 0
	if winRate > r.cfg.MinWinRate {
		signals++
	}
	if unboundedPF || profitFactor > r.cfg.MinProfitFactor {
		signals++
	}
	if frequency > r.cfg.HighFrequencyThreshold {
		signals++
	}

	if signals < 2 {
		return nil, nil
	}

	w.alerted = true

	pfEvidence := any(profitFactor)
	if unboundedPF {
		pfEvidence = "inf"
	}

	return &store.Alert{
		ID:               uuid.NewString(),
		CreatedAt:        time.Now(),
		AlertType:        store.AlertProfitable,
		WalletAddress:    trade.WalletAddress,
		TradeSizeUSD:     trade.USDValue,
		WalletTradeCount: w.trades,
		MarketID:         trade.MarketID,
		MarketName:       trade.MarketSlug,
		Outcome:          trade.Outcome,
		Side:             trade.Side,
		TransactionHash:  trade.TransactionHash,
		Details: map[string]any{
			"win_rate":       winRate,
			"profit_factor":  pfEvidence,
			"trades_per_day": frequency,
			"realized_pnl":   w.realizedPnL,
			"wins":           w.wins,
			"losses":         w.losses,
		},
	}, nil
}

// applyTrade updates the wallet's open lots and realized totals.
func (w *walletLedger) applyTrade(trade store.Trade) {
	key := trade.MarketID + ":" + trade.Outcome

	switch trade.Side {
	case "BUY":
		lot, ok := w.positions[key]
		if !ok {
			lot = &positionLot{}
			w.positions[key] = lot
		}
		newSize := lot.size + trade.Size
		lot.avgCost = (lot.avgCost*lot.size + trade.Price*trade.Size) / newSize
		lot.size = newSize

	case "SELL":
		lot, ok := w.positions[key]
		if !ok || lot.size <= 0 {
			// Sell with no tracked exposure: position predates the
			// session, nothing to realize against.
			return
		}

		closed := trade.Size
		if closed > lot.size {
			closed = lot.size
		}

		pnl := (trade.Price - lot.avgCost) * closed
		w.realizedPnL += pnl
		switch {
		case pnl > 0:
			w.grossGain += pnl
			w.wins++
		case pnl < 0:
			w.grossLoss += -pnl
			w.losses++
		}

		lot.size -= closed
		if lot.size <= 0 {
			delete(w.positions, key)
		}
	}
}

func (w *walletLedger) winRate() float64 {
	total := w.wins + w.losses
	if total == 0 {
		return 0
	}
	return float64(w.wins) / float64(total)
}

// profitFactor returns gross gains over gross losses. With no realized
// losses and positive gains the factor is unbounded, which satisfies any
// threshold.
func (w *walletLedger) profitFactor() (factor float64, unbounded bool) {
	if w.grossLoss > 0 {
		return w.grossGain / w.grossLoss, false
	}
	return 0, w.grossGain > 0
}

// tradesPerDay estimates frequency over the retained timestamp window,
// never dividing by less than one day of observation.
func (w *walletLedger) tradesPerDay() float64 {
	if len(w.timestamps) == 0 {
		return 0
	}

	days := w.timestamps[len(w.timestamps)-1].Sub(w.timestamps[0]).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(len(w.timestamps)) / days
}
