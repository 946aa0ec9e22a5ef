package detector

import (
	"container/list"
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polywatch/engine/internal/store"
)

const (
	// concStripes is the number of lock stripes for tracked-wallet state.
	concStripes = 16

	// DefaultMaxTrackedWallets bounds the concentration rule's memory.
	DefaultMaxTrackedWallets = 10000
)

// ConcentrationRule flags wallets pushing large volume through few trades
// concentrated on few markets.
//
// Concentration is measured as the Herfindahl index of per-(market,outcome)
// volume shares: sum over pairs of (pair volume / total volume)^2. A wallet
// betting everything on one market scores 1.0; volume spread evenly over n
// markets scores 1/n.
type ConcentrationRule struct {
	minVolumeUSD     float64
	maxTrades        int
	minConcentration float64

	stripes [concStripes]*concStripe
}

type concStripe struct {
	mu         sync.Mutex
	wallets    map[string]*concSummary
	order      *list.List // front = most recently active
	maxTracked int
}

// concSummary accumulates a wallet's streaming volume profile.
type concSummary struct {
	address string
	volume  float64
	trades  int
	markets map[string]float64 // "market:outcome" -> volume
	alerted bool
	elem    *list.Element
}

// NewConcentrationRule creates the rule. maxTracked bounds the total number
// of wallets held in memory; the least recently active are evicted first.
func NewConcentrationRule(minVolumeUSD float64, maxTrades int, minConcentration float64, maxTracked int) *ConcentrationRule {
	if maxTracked < concStripes {
		maxTracked = concStripes
	}

	r := &ConcentrationRule{
		minVolumeUSD:     minVolumeUSD,
		maxTrades:        maxTrades,
		minConcentration: minConcentration,
	}
	for i := range r.stripes {
		r.stripes[i] = &concStripe{
			wallets:    make(map[string]*concSummary),
			order:      list.New(),
			maxTracked: maxTracked / concStripes,
		}
	}
	return r
}

func (r *ConcentrationRule) Name() string { return store.AlertConcentrated }

// Analyze folds the trade into the wallet's summary and checks the trigger:
// volume above the threshold, trade count still at or below the low-count
// threshold, and concentration above the configured minimum.
func (r *ConcentrationRule) Analyze(_ context.Context, trade store.Trade) (*store.Alert, error) {
	if trade.WalletAddress == "" {
		return nil, nil
	}

	addr := strings.ToLower(trade.WalletAddress)
	stripe := r.stripes[stripeIndex(addr, concStripes)]

	stripe.mu.Lock()
	defer stripe.mu.Unlock()

	s := stripe.touch(addr)
	s.volume += trade.USDValue
	s.trades++
	s.markets[trade.MarketID+":"+trade.Outcome] += trade.USDValue

	if s.alerted {
		return nil, nil
	}
	if s.volume <= r.minVolumeUSD || s.trades > r.maxTrades {
		return nil, nil
	}

	score := herfindahl(s.markets, s.volume)
	if score <= r.minConcentration {
		return nil, nil
	}

	s.alerted = true

	return &store.Alert{
		ID:               uuid.NewString(),
		CreatedAt:        time.Now(),
		AlertType:        store.AlertConcentrated,
		WalletAddress:    trade.WalletAddress,
		TradeSizeUSD:     s.volume,
		WalletTradeCount: s.trades,
		MarketID:         trade.MarketID,
		MarketName:       trade.MarketSlug,
		Outcome:          trade.Outcome,
		Side:             trade.Side,
		TransactionHash:  trade.TransactionHash,
		Details: map[string]any{
			"total_volume":     s.volume,
			"trade_count":      s.trades,
			"distinct_markets": len(s.markets),
			"concentration":    score,
		},
	}, nil
}

// touch returns the summary for addr, creating it (and evicting the least
// recently active wallet if the stripe is full) and marking it most recent.
func (st *concStripe) touch(addr string) *concSummary {
	if s, ok := st.wallets[addr]; ok {
		st.order.MoveToFront(s.elem)
		return s
	}

	if len(st.wallets) >= st.maxTracked {
		if oldest := st.order.Back(); oldest != nil {
			evicted := oldest.Value.(*concSummary)
			st.order.Remove(oldest)
			delete(st.wallets, evicted.address)
		}
	}

	s := &concSummary{
		address: addr,
		markets: make(map[string]float64),
	}
	s.elem = st.order.PushFront(s)
	st.wallets[addr] = s
	return s
}

// herfindahl computes the volume-share Herfindahl index.
func herfindahl(markets map[string]float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	var score float64
	for _, v := range markets {
		share := v / total
		score += share * share
	}
	return score
}

// stripeIndex maps a wallet address to a lock stripe.
func stripeIndex(address string, stripes int) int {
	h := fnv.New32a()
	h.Write([]byte(address))
	return int(h.Sum32() % uint32(stripes))
}
