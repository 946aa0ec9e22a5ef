// Package detector applies stateful rules to the trade stream and emits
// alerts for wallets matching insider-trading heuristics.
package detector

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/polywatch/engine/internal/alerting"
	"github.com/polywatch/engine/internal/metrics"
	"github.com/polywatch/engine/internal/store"
)

// Rule is a single detection heuristic. Analyze returns a non-nil alert
// when the trade (combined with the rule's accumulated state) matches.
type Rule interface {
	Name() string
	Analyze(ctx context.Context, trade store.Trade) (*store.Alert, error)
}

// TradeStore is the subset of the persistence store the engine writes to.
type TradeStore interface {
	SaveTrade(ctx context.Context, t store.Trade) error
	SaveAlert(ctx context.Context, a store.Alert) error
}

// TradeRecorder is notified after a trade has been fully processed, so
// history lookups during rule evaluation exclude the current trade.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, address string)
}

// Engine orchestrates rule evaluation per trade.
//
// Trades are partitioned onto workers by wallet-address hash: trades of the
// same wallet are strictly serialized in arrival order, trades of distinct
// wallets run in parallel. The engine itself owns no per-wallet state.
type Engine struct {
	rules    []Rule
	store    TradeStore
	sink     alerting.Sink
	recorder TradeRecorder
	tracker  *metrics.Tracker

	workers int
	shards  []chan store.Trade
	wg      sync.WaitGroup
}

// NewEngine creates an engine with the given worker count and per-worker
// queue depth. recorder may be nil.
func NewEngine(ts TradeStore, sink alerting.Sink, recorder TradeRecorder, tracker *metrics.Tracker, workers, buffer int) *Engine {
	if workers < 1 {
		workers = 1
	}

	shards := make([]chan store.Trade, workers)
	for i := range shards {
		shards[i] = make(chan store.Trade, buffer)
	}

	return &Engine{
		store:    ts,
		sink:     sink,
		recorder: recorder,
		tracker:  tracker,
		workers:  workers,
		shards:   shards,
	}
}

// Register appends a rule. Rules run in registration order for every trade.
func (e *Engine) Register(r Rule) {
	e.rules = append(e.rules, r)
	slog.Info("rule_registered", "rule", r.Name())
}

// Start launches the dispatcher and workers, consuming trades from in
// until the context is cancelled or in is closed.
func (e *Engine) Start(ctx context.Context, in <-chan store.Trade) {
	for i := range e.shards {
		e.wg.Add(1)
		go e.worker(i)
	}

	e.wg.Add(1)
	go e.dispatch(ctx, in)
}

// Wait blocks until all in-flight trades have finished processing after
// Start's context is cancelled or its input channel closed.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// dispatch routes each trade to the worker owning its wallet.
func (e *Engine) dispatch(ctx context.Context, in <-chan store.Trade) {
	defer e.wg.Done()
	defer func() {
		for _, ch := range e.shards {
			close(ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-in:
			if !ok {
				return
			}
			shard := walletShard(trade.WalletAddress, e.workers)
			select {
			case e.shards[shard] <- trade:
			case <-ctx.Done():
				return
			}
		}
	}
}

// worker drains its shard channel. It keeps processing after cancellation
// until the channel is closed, so the in-flight trade always finishes with
// no partially-applied rule state.
func (e *Engine) worker(id int) {
	defer e.wg.Done()

	slog.Debug("worker_started", "id", id)
	defer slog.Debug("worker_stopped", "id", id)

	for trade := range e.shards[id] {
		e.processTrade(context.Background(), trade)
	}
}

// processTrade runs one trade through persistence and every rule.
// A failing rule is logged and does not prevent the remaining rules from
// running; a failing write is logged and processing continues.
func (e *Engine) processTrade(ctx context.Context, trade store.Trade) {
	e.tracker.IncrementTrades()

	if err := e.store.SaveTrade(ctx, trade); err != nil {
		slog.Warn("trade_persist_failed", "tx", trade.TransactionHash, "error", err)
	}

	for _, rule := range e.rules {
		alert, err := e.analyze(ctx, rule, trade)
		if err != nil {
			slog.Error("rule_failed", "rule", rule.Name(), "tx", trade.TransactionHash, "error", err)
			continue
		}
		if alert == nil {
			continue
		}

		e.tracker.IncrementAlert(alert.AlertType)

		if err := e.store.SaveAlert(ctx, *alert); err != nil {
			slog.Warn("alert_persist_failed", "alert", alert.ID, "error", err)
		}

		e.sink.Deliver(*alert)
	}

	if e.recorder != nil && trade.WalletAddress != "" {
		e.recorder.RecordTrade(ctx, trade.WalletAddress)
	}
}

// analyze invokes a rule with panic isolation.
func (e *Engine) analyze(ctx context.Context, rule Rule, trade store.Trade) (alert *store.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alert = nil
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()

	return rule.Analyze(ctx, trade)
}

// walletShard maps a wallet address to a worker index.
func walletShard(address string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(address)))
	return int(h.Sum32() % uint32(workers))
}
