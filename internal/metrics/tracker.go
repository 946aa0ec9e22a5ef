// Package metrics provides in-memory pipeline statistics.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of pipeline stats.
type Snapshot struct {
	TradesTotal  int64
	AlertsByType map[string]int64
	TradeRate    float64 // trades per second over the last minute
	Uptime       time.Duration
	StreamStatus string
}

// Tracker provides thread-safe pipeline stats tracking.
type Tracker struct {
	mu              sync.RWMutex
	tradesTotal     int64
	alertsByType    map[string]int64
	tradeTimestamps []time.Time
	startTime       time.Time
	streamStatus    string
}

// NewTracker creates a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		alertsByType:    make(map[string]int64),
		tradeTimestamps: make([]time.Time, 0, 1000),
		startTime:       time.Now(),
		streamStatus:    "disconnected",
	}
}

// IncrementTrades increments the processed-trade counter.
func (t *Tracker) IncrementTrades() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tradesTotal++
	now := time.Now()
	t.tradeTimestamps = append(t.tradeTimestamps, now)

	// Keep only the last 60 seconds of timestamps.
	cutoff := now.Add(-60 * time.Second)
	validIdx := 0
	for i, ts := range t.tradeTimestamps {
		if ts.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx > 0 {
		t.tradeTimestamps = t.tradeTimestamps[validIdx:]
	}
}

// IncrementAlert increments the counter for an alert type.
func (t *Tracker) IncrementAlert(alertType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alertsByType[alertType]++
}

// SetStreamStatus records the WebSocket connection status.
func (t *Tracker) SetStreamStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamStatus = status
}

// Snapshot returns a point-in-time copy of the stats.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tradeRate := 0.0
	if len(t.tradeTimestamps) > 0 {
		duration := time.Since(t.tradeTimestamps[0]).Seconds()
		if duration > 0 {
			tradeRate = float64(len(t.tradeTimestamps)) / duration
		}
	}

	alertsCopy := make(map[string]int64, len(t.alertsByType))
	for k, v := range t.alertsByType {
		alertsCopy[k] = v
	}

	return Snapshot{
		TradesTotal:  t.tradesTotal,
		AlertsByType: alertsCopy,
		TradeRate:    tradeRate,
		Uptime:       time.Since(t.startTime),
		StreamStatus: t.streamStatus,
	}
}
