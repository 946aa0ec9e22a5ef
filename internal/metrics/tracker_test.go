package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()

	for i := 0; i < 5; i++ {
		tr.IncrementTrades()
	}
	tr.IncrementAlert("low_history_large_trade")
	tr.IncrementAlert("low_history_large_trade")
	tr.IncrementAlert("profitable_trader")
	tr.SetStreamStatus("connected")

	snap := tr.Snapshot()
	assert.Equal(t, int64(5), snap.TradesTotal)
	assert.Equal(t, int64(2), snap.AlertsByType["low_history_large_trade"])
	assert.Equal(t, int64(1), snap.AlertsByType["profitable_trader"])
	assert.Equal(t, "connected", snap.StreamStatus)
	assert.Greater(t, snap.TradeRate, 0.0)
}

func TestTrackerSnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	tr.IncrementAlert("concentrated_betting")

	snap := tr.Snapshot()
	snap.AlertsByType["concentrated_betting"] = 99

	assert.Equal(t, int64(1), tr.Snapshot().AlertsByType["concentrated_betting"])
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.IncrementTrades()
				tr.IncrementAlert("profitable_trader")
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	assert.Equal(t, int64(800), snap.TradesTotal)
	assert.Equal(t, int64(800), snap.AlertsByType["profitable_trader"])
}
