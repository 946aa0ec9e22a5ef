package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polywatch/engine/internal/store"
)

func tradeMessage(tx string) string {
	return fmt.Sprintf(`{
		"topic": "activity",
		"type": "trades",
		"payload": {
			"conditionId": "0xcond",
			"price": 0.5,
			"side": "BUY",
			"size": 10,
			"timestamp": 1700000000,
			"outcome": "Yes",
			"slug": "test-market",
			"transactionHash": %q,
			"proxyWallet": "0xwallet"
		}
	}`, tx)
}

// TestListenerReconnects drops the first connection after one trade and
// verifies the listener reconnects exactly once after the configured delay
// and keeps delivering trades, without treating the post-reconnect trade as
// a duplicate.
func TestListenerReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}

	var mu sync.Mutex
	connCount := 0
	subscribed := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		// First inbound message must be the subscription request.
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if strings.Contains(string(msg), `"topic":"activity"`) {
			mu.Lock()
			subscribed++
			mu.Unlock()
		}

		conn.WriteMessage(websocket.TextMessage, []byte(tradeMessage(fmt.Sprintf("0xtx%d", n))))

		if n == 1 {
			// Simulated disconnect.
			return
		}

		// Hold the second connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	tradeChan := make(chan store.Trade, 10)
	listener := NewListener(wsURL, tradeChan)
	listener.SetReconnectDelay(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener.Start(ctx)

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case trade := <-tradeChan:
			got = append(got, trade.TransactionHash)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for trade %d", i+1)
		}
	}

	cancel()
	listener.Stop()

	require.Equal(t, []string{"0xtx1", "0xtx2"}, got)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, connCount, "expected exactly one reconnection")
	assert.Equal(t, 2, subscribed, "expected a subscription per connection")
}

// TestListenerStopWhileWaiting verifies the reconnect wait observes Stop
// promptly instead of only between retries.
func TestListenerStopWhileWaiting(t *testing.T) {
	// Nothing listens on this address; the listener will sit in its
	// reconnect wait.
	tradeChan := make(chan store.Trade, 1)
	listener := NewListener("ws://127.0.0.1:1", tradeChan)
	listener.SetReconnectDelay(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		listener.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the reconnect wait")
	}
}
