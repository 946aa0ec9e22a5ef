// Package store provides data models and SQLite persistence.
package store

import "time"

// Trade represents a single trade event from the real-time data stream.
type Trade struct {
	// TransactionHash is the on-chain transaction hash (unique per trade)
	TransactionHash string

	// WalletAddress is the trader's proxy wallet address
	WalletAddress string

	// MarketID is the market condition ID
	MarketID string

	// MarketSlug is the human-readable market slug
	MarketSlug string

	// EventSlug is the parent event slug
	EventSlug string

	// Outcome is the human-readable outcome label (e.g. "Yes")
	Outcome string

	// Side is BUY or SELL
	Side string

	// Price is the execution price (0-1 range for prediction markets)
	Price float64

	// Size is the number of shares traded
	Size float64

	// USDValue is price * size
	USDValue float64

	// Timestamp is when the trade occurred
	Timestamp time.Time

	// Pseudonym is the trader's display name, if any
	Pseudonym string
}

// Alert types emitted by the detection rules.
const (
	AlertLowHistory   = "low_history_large_trade"
	AlertConcentrated = "concentrated_betting"
	AlertProfitable   = "profitable_trader"
)

// Alert is an anomaly detection record. It is created once by a rule,
// persisted once, and immutable thereafter.
type Alert struct {
	ID               string
	CreatedAt        time.Time
	AlertType        string
	WalletAddress    string
	TradeSizeUSD     float64
	WalletTradeCount int
	MarketID         string
	MarketName       string
	Outcome          string
	Side             string
	TransactionHash  string

	// Details holds rule-specific evidence metrics.
	Details map[string]any
}

// CachedWallet is a wallet_cache row: the wallet's historical trade count
// and when it was last refreshed from the Data API.
type CachedWallet struct {
	Address     string
	TradeCount  int
	LastUpdated time.Time
}

// Fresh reports whether the entry is within the given TTL as of now.
func (c CachedWallet) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.LastUpdated) <= ttl
}
