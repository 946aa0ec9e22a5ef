package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS wallet_cache (
	address TEXT PRIMARY KEY,
	trade_count INTEGER NOT NULL,
	last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	alert_type TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	trade_size_usd REAL NOT NULL,
	wallet_trade_count INTEGER,
	market_id TEXT,
	market_name TEXT,
	outcome TEXT,
	side TEXT,
	transaction_hash TEXT,
	details TEXT
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_hash TEXT UNIQUE,
	wallet_address TEXT NOT NULL,
	market_id TEXT,
	market_slug TEXT,
	outcome TEXT,
	side TEXT,
	size REAL NOT NULL,
	price REAL NOT NULL,
	usd_value REAL NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_wallet_cache_last_updated ON wallet_cache(last_updated);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_wallet ON alerts(wallet_address);
CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet_address);
CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
`

// Store wraps SQLite persistence for trades, alerts, and the wallet cache.
// Writes are performed by the engine and cache; the offline analyzer reads
// the same file, so every write is a single atomic statement.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("store: db path is empty")
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// modernc sqlite does not support concurrent writers on one handle.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	s := &Store{db: db}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTrade appends a trade row. Duplicate transaction hashes are ignored
// so a reconnect replaying a trade is harmless.
func (s *Store) SaveTrade(ctx context.Context, t Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trades (
			transaction_hash, wallet_address, market_id, market_slug,
			outcome, side, size, price, usd_value, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TransactionHash,
		strings.ToLower(t.WalletAddress),
		t.MarketID,
		t.MarketSlug,
		t.Outcome,
		t.Side,
		t.Size,
		t.Price,
		t.USDValue,
		t.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: save trade: %w", err)
	}
	return nil
}

// SaveAlert appends an alert row.
func (s *Store) SaveAlert(ctx context.Context, a Alert) error {
	var details any
	if len(a.Details) > 0 {
		raw, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("store: marshal alert details: %w", err)
		}
		details = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (
			id, created_at, alert_type, wallet_address, trade_size_usd,
			wallet_trade_count, market_id, market_name, outcome, side,
			transaction_hash, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.AlertType,
		strings.ToLower(a.WalletAddress),
		a.TradeSizeUSD,
		a.WalletTradeCount,
		a.MarketID,
		a.MarketName,
		a.Outcome,
		a.Side,
		a.TransactionHash,
		details,
	)
	if err != nil {
		return fmt.Errorf("store: save alert: %w", err)
	}
	return nil
}

// UpsertWalletCache writes a wallet_cache row, replacing any existing entry.
func (s *Store) UpsertWalletCache(ctx context.Context, w CachedWallet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallet_cache (address, trade_count, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			trade_count = excluded.trade_count,
			last_updated = excluded.last_updated`,
		strings.ToLower(w.Address),
		w.TradeCount,
		w.LastUpdated.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: upsert wallet cache: %w", err)
	}
	return nil
}

// GetCachedWallet returns the wallet_cache row for an address, if present.
func (s *Store) GetCachedWallet(ctx context.Context, address string) (*CachedWallet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, trade_count, last_updated FROM wallet_cache WHERE address = ?`,
		strings.ToLower(address),
	)

	var w CachedWallet
	var updated string
	if err := row.Scan(&w.Address, &w.TradeCount, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get cached wallet: %w", err)
	}

	t, err := time.Parse(time.RFC3339, updated)
	if err != nil {
		return nil, fmt.Errorf("store: parse last_updated: %w", err)
	}
	w.LastUpdated = t

	return &w, nil
}

// RecentAlerts returns the most recent alerts, newest first. Consumed by
// the offline analyzer; the engine never reads alerts back.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, alert_type, wallet_address, trade_size_usd,
			wallet_trade_count, market_id, market_name, outcome, side,
			transaction_hash, details
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var created string
		var details sql.NullString
		if err := rows.Scan(
			&a.ID, &created, &a.AlertType, &a.WalletAddress, &a.TradeSizeUSD,
			&a.WalletTradeCount, &a.MarketID, &a.MarketName, &a.Outcome,
			&a.Side, &a.TransactionHash, &details,
		); err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			a.CreatedAt = t
		}
		if details.Valid {
			_ = json.Unmarshal([]byte(details.String), &a.Details)
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// WalletTradeCount counts locally observed trades for a wallet.
func (s *Store) WalletTradeCount(ctx context.Context, address string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE wallet_address = ?`,
		strings.ToLower(address),
	)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("store: wallet trade count: %w", err)
	}
	return count, nil
}
