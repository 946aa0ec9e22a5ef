package wallet

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/polywatch/engine/internal/store"
)

// refreshBurst is the token-bucket burst for Data API lookups.
const refreshBurst = 5

// asyncRefreshTimeout bounds a background refresh, including the wait for
// a rate token.
const asyncRefreshTimeout = 2 * time.Minute

// CacheStore is the subset of the persistence store the cache writes to.
type CacheStore interface {
	GetCachedWallet(ctx context.Context, address string) (*store.CachedWallet, error)
	UpsertWalletCache(ctx context.Context, w store.CachedWallet) error
}

// Cache is a TTL-bounded, rate-limited view of wallet trade counts.
//
// Lookups never block trade processing on the rate budget: when the limiter
// denies a refresh, a stale entry is served as-is and refreshed in the
// background; a wallet with no entry at all is reported as zero history so
// that an unknown wallet cannot suppress a potential anomaly.
type Cache struct {
	client  HistoryClient
	backing CacheStore
	ttl     time.Duration
	limiter *rate.Limiter

	mu         sync.Mutex
	entries    map[string]*store.CachedWallet
	refreshing map[string]bool

	// now is swapped out in tests.
	now func() time.Time
}

// NewCache creates a cache limited to requestsPerMinute external lookups.
func NewCache(client HistoryClient, backing CacheStore, ttl time.Duration, requestsPerMinute int) *Cache {
	return &Cache{
		client:     client,
		backing:    backing,
		ttl:        ttl,
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), refreshBurst),
		entries:    make(map[string]*store.CachedWallet),
		refreshing: make(map[string]bool),
		now:        time.Now,
	}
}

// TradeCount returns the wallet's historical trade count. known is false
// only when no cached value exists and the lookup failed; callers should
// skip history-based checks for that trade rather than abort processing.
func (c *Cache) TradeCount(ctx context.Context, address string) (count int, known bool) {
	addr := strings.ToLower(address)

	entry := c.lookup(ctx, addr)
	if entry != nil && entry.Fresh(c.now(), c.ttl) {
		return entry.TradeCount, true
	}

	if !c.limiter.Allow() {
		if entry != nil {
			// Serve the stale value and refresh off the hot path.
			c.scheduleRefresh(addr)
			return entry.TradeCount, true
		}
		// No value at all: treated as zero history so rate exhaustion
		// cannot suppress an alert on a genuinely unseen wallet.
		slog.Debug("wallet_lookup_budget_exhausted", "wallet", addr)
		return 0, true
	}

	fetched, err := c.client.TradeCount(ctx, addr)
	if err != nil {
		slog.Warn("wallet_lookup_failed", "wallet", addr, "error", err)
		if entry != nil {
			return entry.TradeCount, true
		}
		return 0, false
	}

	c.storeEntry(ctx, addr, fetched)
	return fetched, true
}

// RecordTrade increments the cached count for a wallet after the engine has
// finished processing one of its trades. The refresh timestamp is left
// untouched; only a Data API refresh restores freshness.
func (c *Cache) RecordTrade(ctx context.Context, address string) {
	addr := strings.ToLower(address)

	c.mu.Lock()
	entry, ok := c.entries[addr]
	if !ok {
		c.mu.Unlock()
		return
	}
	entry.TradeCount++
	snapshot := *entry
	c.mu.Unlock()

	if err := c.backing.UpsertWalletCache(ctx, snapshot); err != nil {
		slog.Warn("wallet_cache_upsert_failed", "wallet", addr, "error", err)
	}
}

// lookup returns the in-memory entry, warming it from the backing store on
// first sight of a wallet.
func (c *Cache) lookup(ctx context.Context, addr string) *store.CachedWallet {
	c.mu.Lock()
	entry, ok := c.entries[addr]
	c.mu.Unlock()
	if ok {
		return entry
	}

	row, err := c.backing.GetCachedWallet(ctx, addr)
	if err != nil {
		slog.Warn("wallet_cache_read_failed", "wallet", addr, "error", err)
		return nil
	}
	if row == nil {
		return nil
	}

	c.mu.Lock()
	// Another worker may have won the race; keep whichever is newer.
	if existing, ok := c.entries[addr]; ok && existing.LastUpdated.After(row.LastUpdated) {
		row = existing
	} else {
		c.entries[addr] = row
	}
	c.mu.Unlock()

	return row
}

// storeEntry records a refresh result in memory and the backing store.
func (c *Cache) storeEntry(ctx context.Context, addr string, count int) {
	entry := &store.CachedWallet{
		Address:     addr,
		TradeCount:  count,
		LastUpdated: c.now(),
	}

	c.mu.Lock()
	c.entries[addr] = entry
	c.mu.Unlock()

	if err := c.backing.UpsertWalletCache(ctx, *entry); err != nil {
		slog.Warn("wallet_cache_upsert_failed", "wallet", addr, "error", err)
	}
}

// scheduleRefresh starts a background refresh for addr unless one is
// already in flight. The refresh waits for a rate token instead of
// consuming the budget the hot path competes for.
func (c *Cache) scheduleRefresh(addr string) {
	c.mu.Lock()
	if c.refreshing[addr] {
		c.mu.Unlock()
		return
	}
	c.refreshing[addr] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, addr)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), asyncRefreshTimeout)
		defer cancel()

		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		count, err := c.client.TradeCount(ctx, addr)
		if err != nil {
			slog.Debug("wallet_refresh_failed", "wallet", addr, "error", err)
			return
		}

		c.storeEntry(ctx, addr, count)
		slog.Debug("wallet_refreshed", "wallet", addr, "trade_count", count)
	}()
}
