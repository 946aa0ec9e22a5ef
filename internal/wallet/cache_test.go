package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polywatch/engine/internal/store"
)

// fakeHistoryClient is a scripted HistoryClient.
type fakeHistoryClient struct {
	mu    sync.Mutex
	count int
	err   error
	calls int
}

func (f *fakeHistoryClient) TradeCount(ctx context.Context, address string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func (f *fakeHistoryClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memStore is an in-memory CacheStore.
type memStore struct {
	mu   sync.Mutex
	rows map[string]store.CachedWallet
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]store.CachedWallet)}
}

func (m *memStore) GetCachedWallet(ctx context.Context, address string) (*store.CachedWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[address]; ok {
		copied := row
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) UpsertWalletCache(ctx context.Context, w store.CachedWallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[w.Address] = w
	return nil
}

func drainLimiter(c *Cache) {
	for i := 0; i < 2*refreshBurst; i++ {
		if !c.limiter.Allow() {
			return
		}
	}
}

func TestFreshEntrySkipsLookup(t *testing.T) {
	client := &fakeHistoryClient{count: 42}
	c := NewCache(client, newMemStore(), 24*time.Hour, 60)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.entries["0xw"] = &store.CachedWallet{Address: "0xw", TradeCount: 7, LastUpdated: t0}
	c.now = func() time.Time { return t0.Add(23*time.Hour + 59*time.Minute) }

	count, known := c.TradeCount(context.Background(), "0xW")
	assert.True(t, known)
	assert.Equal(t, 7, count)
	assert.Equal(t, 0, client.callCount())
}

func TestStaleEntryRefreshes(t *testing.T) {
	client := &fakeHistoryClient{count: 42}
	backing := newMemStore()
	c := NewCache(client, backing, 24*time.Hour, 60)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.entries["0xw"] = &store.CachedWallet{Address: "0xw", TradeCount: 7, LastUpdated: t0}
	now := t0.Add(24*time.Hour + 1*time.Minute)
	c.now = func() time.Time { return now }

	count, known := c.TradeCount(context.Background(), "0xw")
	assert.True(t, known)
	assert.Equal(t, 42, count)
	assert.Equal(t, 1, client.callCount())

	// The refresh was upserted to the backing store with a new timestamp.
	row, err := backing.GetCachedWallet(context.Background(), "0xw")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 42, row.TradeCount)
	assert.True(t, row.LastUpdated.Equal(now))
}

func TestRateDeniedServesStale(t *testing.T) {
	client := &fakeHistoryClient{count: 42}
	c := NewCache(client, newMemStore(), 24*time.Hour, 1)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.entries["0xw"] = &store.CachedWallet{Address: "0xw", TradeCount: 7, LastUpdated: t0}
	c.now = func() time.Time { return t0.Add(48 * time.Hour) }

	drainLimiter(c)

	count, known := c.TradeCount(context.Background(), "0xw")
	assert.True(t, known)
	assert.Equal(t, 7, count, "stale value served, never silently zero")
}

func TestRateDeniedUnknownWalletTreatedAsZero(t *testing.T) {
	client := &fakeHistoryClient{count: 42}
	c := NewCache(client, newMemStore(), 24*time.Hour, 1)

	drainLimiter(c)

	count, known := c.TradeCount(context.Background(), "0xnew")
	assert.True(t, known, "unknown history must not suppress a potential anomaly")
	assert.Equal(t, 0, count)
}

func TestLookupFailureKeepsStale(t *testing.T) {
	client := &fakeHistoryClient{err: errors.New("connection refused")}
	c := NewCache(client, newMemStore(), 24*time.Hour, 60)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.entries["0xw"] = &store.CachedWallet{Address: "0xw", TradeCount: 7, LastUpdated: t0}
	c.now = func() time.Time { return t0.Add(48 * time.Hour) }

	count, known := c.TradeCount(context.Background(), "0xw")
	assert.True(t, known)
	assert.Equal(t, 7, count)
}

func TestLookupFailureWithoutValueIsUnknown(t *testing.T) {
	client := &fakeHistoryClient{err: errors.New("connection refused")}
	c := NewCache(client, newMemStore(), 24*time.Hour, 60)

	_, known := c.TradeCount(context.Background(), "0xnew")
	assert.False(t, known, "rule should skip this trade")
}

func TestWarmsFromBackingStore(t *testing.T) {
	client := &fakeHistoryClient{count: 42}
	backing := newMemStore()
	c := NewCache(client, backing, 24*time.Hour, 60)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, backing.UpsertWalletCache(context.Background(), store.CachedWallet{
		Address:     "0xw",
		TradeCount:  9,
		LastUpdated: t0,
	}))
	c.now = func() time.Time { return t0.Add(time.Hour) }

	count, known := c.TradeCount(context.Background(), "0xw")
	assert.True(t, known)
	assert.Equal(t, 9, count)
	assert.Equal(t, 0, client.callCount())
}

func TestRecordTradeIncrementsWithoutRefreshing(t *testing.T) {
	client := &fakeHistoryClient{count: 42}
	backing := newMemStore()
	c := NewCache(client, backing, 24*time.Hour, 60)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.entries["0xw"] = &store.CachedWallet{Address: "0xw", TradeCount: 7, LastUpdated: t0}
	c.now = func() time.Time { return t0.Add(time.Hour) }

	c.RecordTrade(context.Background(), "0xW")

	count, known := c.TradeCount(context.Background(), "0xw")
	assert.True(t, known)
	assert.Equal(t, 8, count)

	row, err := backing.GetCachedWallet(context.Background(), "0xw")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 8, row.TradeCount)
	assert.True(t, row.LastUpdated.Equal(t0), "an increment is not a refresh")
}
