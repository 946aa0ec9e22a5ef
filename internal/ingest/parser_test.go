package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTradeMessage(t *testing.T) {
	raw := []byte(`{
		"topic": "activity",
		"type": "trades",
		"payload": {
			"asset": "123456",
			"conditionId": "0xcond",
			"price": 0.45,
			"side": "BUY",
			"size": 100.5,
			"timestamp": 1700000000,
			"outcome": "Yes",
			"slug": "will-btc-100k",
			"eventSlug": "crypto",
			"transactionHash": "0xabc",
			"proxyWallet": "0xWallet",
			"pseudonym": "trader-1",
			"someNewField": "ignored"
		}
	}`)

	trade, msgType, err := ParseMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, "trades", msgType)

	assert.Equal(t, "0xabc", trade.TransactionHash)
	assert.Equal(t, "0xWallet", trade.WalletAddress)
	assert.Equal(t, "0xcond", trade.MarketID)
	assert.Equal(t, "will-btc-100k", trade.MarketSlug)
	assert.Equal(t, "Yes", trade.Outcome)
	assert.Equal(t, "BUY", trade.Side)
	assert.Equal(t, 0.45, trade.Price)
	assert.Equal(t, 100.5, trade.Size)
	assert.InDelta(t, 45.225, trade.USDValue, 1e-9)
	assert.Equal(t, time.Unix(1700000000, 0), trade.Timestamp)
}

func TestParseQuotedNumerics(t *testing.T) {
	raw := []byte(`{
		"topic": "activity",
		"type": "trades",
		"payload": {
			"price": "0.5",
			"size": "200",
			"timestamp": "1700000000000",
			"transactionHash": "0xdef",
			"proxyWallet": "0xw"
		}
	}`)

	trade, _, err := ParseMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, 0.5, trade.Price)
	assert.Equal(t, 100.0, trade.USDValue)
	assert.Equal(t, time.UnixMilli(1700000000000), trade.Timestamp)
}

func TestParseNonTradeMessage(t *testing.T) {
	trade, msgType, err := ParseMessage([]byte(`{"topic":"comments","type":"comment_created"}`))
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Equal(t, "comment_created", msgType)
}

func TestParseMalformedMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"missing wallet", `{"topic":"activity","type":"trades","payload":{"price":0.5,"size":10,"transactionHash":"0x1"}}`},
		{"missing tx hash", `{"topic":"activity","type":"trades","payload":{"price":0.5,"size":10,"proxyWallet":"0xw"}}`},
		{"zero size", `{"topic":"activity","type":"trades","payload":{"price":0.5,"size":0,"transactionHash":"0x1","proxyWallet":"0xw"}}`},
		{"garbage price", `{"topic":"activity","type":"trades","payload":{"price":"abc","size":10,"transactionHash":"0x1","proxyWallet":"0xw"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade, _, err := ParseMessage([]byte(tc.raw))
			assert.Error(t, err)
			assert.Nil(t, trade)
		})
	}
}

func TestParseTimestampFormats(t *testing.T) {
	assert.Equal(t, time.Unix(1700000000, 0), parseTimestamp("1700000000"))
	assert.Equal(t, time.UnixMilli(1700000000123), parseTimestamp("1700000000123"))

	want, _ := time.Parse(time.RFC3339, "2024-01-02T15:04:05Z")
	assert.Equal(t, want, parseTimestamp("2024-01-02T15:04:05Z"))

	// Unparseable values fall back to now rather than failing the trade.
	got := parseTimestamp("not-a-time")
	assert.WithinDuration(t, time.Now(), got, time.Minute)
}
