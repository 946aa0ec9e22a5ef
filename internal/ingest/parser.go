// Package ingest handles the WebSocket connection to the real-time data
// stream and parses its messages into trades.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// RTDSMessage is the envelope of a real-time data socket message.
type RTDSMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// flexString decodes a JSON string or number into a string. The feed is
// inconsistent about quoting numerics.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// TradePayload is the payload of an activity/trades message.
// Unrecognized fields are ignored by encoding/json.
type TradePayload struct {
	Asset           string     `json:"asset"`
	ConditionID     string     `json:"conditionId"`
	Price           flexString `json:"price"`
	Side            string     `json:"side"`
	Size            flexString `json:"size"`
	Timestamp       flexString `json:"timestamp"`
	Outcome         string     `json:"outcome"`
	Slug            string     `json:"slug"`
	EventSlug       string     `json:"eventSlug"`
	TransactionHash string     `json:"transactionHash"`
	ProxyWallet     string     `json:"proxyWallet"`
	Pseudonym       string     `json:"pseudonym"`
}

// ParseMessage parses a raw WebSocket message. It returns the parsed trade
// (nil for non-trade messages) and the message type for logging. A message
// that cannot be mapped to a valid trade returns an error; the caller drops
// it and the stream continues.
func ParseMessage(data []byte) (*store.Trade, string, error) {
	var msg RTDSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, "", fmt.Errorf("unmarshal message: %w", err)
	}

	if msg.Topic != "activity" {
		return nil, msg.Type, nil
	}
	if msg.Type != "trades" && msg.Type != "orders_matched" {
		return nil, msg.Type, nil
	}

	var payload TradePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, msg.Type, fmt.Errorf("unmarshal trade payload: %w", err)
	}

	trade, err := convertTrade(payload)
	if err != nil {
		return nil, msg.Type, err
	}

	return trade, msg.Type, nil
}

// convertTrade maps a payload to a store.Trade, rejecting payloads missing
// required fields.
func convertTrade(p TradePayload) (*store.Trade, error) {
	if p.ProxyWallet == "" {
		return nil, fmt.Errorf("trade missing proxyWallet")
	}
	if p.TransactionHash == "" {
		return nil, fmt.Errorf("trade missing transactionHash")
	}

	price, err := strconv.ParseFloat(string(p.Price), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", p.Price, err)
	}
	size, err := strconv.ParseFloat(string(p.Size), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid size %q: %w", p.Size, err)
	}
	if price <= 0 || size <= 0 {
		return nil, fmt.Errorf("non-positive price/size (%v, %v)", price, size)
	}

	side := p.Side
	if side == "" {
		side = "UNKNOWN"
	}

	return &store.Trade{
		TransactionHash: p.TransactionHash,
		WalletAddress:   p.ProxyWallet,
		MarketID:        p.ConditionID,
		MarketSlug:      p.Slug,
		EventSlug:       p.EventSlug,
		Outcome:         p.Outcome,
		Side:            side,
		Price:           price,
		Size:            size,
		USDValue:        price * size,
		Timestamp:       parseTimestamp(string(p.Timestamp)),
		Pseudonym:       p.Pseudonym,
	}, nil
}

// parseTimestamp accepts unix seconds, unix milliseconds, and RFC3339.
func parseTimestamp(v string) time.Time {
	if v == "" {
		return time.Now()
	}

	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts)
		}
		return time.Unix(ts, 0)
	}

	// Fractional unix timestamps show up occasionally.
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f > 1e12 {
			return time.UnixMilli(int64(f))
		}
		return time.Unix(int64(f), 0)
	}

	for _, format := range []string{time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(format, v); err == nil {
			return t
		}
	}

	return time.Now()
}
