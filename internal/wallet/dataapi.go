// Package wallet provides wallet-history lookups via the Data API and a
// rate-limited, TTL-bounded cache in front of them.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// activityLimit is the Data API's maximum page size.
	activityLimit = 500

	requestTimeout = 30 * time.Second
)

// HistoryClient fetches a wallet's historical trade count.
type HistoryClient interface {
	TradeCount(ctx context.Context, address string) (int, error)
}

// activityRecord is a single row from the Data API /activity endpoint.
type activityRecord struct {
	Type            string      `json:"type"`
	TransactionHash string      `json:"transactionHash"`
	Timestamp       json.Number `json:"timestamp"`
}

// DataAPIClient queries the Data API for wallet activity.
type DataAPIClient struct {
	baseURL string
	client  *http.Client
}

// NewDataAPIClient creates a client for the given Data API base URL.
func NewDataAPIClient(baseURL string) *DataAPIClient {
	return &DataAPIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// TradeCount fetches the wallet's activity and counts TRADE records.
func (c *DataAPIClient) TradeCount(ctx context.Context, address string) (int, error) {
	params := url.Values{}
	params.Set("user", address)
	params.Set("limit", fmt.Sprint(activityLimit))
	params.Set("type", "TRADE")
	params.Set("sortBy", "TIMESTAMP")
	params.Set("sortDirection", "ASC")

	reqURL := fmt.Sprintf("%s/activity?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request failed: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var records []activityRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return 0, fmt.Errorf("decode failed: %w", err)
	}

	count := 0
	for _, r := range records {
		if r.Type == "TRADE" {
			count++
		}
	}

	return count, nil
}
