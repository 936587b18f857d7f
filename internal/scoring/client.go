// Package scoring is the REST client for the experience service that turns
// settled predictions into XP awards.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civicpulse/marketd/internal/domain"
)

// Client is the REST client for the scoring API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a scoring client. baseURL is the API root, e.g.
// "https://scoring.internal/api/v1".
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type awardRequest struct {
	UserID       string  `json:"user_id"`
	PredictionID string  `json:"prediction_id"`
	MarketID     string  `json:"market_id"`
	Outcome      string  `json:"outcome"`
	Stake        float64 `json:"stake"`
	Shares       float64 `json:"shares"`
	Correct      bool    `json:"correct"`
	BufferFunded bool    `json:"buffer_funded"`
}

type awardResponse struct {
	XP int64 `json:"xp"`
}

// AwardPredictionXP submits a settled prediction and returns the XP granted.
// The scoring service decides the amount; zero is a valid award.
func (c *Client) AwardPredictionXP(ctx context.Context, userID string, p domain.Prediction) (int64, error) {
	payload := awardRequest{
		UserID:       userID,
		PredictionID: p.ID,
		MarketID:     p.MarketID,
		Outcome:      string(p.Outcome),
		Stake:        p.Stake,
		Shares:       p.Shares,
		Correct:      p.Correct(),
		BufferFunded: p.FundedFromBuffer,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("scoring: marshal award request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/xp/awards", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("scoring: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("scoring: award xp for %s: %w", p.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("scoring: award xp for %s: status %d: %s",
			p.ID, resp.StatusCode, string(respBody))
	}

	var out awardResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("scoring: decode award response: %w", err)
	}

	return out.XP, nil
}

// Compile-time interface check.
var _ domain.Scorer = (*Client)(nil)
