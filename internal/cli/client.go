package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cryptobot/internal/market"
	"cryptobot/internal/trade"

	"github.com/shopspring/decimal"
)

type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"error"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type HistoryResponse struct {
	Asset   market.Asset         `json:"asset"`
	Since   time.Time            `json:"since"`
	Samples []market.PriceSample `json:"samples"`
	Summary market.Summary       `json:"summary"`
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ListAssets(ctx context.Context) ([]market.Asset, error) {
	var out struct {
		Assets []market.Asset `json:"assets"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/assets", "", nil, &out)
	return out.Assets, err
}

func (c *Client) History(ctx context.Context, tag, period string) (HistoryResponse, error) {
	var out HistoryResponse
	path := "/v1/assets/" + url.PathEscape(tag) + "/history?period=" + url.QueryEscape(period)
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out)
	return out, err
}

func (c *Client) CreateAsset(ctx context.Context, tag, name string, price decimal.Decimal, volatility int64) (market.Asset, error) {
	var out market.Asset
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/assets", c.AdminToken, map[string]any{
		"tag":        tag,
		"name":       name,
		"price":      price,
		"volatility": volatility,
	}, &out)
	return out, err
}

func (c *Client) RemoveAsset(ctx context.Context, tag string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/assets/"+url.PathEscape(tag), c.AdminToken, nil, nil)
}

func (c *Client) Account(ctx context.Context, userID string) (market.Account, error) {
	var out market.Account
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID), "", nil, &out)
	return out, err
}

func (c *Client) Trade(ctx context.Context, userID string, side trade.Side, tag string, qty int64) (trade.Result, error) {
	var out trade.Result
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades", "", map[string]any{
		"user_id":  userID,
		"tag":      tag,
		"side":     side,
		"quantity": qty,
	}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
