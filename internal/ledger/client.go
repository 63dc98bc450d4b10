// Package ledger talks to an external balance-holding service over HTTP and exposes it
// as a market.LedgerStore.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptobot/internal/market"
)

var _ market.LedgerStore = (*Client)(nil)

type Client struct {
	baseURL         string
	apiKey          string
	startingBalance int64
	httpClient      *http.Client
}

type accountPayload struct {
	UserID    string           `json:"user_id"`
	Balance   int64            `json:"balance"`
	Holdings  map[string]int64 `json:"holdings"`
	Version   int64            `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ledger status %d: %s", e.status, e.body)
}

func NewClient(baseURL, apiKey string, startingBalance int64) *Client {
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          apiKey,
		startingBalance: startingBalance,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *Client) Get(ctx context.Context, userID string) (market.Account, bool, error) {
	var out accountPayload
	err := c.doJSON(ctx, http.MethodGet, accountPath(userID), nil, nil, &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return market.Account{}, false, nil
		}
		return market.Account{}, false, err
	}
	return out.account(), true, nil
}

func (c *Client) GetOrCreate(ctx context.Context, userID string) (market.Account, error) {
	var out accountPayload
	err := c.doJSON(ctx, http.MethodPost, accountPath(userID), nil, map[string]any{
		"starting_balance": c.startingBalance,
	}, &out)
	if err != nil {
		return market.Account{}, err
	}
	return out.account(), nil
}

func (c *Client) Commit(ctx context.Context, acct market.Account) error {
	headers := map[string]string{"If-Match": strconv.FormatInt(acct.Version, 10)}
	err := c.doJSON(ctx, http.MethodPut, accountPath(acct.UserID), headers, accountPayload{
		UserID:   acct.UserID,
		Balance:  acct.Balance,
		Holdings: acct.Holdings,
		Version:  acct.Version,
	}, nil)
	var se *statusError
	if errors.As(err, &se) && (se.status == http.StatusConflict || se.status == http.StatusPreconditionFailed) {
		return market.ErrConflict
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, headers map[string]string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ledger request: %w", market.ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		se := &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", market.ErrStorageUnavailable, se)
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func accountPath(userID string) string {
	return "/v1/accounts/" + url.PathEscape(userID)
}

func (p accountPayload) account() market.Account {
	acct := market.Account{
		UserID:    p.UserID,
		Balance:   p.Balance,
		Holdings:  p.Holdings,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if acct.Holdings == nil {
		acct.Holdings = map[string]int64{}
	}
	return acct
}
