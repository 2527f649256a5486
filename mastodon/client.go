// Package mastodon is the HTTP client for the Mastodon status API plus the
// server-software compatibility classifier.
package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"toot2mail/pkg/toot"
)

// UserAgent is sent on every outbound request.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:128.0) Gecko/20100101 Firefox/128.0"

// Client performs cached GET requests against instance APIs and arbitrary
// URLs. The cache lives for one process invocation; a status fetched while
// reading a timeline is not fetched again while resolving a reply chain.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	cache      map[string][]byte
	software   map[string]softwareInfo
}

// New creates a client. Timeout and proxy policy live on httpClient, which
// the caller builds from configuration.
func New(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		cache:      make(map[string][]byte),
		software:   make(map[string]softwareInfo),
	}
}

// Status fetches a single status by its server-local id.
func (c *Client) Status(ctx context.Context, host, id string) (*toot.Toot, error) {
	data, err := c.get(ctx, apiURL(host, "api/v1/statuses/"+url.PathEscape(id), nil), "")
	if err != nil {
		return nil, err
	}
	return toot.FromJSON(data)
}

// AccountID looks up the server-local account id for a username.
func (c *Client) AccountID(ctx context.Context, host, username string) (string, error) {
	data, err := c.get(ctx, apiURL(host, "api/v1/accounts/lookup", url.Values{"acct": {username}}), "")
	if err != nil {
		return "", err
	}
	var account struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return "", fmt.Errorf("decode account: %w", err)
	}
	return account.ID, nil
}

// AccountStatuses fetches the most recent statuses of an account.
func (c *Client) AccountStatuses(ctx context.Context, host, accountID string, limit int) ([]*toot.Toot, error) {
	data, err := c.get(ctx, apiURL(host, "api/v1/accounts/"+url.PathEscape(accountID)+"/statuses", limitValues(limit)), "")
	if err != nil {
		return nil, err
	}
	return toot.ListFromJSON(data)
}

// TagTimeline fetches the most recent statuses for a hashtag.
func (c *Client) TagTimeline(ctx context.Context, host, tag string, limit int) ([]*toot.Toot, error) {
	data, err := c.get(ctx, apiURL(host, "api/v1/timelines/tag/"+url.PathEscape(tag), limitValues(limit)), "")
	if err != nil {
		return nil, err
	}
	return toot.ListFromJSON(data)
}

// GetBinary fetches a media resource. Binary payloads bypass the response
// cache; the Referer header is expected by some media proxies.
func (c *Client) GetBinary(ctx context.Context, rawURL, referer string) ([]byte, error) {
	return c.do(ctx, rawURL, referer)
}

func limitValues(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

func apiURL(host, endpoint string, query url.Values) string {
	u := url.URL{Scheme: "https", Host: host, Path: "/" + endpoint}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// get performs a cached GET and returns the response body.
func (c *Client) get(ctx context.Context, rawURL, referer string) ([]byte, error) {
	if data, ok := c.cache[rawURL]; ok {
		return data, nil
	}
	data, err := c.do(ctx, rawURL, referer)
	if err != nil {
		return nil, err
	}
	c.cache[rawURL] = data
	return data, nil
}

func (c *Client) do(ctx context.Context, rawURL, referer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		return nil, &APIError{Kind: KindTransient, URL: rawURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("HTTP request completed",
		"url", rawURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Kind: kindForStatus(resp.StatusCode), URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindTransient, URL: rawURL, Err: err}
	}
	return data, nil
}
