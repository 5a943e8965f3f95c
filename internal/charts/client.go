package charts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	userAgent = "tunetally/1.0"

	// requestTimeout bounds every chart fetch; the transport default alone
	// is not enough when a recommendation build is waiting on the result.
	requestTimeout = 30 * time.Second

	// cacheTTL is how long a fetched chart stays fresh.
	cacheTTL = 5 * time.Minute
)

// Sentinel errors.
var (
	// ErrUnavailable is returned when the chart API cannot be reached or
	// answers with a server error. Callers degrade to local-only data.
	ErrUnavailable = errors.New("chart service unavailable")

	// ErrRateLimited is returned when the API rate limit is exceeded after
	// retries.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Client is a chart API client with response caching and retry on rate limit.
type Client struct {
	httpClient *http.Client
	baseURL    string

	// In-memory cache: key = "global" or a country code.
	cache   map[string]cachedChart
	cacheMu sync.RWMutex

	now func() time.Time // injectable clock for cache tests
}

type cachedChart struct {
	songs     []OnlineSong
	fetchedAt time.Time
}

// NewClient creates a new chart API client from the provided configuration.
// When client credentials are configured, requests carry an OAuth2
// client-credentials token.
func NewClient(cfg *Config) *Client {
	httpClient := &http.Client{Timeout: requestTimeout}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = requestTimeout
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		cache:      make(map[string]cachedChart),
		now:        time.Now,
	}
}

// GlobalTop fetches the global top chart.
func (c *Client) GlobalTop(ctx context.Context) ([]OnlineSong, error) {
	return c.fetchTop(ctx, "global")
}

// CountryTop fetches the top chart for a country code (e.g. "us").
func (c *Client) CountryTop(ctx context.Context, countryCode string) ([]OnlineSong, error) {
	countryCode = strings.ToLower(strings.TrimSpace(countryCode))
	if countryCode == "" {
		return nil, fmt.Errorf("empty country code")
	}
	return c.fetchTop(ctx, countryCode)
}

// fetchTop fetches /top/{key} with caching.
func (c *Client) fetchTop(ctx context.Context, key string) ([]OnlineSong, error) {
	c.cacheMu.RLock()
	if cached, ok := c.cache[key]; ok && c.now().Sub(cached.fetchedAt) < cacheTTL {
		c.cacheMu.RUnlock()
		return cached.songs, nil
	}
	c.cacheMu.RUnlock()

	body, err := c.doRequest(ctx, c.baseURL+"/top/"+key)
	if err != nil {
		return nil, fmt.Errorf("fetching %s chart: %w", key, err)
	}

	songs, err := decodeChart(body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s chart response: %w", key, err)
	}

	c.cacheMu.Lock()
	c.cache[key] = cachedChart{songs: songs, fetchedAt: c.now()}
	c.cacheMu.Unlock()

	return songs, nil
}

// decodeChart accepts either the {"songs": [...]} envelope or a bare array.
func decodeChart(body []byte) ([]OnlineSong, error) {
	var envelope topResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Songs != nil {
		return envelope.Songs, nil
	}

	var songs []OnlineSong
	if err := json.Unmarshal(body, &songs); err != nil {
		return nil, err
	}
	if songs == nil {
		songs = []OnlineSong{}
	}
	return songs, nil
}

// doRequest performs an HTTP GET request with retry on rate limit.
// Retries up to 3 times with exponential backoff (1s, 2s, 4s).
func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	delays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	var lastErr error

	for attempt := 0; attempt <= len(delays); attempt++ {
		// Wait before retry (skip on first attempt)
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delays[attempt-1]):
			}
		}

		body, err := c.doSingleRequest(ctx, reqURL)
		if err == nil {
			return body, nil
		}

		// Check if we should retry
		if errors.Is(err, ErrRateLimited) {
			lastErr = err
			continue
		}

		// Non-retryable error
		return nil, err
	}

	return nil, lastErr
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error %s: %s", apiErr.Error, apiErr.Message)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return body, nil
}
