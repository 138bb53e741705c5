// Package registry talks to the companies registry HTTP API: paginated
// company search and single company profiles.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"

	"github.com/kilupskalvis/regsync/internal/secrets"
)

// DefaultBaseURL is the public registry API.
const DefaultBaseURL = "https://api.company-information.service.gov.uk"

// DefaultSecretName names the API key in the credential source.
const DefaultSecretName = "companies-house-api-key"

const maxResponseBody = 32 << 20

// ErrRetryBudget is wrapped by errors from requests that gave up after the
// configured number of consecutive failures.
var ErrRetryBudget = errors.New("retry budget exhausted")

// APIError is a non-success response from the registry.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("registry error: HTTP %d: %s", e.Status, e.Body)
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL     string
	Credentials secrets.Source
	SecretName  string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// RequestsPerSecond throttles every outgoing request. Zero disables it.
	RequestsPerSecond float64
	Retry             *RetryConfig
	Clock             clock.Clock
	Logger            *slog.Logger
}

// Client is a registry API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	creds      secrets.Source
	secretName string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *RetryConfig
	clock      clock.Clock
	logger     *slog.Logger

	mu     sync.Mutex
	apiKey string
}

// NewClient creates a registry client.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		creds:      opts.Credentials,
		secretName: opts.SecretName,
		httpClient: opts.HTTPClient,
		retry:      opts.Retry,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.secretName == "" {
		c.secretName = DefaultSecretName
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.retry == nil {
		c.retry = DefaultRetryConfig()
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// key returns the API key, fetching it from the credential source on first
// use. A failed fetch is not cached.
func (c *Client) key(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.creds == nil {
		return "", fmt.Errorf("registry credentials: no source configured")
	}
	k, err := c.creds.Secret(ctx, c.secretName)
	if err != nil {
		return "", fmt.Errorf("registry credentials: %w", err)
	}
	c.apiKey = k
	return k, nil
}

// response is a fully read HTTP response.
type response struct {
	status     int
	body       []byte
	retryAfter time.Duration
}

func (c *Client) do(ctx context.Context, apiKey, path string, query url.Values) (*response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &response{
		status:     resp.StatusCode,
		body:       body,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now()),
	}, nil
}

// get performs a GET, retrying rate limits and transient failures with
// capped exponential backoff. It returns the first response whose status is
// not retryable. After MaxRetries consecutive failures the returned error
// wraps ErrRetryBudget.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*response, error) {
	apiKey, err := c.key(ctx)
	if err != nil {
		return nil, err
	}

	failures := 0
	for {
		// Throttle failures mean the context cannot wait long enough; they
		// are not retried.
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("GET %s: wait for rate limiter: %w", path, err)
			}
		}
		resp, err := c.do(ctx, apiKey, path, query)
		var retryAfter time.Duration
		switch {
		case err == nil && !retryableStatus(resp.status):
			return resp, nil
		case err == nil:
			retryAfter = resp.retryAfter
			err = &APIError{Status: resp.status, Body: snippet(resp.body)}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case !isTransient(err):
			return nil, err
		}

		failures++
		if failures >= c.retry.MaxRetries {
			return nil, fmt.Errorf("GET %s: %w after %d attempts: %w", path, ErrRetryBudget, failures, err)
		}
		d := c.retry.delay(failures, retryAfter)
		c.logger.Warn("registry request failed, backing off",
			"path", path, "attempt", failures, "delay", d, "error", err)
		if err := sleep(ctx, c.clock, d); err != nil {
			return nil, err
		}
	}
}

func snippet(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
