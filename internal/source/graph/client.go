package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/nhle/mailgateway/internal/model"
)

// TokenSource supplies bearer credentials and can drop a rejected one.
// *auth.Provider satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (model.Credential, error)
	Invalidate()
}

// Client is a thin HTTP client for the Microsoft Graph REST API.
// It attaches a bearer token from its TokenSource. Each call's retryPolicy
// decides whether a 401 or a 429 is retried.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxRetries int
	logger     zerolog.Logger
}

// retryPolicy selects which failures a call may retry.
type retryPolicy struct {
	// auth repeats the call exactly once with a fresh token on 401.
	auth bool

	// throttle repeats the call on 429, up to the client's maxRetries.
	throttle bool
}

var (
	singleShot   = retryPolicy{}
	authOnce     = retryPolicy{auth: true}
	listingRetry = retryPolicy{auth: true, throttle: true}
)

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

// NewClient creates a Graph HTTP client. baseURL is the versioned API root
// (e.g. https://graph.microsoft.com/v1.0). maxRetries bounds 429 retries
// on calls whose policy allows them.
func NewClient(baseURL string, tokens TokenSource, maxRetries int, logger zerolog.Logger) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// resolve turns a path relative to the API root into a URL. Absolute URLs,
// such as @odata.nextLink cursors, are used as given.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + path
}

// do builds and sends the request and returns the final response whatever
// its status. Status interpretation is left to the caller; policy decides
// whether a 401 or 429 is retried first.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	policy retryPolicy,
) (*response, error) {
	url := c.resolve(path)

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	authRetried := false
	throttled := 0
	for {
		cred, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+cred.Token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("reading response body: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && policy.auth && !authRetried:
			c.logger.Warn().
				Str("method", method).
				Str("path", path).
				Msg("token rejected, refreshing and retrying once")
			c.tokens.Invalidate()
			authRetried = true
			continue

		case resp.StatusCode == http.StatusTooManyRequests && policy.throttle && throttled < c.maxRetries:
			wait := retryAfterDuration(resp, throttled)
			throttled++
			c.logger.Warn().
				Str("method", method).
				Str("path", path).
				Dur("wait", wait).
				Int("attempt", throttled).
				Msg("rate limited (429)")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return &response{status: resp.StatusCode, body: respBody}, nil
	}
}

// decode unmarshals a response body into result.
func decode(resp *response, result interface{}) error {
	if err := json.Unmarshal(resp.body, result); err != nil {
		return fmt.Errorf("unmarshaling response: %w", err)
	}
	return nil
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
