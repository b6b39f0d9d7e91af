package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mirrorfetch/mirrorfetch/internal/logctx"
	"github.com/mirrorfetch/mirrorfetch/internal/mirror"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Client fetches repository files from a raw-content base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTries   uint
}

// NewClient creates a fetch client rooted at baseURL. A non-empty token is
// sent as a static oauth2 bearer token, which is what raw-content hosts of
// private repositories expect.
func NewClient(ctx context.Context, baseURL, token string, timeout time.Duration, maxTries uint) *Client {
	httpClient := &http.Client{}

	if token != "" {
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, tokenSource)
	}

	httpClient.Timeout = timeout
	httpClient.Transport = otelhttp.NewTransport(httpClient.Transport)

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		maxTries:   maxTries,
	}
}

// Fetch issues GET baseURL/path and returns the body reader plus the
// Content-Length (-1 when the server doesn't announce one). Transport
// failures and 5xx responses are retried with exponential backoff; any other
// non-200 status is permanent and reported as *mirror.ResponseError.
func (c *Client) Fetch(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	operation := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Debug("fetch attempt failed", "url", url, "err", err)

			return nil, err
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		// Drain so the connection can be reused across retries.
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()

		respErr := &mirror.ResponseError{URL: url, StatusCode: resp.StatusCode}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			logger.Debug("retryable fetch failure", "url", url, "status", resp.StatusCode)

			return nil, respErr
		}

		return nil, backoff.Permanent(respErr)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	return resp.Body, resp.ContentLength, nil
}
