package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("feed")

// Client fetches realtime feed bytes over HTTP, rate limited across all
// providers it serves.
type Client struct {
	logger  *slog.Logger
	client  *http.Client
	limiter *rate.Limiter
}

func NewClient(logger *slog.Logger, requestsPerSecond float64) *Client {
	return &Client{
		logger: logger.With("module", "feed"),
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Fetch downloads one feed payload, sending the provider-specific headers.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	span.SetAttributes(attribute.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "gtfsrt-tools/0.0.1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	// Rate limit requests
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response status: %s", resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return b, nil
}
