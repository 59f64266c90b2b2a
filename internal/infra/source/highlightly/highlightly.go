// Package highlightly fetches post-match highlight clips from the
// Highlightly API (served through RapidAPI).
package highlightly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

var _ scoreboard.HighlightSource = (*Client)(nil)

// Config holds the API connection settings. Requests authenticate with the
// RapidAPI key and host headers.
type Config struct {
	BaseURL string
	APIKey  string
	Host    string

	Timeout time.Duration

	// MaxRetries bounds the retry loop around each request. Zero disables
	// retrying.
	MaxRetries  uint64
	InitialWait time.Duration
	MaxWait     time.Duration
}

// Client implements scoreboard.HighlightSource over HTTP with the same
// transient-failure retry policy as the scoreboard client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logger.Logger
}

// NewClient builds a client from config, filling unset fields with defaults.
func NewClient(cfg Config, tracer trace.Tracer, logger *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: tracer,
		logger: logger.With("component", "highlightly_client"),
	}
}

// highlightsResponse mirrors the fields we pluck from the highlights payload.
type highlightsResponse struct {
	Data []struct {
		Title    string `json:"title"`
		URL      string `json:"url"`
		EmbedURL string `json:"embedUrl"`
	} `json:"data"`
}

// FetchHighlights returns the clips published for one match. A match with no
// clips yet yields an empty slice; entries without any usable link are
// dropped.
func (c *Client) FetchHighlights(ctx context.Context, matchID string) ([]scoreboard.Highlight, error) {
	ctx, span := c.tracer.Start(ctx, "highlightly_client.source.fetch_highlights",
		trace.WithAttributes(attribute.String("match_id", matchID)))
	defer span.End()

	url := fmt.Sprintf("%s/highlights?matchId=%s", c.cfg.BaseURL, matchID)

	var payload highlightsResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		span.SetStatus(codes.Error, "highlights fetch failed")
		span.RecordError(err)
		return nil, fmt.Errorf("fetching highlights for %s: %w", matchID, err)
	}

	highlights := make([]scoreboard.Highlight, 0, len(payload.Data))
	for _, clip := range payload.Data {
		link := clip.URL
		if link == "" {
			link = clip.EmbedURL
		}
		if link == "" {
			continue
		}
		title := clip.Title
		if title == "" {
			title = "Highlight"
		}
		highlights = append(highlights, scoreboard.Highlight{Title: title, URL: link})
	}

	span.AddEvent("highlights_fetched", trace.WithAttributes(attribute.Int("highlights", len(highlights))))
	span.SetStatus(codes.Ok, "highlights fetched")
	return highlights, nil
}

// getJSON performs one GET with retry and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.cfg.InitialWait
	expBackoff.MaxInterval = c.cfg.MaxWait

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
		req.Header.Set("X-RapidAPI-Host", c.cfg.Host)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("upstream returned %d", resp.StatusCode)
		default:
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("upstream returned %d", resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithMaxRetries(backoff.WithContext(expBackoff, ctx), c.cfg.MaxRetries))
}
