// Package mastodon posts rendered announcements as statuses on a Mastodon
// instance.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

var _ scoreboard.Deliverer = (*Client)(nil)

// Config holds the instance connection settings.
type Config struct {
	// BaseURL is the instance root, e.g. "https://botsin.space".
	BaseURL     string
	AccessToken string

	// Visibility is the status visibility; defaults to "public".
	Visibility string

	// DryRun logs what would be posted instead of posting it.
	DryRun bool

	Timeout     time.Duration
	MaxRetries  uint64
	InitialWait time.Duration
	MaxWait     time.Duration
}

// Client implements scoreboard.Deliverer against the Mastodon statuses API.
// Each delivery carries an Idempotency-Key header that stays stable across
// the retry loop, so a retried request the server already accepted returns
// the original status instead of double-posting.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logger.Logger
}

// NewClient builds a client from config, filling unset fields with defaults.
func NewClient(cfg Config, tracer trace.Tracer, logger *logger.Logger) *Client {
	if cfg.Visibility == "" {
		cfg.Visibility = "public"
	}
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
		logger: logger.With("component", "mastodon_client"),
	}
}

type statusRequest struct {
	Status     string `json:"status"`
	Visibility string `json:"visibility"`
}

type statusResponse struct {
	ID string `json:"id"`
}

// Deliver posts the text as a new status and returns its id.
func (c *Client) Deliver(ctx context.Context, text string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "mastodon_client.delivery.deliver",
		trace.WithAttributes(attribute.Int("text_length", len(text))))
	defer span.End()

	if c.cfg.DryRun {
		c.logger.Info(ctx, "Dry run, status not posted", "text", text)
		span.AddEvent("dry_run")
		span.SetStatus(codes.Ok, "dry run")
		return "dry-run", nil
	}

	body, err := json.Marshal(statusRequest{Status: text, Visibility: c.cfg.Visibility})
	if err != nil {
		return "", fmt.Errorf("encoding status: %w", err)
	}

	idempotencyKey := uuid.New().String()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.cfg.InitialWait
	expBackoff.MaxInterval = c.cfg.MaxWait

	var statusID string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/api/v1/statuses", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("instance returned %d", resp.StatusCode)
		default:
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("instance returned %d", resp.StatusCode))
		}

		var status statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding status response: %w", err))
		}
		statusID = status.ID
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.WithContext(expBackoff, ctx), c.cfg.MaxRetries)); err != nil {
		span.SetStatus(codes.Error, "status post failed")
		span.RecordError(err)
		return "", fmt.Errorf("posting status: %w", err)
	}

	span.AddEvent("status_posted", trace.WithAttributes(attribute.String("status_id", statusID)))
	span.SetStatus(codes.Ok, "status posted")
	return statusID, nil
}

// VerifyCredentials checks that the access token is usable. Called once at
// startup so a misconfigured token fails fast instead of on the first
// delivery.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "mastodon_client.delivery.verify_credentials")
	defer span.End()

	if c.cfg.DryRun {
		span.SetStatus(codes.Ok, "dry run")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/api/v1/accounts/verify_credentials", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "credential check failed")
		span.RecordError(err)
		return fmt.Errorf("verifying credentials: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("credential check returned %d", resp.StatusCode)
		span.SetStatus(codes.Error, "credential check failed")
		span.RecordError(err)
		return err
	}

	span.SetStatus(codes.Ok, "credentials verified")
	return nil
}
