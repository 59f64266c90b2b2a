// Package espn fetches scoreboards and match events from ESPN's public site
// API and maps them onto the raw domain records. All normalization beyond
// field plucking lives in the domain layer.
package espn

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

// DefaultBaseURL is ESPN's public soccer API root. Partition codes are
// ESPN league slugs, e.g. "bra.1".
const DefaultBaseURL = "https://site.api.espn.com/apis/site/v2/sports/soccer"

var _ scoreboard.Source = (*Client)(nil)

// Config holds the client's connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// MaxRetries bounds the retry loop around each request. Zero disables
	// retrying.
	MaxRetries  uint64
	InitialWait time.Duration
	MaxWait     time.Duration
}

// Client implements scoreboard.Source over HTTP. Transient failures
// (network errors, 5xx, 429) are retried with exponential backoff; any
// other failure surfaces immediately.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logger.Logger
}

// NewClient builds a client from config, filling unset fields with defaults.
func NewClient(cfg Config, tracer trace.Tracer, logger *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
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
		logger: logger.With("component", "espn_client"),
	}
}

// scoreboardResponse mirrors the fields we pluck from the scoreboard payload.
type scoreboardResponse struct {
	Events []struct {
		ID           string `json:"id"`
		Date         string `json:"date"`
		Competitions []struct {
			Competitors []struct {
				HomeAway string `json:"homeAway"`
				Score    string `json:"score"`
				Team     struct {
					ID          string `json:"id"`
					DisplayName string `json:"displayName"`
				} `json:"team"`
			} `json:"competitors"`
			Status struct {
				DisplayClock string `json:"displayClock"`
				Type         struct {
					Name  string `json:"name"`
					State string `json:"state"`
				} `json:"type"`
			} `json:"status"`
		} `json:"competitions"`
	} `json:"events"`
}

// summaryResponse carries the key events of one match.
type summaryResponse struct {
	KeyEvents []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		Type struct {
			Text string `json:"text"`
		} `json:"type"`
		Clock struct {
			DisplayValue string `json:"displayValue"`
		} `json:"clock"`
		Team struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"team"`
		Participants []struct {
			Athlete struct {
				ID          string `json:"id"`
				DisplayName string `json:"displayName"`
			} `json:"athlete"`
		} `json:"participants"`
	} `json:"keyEvents"`
}

// FetchScoreboard returns today's matches for one league. A league with no
// fixtures yields an empty slice.
func (c *Client) FetchScoreboard(ctx context.Context, partition string) ([]scoreboard.RawMatch, error) {
	ctx, span := c.tracer.Start(ctx, "espn_client.source.fetch_scoreboard",
		trace.WithAttributes(attribute.String("partition", partition)))
	defer span.End()

	url := fmt.Sprintf("%s/%s/scoreboard", c.cfg.BaseURL, partition)

	var payload scoreboardResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		span.SetStatus(codes.Error, "scoreboard fetch failed")
		span.RecordError(err)
		return nil, fmt.Errorf("fetching scoreboard for %s: %w", partition, err)
	}

	raws := make([]scoreboard.RawMatch, 0, len(payload.Events))
	for _, event := range payload.Events {
		if len(event.Competitions) == 0 {
			continue
		}
		competition := event.Competitions[0]

		raw := scoreboard.RawMatch{
			ID:          event.ID,
			StatusName:  competition.Status.Type.Name,
			StatusState: competition.Status.Type.State,
			Clock:       competition.Status.DisplayClock,
			StartTime:   parseEventDate(event.Date),
		}
		for _, competitor := range competition.Competitors {
			switch competitor.HomeAway {
			case "home":
				raw.HomeScore = competitor.Score
			case "away":
				raw.AwayScore = competitor.Score
			}
		}
		raws = append(raws, raw)
	}

	span.AddEvent("scoreboard_fetched", trace.WithAttributes(attribute.Int("matches", len(raws))))
	span.SetStatus(codes.Ok, "scoreboard fetched")
	return raws, nil
}

// FetchHappenings returns the key events recorded so far for one match. A
// match with no events yet yields an empty slice.
func (c *Client) FetchHappenings(ctx context.Context, partition, matchID string) ([]scoreboard.RawHappening, error) {
	ctx, span := c.tracer.Start(ctx, "espn_client.source.fetch_happenings",
		trace.WithAttributes(
			attribute.String("partition", partition),
			attribute.String("match_id", matchID),
		))
	defer span.End()

	url := fmt.Sprintf("%s/%s/summary?event=%s", c.cfg.BaseURL, partition, matchID)

	var payload summaryResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		span.SetStatus(codes.Error, "summary fetch failed")
		span.RecordError(err)
		return nil, fmt.Errorf("fetching happenings for %s/%s: %w", partition, matchID, err)
	}

	happenings := make([]scoreboard.RawHappening, 0, len(payload.KeyEvents))
	for _, event := range payload.KeyEvents {
		h := scoreboard.RawHappening{
			ID:            event.ID,
			Type:          event.Type.Text,
			Minute:        event.Clock.DisplayValue,
			ParticipantID: event.Team.ID,
			TeamName:      event.Team.DisplayName,
		}
		if len(event.Participants) > 0 {
			if id := event.Participants[0].Athlete.ID; id != "" {
				h.ParticipantID = id
			}
			h.PlayerName = event.Participants[0].Athlete.DisplayName
		}
		happenings = append(happenings, h)
	}

	span.AddEvent("happenings_fetched", trace.WithAttributes(attribute.Int("happenings", len(happenings))))
	span.SetStatus(codes.Ok, "happenings fetched")
	return happenings, nil
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

// parseEventDate parses ESPN's start time, which arrives either as RFC 3339
// or without seconds. The zero time means unknown.
func parseEventDate(raw string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z07:00"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
