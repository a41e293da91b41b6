package projectonline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/resilience"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
)

// TokenProvider supplies bearer tokens for the reporting endpoint.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// Client issues authenticated OData requests against a PWA site.
type Client struct {
	httpClient *http.Client
	siteURL    string
	tokens     TokenProvider
	policy     resilience.Policy
	governor   *resilience.Governor
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// SiteURL is the PWA site root; the reporting endpoint lives under
	// <site>/_api/ProjectData.
	SiteURL string

	// HTTPClient overrides the transport; nil uses a default with a timeout.
	HTTPClient *http.Client

	Policy   resilience.Policy
	Governor *resilience.Governor
}

// NewClient creates an OData client for the given site.
func NewClient(cfg ClientConfig, tokens TokenProvider, logger *telemetry.Logger, metrics *telemetry.Metrics) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	governor := cfg.Governor
	if governor == nil {
		governor = resilience.NewGovernor(0, 0)
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	policy := cfg.Policy
	policy.OnRetry = func(int) { metrics.RecordRetry("projectonline") }

	return &Client{
		httpClient: hc,
		siteURL:    strings.TrimRight(cfg.SiteURL, "/"),
		tokens:     tokens,
		policy:     policy,
		governor:   governor,
		logger:     logger.NewComponentLogger("projectonline"),
		metrics:    metrics,
	}
}

// feedURL builds an absolute URL for a ProjectData resource path.
func (c *Client) feedURL(resource string) string {
	return fmt.Sprintf("%s/_api/ProjectData/%s", c.siteURL, resource)
}

// odataEnvelope is the verbose-JSON response shape: a "d" wrapper holding
// either a results array with an optional continuation link, or a single
// entity.
type odataEnvelope struct {
	D struct {
		Results json.RawMessage `json:"results"`
		Next    string          `json:"__next"`
	} `json:"d"`
}

// page holds one decoded page of an entity feed.
type page struct {
	results json.RawMessage
	next    string
}

// getPage fetches one feed page, retrying transient failures and recovering
// once from an expired token by re-authenticating and refetching.
func (c *Client) getPage(ctx context.Context, rawURL string) (*page, error) {
	pg, err := c.getPageOnce(ctx, rawURL)
	if migrate.IsAuthExpired(err) {
		c.logger.Warn("access token rejected, re-authenticating and retrying page")
		c.tokens.Invalidate()
		pg, err = c.getPageOnce(ctx, rawURL)
	}
	return pg, err
}

func (c *Client) getPageOnce(ctx context.Context, rawURL string) (*page, error) {
	var pg *page
	err := resilience.Execute(ctx, c.policy, func(ctx context.Context) error {
		if err := c.governor.Wait(ctx); err != nil {
			return err
		}
		c.metrics.RecordGovernorWait()

		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return migrate.NewPermanentError("unable to build request", err).
				WithPhase(migrate.PhaseExtract)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json;odata=verbose")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return migrate.NewTransientError("request failed", err).
				WithPhase(migrate.PhaseExtract)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return classifyStatus(resp)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return migrate.NewTransientError("unable to read response body", err).
				WithPhase(migrate.PhaseExtract)
		}

		var env odataEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return migrate.NewPermanentError("malformed OData response", err).
				WithPhase(migrate.PhaseExtract)
		}
		if env.D.Results == nil {
			// Single-entity responses put the object directly under "d".
			var single struct {
				D json.RawMessage `json:"d"`
			}
			if err := json.Unmarshal(body, &single); err != nil {
				return migrate.NewPermanentError("malformed OData response", err).
					WithPhase(migrate.PhaseExtract)
			}
			pg = &page{results: single.D}
			return nil
		}
		pg = &page{results: env.D.Results, next: env.D.Next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// classifyStatus maps HTTP error statuses into the migration error taxonomy.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return migrate.NewAuthError("access token rejected", nil).
			WithCode(migrate.ErrCodeAuthExpired).WithPhase(migrate.PhaseExtract)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := migrate.NewThrottledError("rate limited by source service", nil).
			WithCode(migrate.ErrCodeRateLimited).WithPhase(migrate.PhaseExtract)
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			e = e.WithRetryAfter(after)
		}
		return e
	case resp.StatusCode >= 500:
		return migrate.NewTransientError(
			fmt.Sprintf("source service error (%d)", resp.StatusCode), nil).
			WithPhase(migrate.PhaseExtract)
	default:
		return migrate.NewPermanentError(
			fmt.Sprintf("request rejected (%d)", resp.StatusCode), nil).
			WithPhase(migrate.PhaseExtract)
	}
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
