// Package auth obtains and caches the source-side access token via the OAuth
// device-authorization grant. The first run walks the user through the
// verification URL; later runs reuse the persisted token and refresh it
// silently until the refresh token itself stops working.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/resilience"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
)

const defaultAuthBase = "https://login.microsoftonline.com"

// expirySlack refreshes tokens slightly before their reported expiry so a
// token never dies mid-request.
const expirySlack = 2 * time.Minute

// PromptFunc displays the device verification URI and user code.
type PromptFunc func(verificationURI, userCode string)

// Config configures a Provider.
type Config struct {
	// TenantID and ClientID identify the application registration.
	TenantID string
	ClientID string

	// Scopes are the token scopes to request. offline_access is always added
	// so a refresh token is issued.
	Scopes []string

	// CacheDir is where the token file lives.
	CacheDir string

	// AuthBase overrides the authority endpoint. Tests point it at a local
	// server; empty means the public authority.
	AuthBase string

	// Transport overrides the HTTP transport for authority calls; nil uses
	// http.DefaultTransport.
	Transport http.RoundTripper

	// Policy governs token-endpoint retries.
	Policy resilience.Policy

	// Governor paces token-endpoint calls, including each device-code poll,
	// alongside all other outbound calls.
	Governor *resilience.Governor

	// Metrics observes token-endpoint retries. Nil disables recording.
	Metrics *telemetry.Metrics

	// Prompt displays the verification URI and user code. Nil disables the
	// interactive flow: a run that would need one fails with AUTH_EXPIRED.
	Prompt PromptFunc
}

// Provider implements the token lifecycle: cached, refreshed, or freshly
// authorized via the device flow.
type Provider struct {
	oauth      *oauth2.Config
	cache      *tokenCache
	httpClient *http.Client
	policy     resilience.Policy
	prompt     PromptFunc
	logger     *telemetry.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// governedTransport paces authority calls through the shared governor so the
// oauth2 library's internal device-code polling honors the rate ceiling.
type governedTransport struct {
	base     http.RoundTripper
	governor *resilience.Governor
}

func (t *governedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.governor.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// NewProvider creates a Provider from the given configuration.
func NewProvider(cfg Config, logger *telemetry.Logger) *Provider {
	base := cfg.AuthBase
	if base == "" {
		base = defaultAuthBase
	}

	scopes := append([]string{}, cfg.Scopes...)
	scopes = append(scopes, "offline_access")

	governor := cfg.Governor
	if governor == nil {
		governor = resilience.NewGovernor(0, 0)
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	policy := cfg.Policy
	policy.OnRetry = func(int) { metrics.RecordRetry("auth") }

	return &Provider{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:       fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", base, cfg.TenantID),
				TokenURL:      fmt.Sprintf("%s/%s/oauth2/v2.0/token", base, cfg.TenantID),
				DeviceAuthURL: fmt.Sprintf("%s/%s/oauth2/v2.0/devicecode", base, cfg.TenantID),
			},
		},
		cache: newTokenCache(cfg.CacheDir, cfg.TenantID, cfg.ClientID),
		httpClient: &http.Client{
			Transport: &governedTransport{base: transport, governor: governor},
		},
		policy: policy,
		prompt: cfg.Prompt,
		logger: logger.NewComponentLogger("auth"),
	}
}

// oauthContext routes the oauth2 library's HTTP calls, including the ones it
// issues internally while polling, through the governed client.
func (p *Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// AccessToken returns a valid access token, refreshing or re-authorizing as
// needed.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == nil {
		p.token = p.cache.load()
	}
	if tokenUsable(p.token) {
		return p.token.AccessToken, nil
	}

	if p.token != nil && p.token.RefreshToken != "" {
		tok, err := p.refresh(ctx, p.token)
		if err == nil {
			p.store(tok)
			return tok.AccessToken, nil
		}
		p.logger.WithError(err).Warn("silent token refresh failed, falling back to device authorization")
	}

	tok, err := p.deviceFlow(ctx)
	if err != nil {
		return "", err
	}
	p.store(tok)
	return tok.AccessToken, nil
}

// Login discards any cached token and runs a fresh device-authorization flow.
func (p *Provider) Login(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.token = nil
	p.cache.clear()

	tok, err := p.deviceFlow(ctx)
	if err != nil {
		return err
	}
	p.store(tok)
	return nil
}

// Invalidate drops the in-memory access token so the next AccessToken call
// refreshes. Callers use it after a remote 401.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != nil {
		p.token.Expiry = time.Now().Add(-time.Minute)
	}
}

// store caches the token in memory and on disk. A cache write failure is
// logged, not fatal: the run still holds a usable token.
func (p *Provider) store(tok *oauth2.Token) {
	p.token = tok
	if err := p.cache.save(tok); err != nil {
		p.logger.WithError(err).Warn("unable to persist token cache")
	}
}

// refresh exchanges the refresh token for a new access token, retrying
// transient token-endpoint failures.
func (p *Provider) refresh(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
	var tok *oauth2.Token
	err := resilience.Execute(ctx, p.policy, func(ctx context.Context) error {
		t, err := p.oauth.TokenSource(p.oauthContext(ctx), stale).Token()
		if err != nil {
			return classifyTokenError(err)
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// deviceFlow requests a device code, shows the verification prompt, and polls
// the token endpoint until approval, decline, or code expiry.
func (p *Provider) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	if p.prompt == nil {
		return nil, migrate.NewAuthError("interactive authorization required but prompting is disabled", nil).
			WithCode(migrate.ErrCodeAuthExpired).WithPhase(migrate.PhaseAuth)
	}

	var da *oauth2.DeviceAuthResponse
	err := resilience.Execute(ctx, p.policy, func(ctx context.Context) error {
		resp, err := p.oauth.DeviceAuth(p.oauthContext(ctx))
		if err != nil {
			return classifyTokenError(err)
		}
		da = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.prompt(da.VerificationURI, da.UserCode)
	p.logger.Info("waiting for device authorization approval")

	// The poll loop's wall clock is the code expiry window.
	pollCtx := ctx
	if !da.Expiry.IsZero() {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithDeadline(ctx, da.Expiry)
		defer cancel()
	}

	tok, err := p.oauth.DeviceAccessToken(p.oauthContext(pollCtx), da)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	return tok, nil
}

// tokenUsable reports whether the access token is present and not near expiry.
func tokenUsable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(expirySlack).Before(tok.Expiry)
}

// classifyTokenError maps token-endpoint failures into the migration error
// taxonomy so the retry policy treats 429/5xx as retryable and everything
// else as terminal.
func classifyTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch {
		case rerr.Response.StatusCode == http.StatusTooManyRequests:
			return migrate.NewThrottledError("token endpoint rate limited", err).
				WithCode(migrate.ErrCodeRateLimited).WithPhase(migrate.PhaseAuth)
		case rerr.Response.StatusCode >= 500:
			return migrate.NewTransientError("token endpoint unavailable", err).
				WithPhase(migrate.PhaseAuth)
		case rerr.ErrorCode == "invalid_grant":
			return migrate.NewAuthError("refresh token is no longer valid", err).
				WithCode(migrate.ErrCodeAuthExpired).WithPhase(migrate.PhaseAuth)
		default:
			return migrate.NewAuthError("token request rejected", err).
				WithCode(migrate.ErrCodeAuthExpired).WithPhase(migrate.PhaseAuth)
		}
	}
	// Network-level failures are transient.
	return migrate.NewTransientError("token endpoint unreachable", err).
		WithPhase(migrate.PhaseAuth)
}

// classifyDeviceError maps the terminal outcomes of device-code polling.
func classifyDeviceError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "access_denied":
			return migrate.NewAuthError("user declined the authorization request", err).
				WithCode(migrate.ErrCodeAuthDeclined).WithPhase(migrate.PhaseAuth)
		case "expired_token":
			return migrate.NewAuthError("device code expired before approval", err).
				WithCode(migrate.ErrCodeAuthTimeout).WithPhase(migrate.PhaseAuth)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return migrate.NewAuthError("device code expired before approval", err).
			WithCode(migrate.ErrCodeAuthTimeout).WithPhase(migrate.PhaseAuth)
	}
	return migrate.NewAuthError("device authorization failed", err).
		WithCode(migrate.ErrCodeAuthDeclined).WithPhase(migrate.PhaseAuth)
}
