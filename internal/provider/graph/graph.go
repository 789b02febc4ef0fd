// Package graph implements a Provider that sends emails via the Microsoft
// Graph API, for Microsoft 365 senders.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/smtp-mailmerge/internal/email"
	"github.com/shineum/smtp-mailmerge/internal/provider"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Config holds the app registration used to send on behalf of the sender.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Provider sends each message as one sendMail call for the message's From
// user, authenticating with OAuth2 client credentials.
type Provider struct {
	credentials *clientcredentials.Config
	baseURL     string
	httpClient  *http.Client

	// client adds the bearer token; set by Connect.
	client *http.Client
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider for the given app registration.
func New(cfg Config, logger *slog.Logger) *Provider {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID)
	return newWithEndpoints(cfg, defaultBaseURL, tokenURL, logger)
}

// newWithEndpoints creates a Provider with custom URLs, used for testing.
func newWithEndpoints(cfg Config, baseURL, tokenURL string, logger *slog.Logger) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var creds *clientcredentials.Config
	if cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		creds = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{"https://graph.microsoft.com/.default"},
			AuthStyle:    oauth2.AuthStyleInParams,
		}
	}

	return &Provider{
		credentials: creds,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}
}

// Connect acquires the first access token, so bad credentials fail the run
// before anything is sent.
func (g *Provider) Connect(ctx context.Context) error {
	if g.credentials == nil {
		return runerr.Fatalf(runerr.KindConfig, nil, "graph tenant, client ID and client secret are required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	src := g.credentials.TokenSource(ctx)
	if _, err := src.Token(); err != nil {
		return classify(err, "failed to acquire Graph API token")
	}

	g.client = oauth2.NewClient(ctx, src)
	g.client.Timeout = g.httpClient.Timeout
	g.logger.Debug("acquired Graph API token")
	return nil
}

// Send delivers msg. An API error fails only this message; a rejected
// token or a transport failure ends the run.
func (g *Provider) Send(ctx context.Context, msg *email.Email) error {
	if g.client == nil {
		return runerr.Fatalf(runerr.KindDisconnected, nil, "graph provider is not connected")
	}

	body, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return runerr.Recoverablef(runerr.KindDelivery, err, "failed to marshal request for %s", msg.To)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, url.PathEscape(msg.From))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return runerr.Recoverablef(runerr.KindDelivery, err, "failed to create request for %s", msg.To)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return classify(err, "Graph API request for %s failed", msg.To)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	detail := errorDetail(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		return runerr.Fatalf(runerr.KindAuth, errors.New(detail), "Graph API rejected the access token")
	}
	g.logger.Warn("Graph API error", "to", msg.To, "status", resp.StatusCode, "error", detail)
	return runerr.Recoverablef(runerr.KindDelivery, errors.New(detail),
		"Graph API refused message to %s (HTTP %d)", msg.To, resp.StatusCode)
}

// Close is a no-op.
func (g *Provider) Close() error {
	return nil
}

// Name returns the provider name.
func (g *Provider) Name() string {
	return "msgraph"
}

// errorDetail extracts the API error message from resp, or the raw body.
func errorDetail(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var graphErr graphErrorResponse
	if err := json.Unmarshal(body, &graphErr); err == nil && graphErr.Error.Message != "" {
		return graphErr.Error.Code + ": " + graphErr.Error.Message
	}
	if len(body) == 0 {
		return http.StatusText(resp.StatusCode)
	}
	return string(body)
}

// classify maps token and transport failures to fatal error kinds.
func classify(err error, format string, args ...any) error {
	if cerr := runerr.FromContext(err, format, args...); cerr != nil {
		return cerr
	}

	var (
		retrieveErr *oauth2.RetrieveError
		dnsErr      *net.DNSError
		netErr      net.Error
	)

	kind := runerr.KindConnect
	switch {
	case errors.As(err, &retrieveErr):
		kind = runerr.KindAuth
	case errors.As(err, &dnsErr):
		kind = runerr.KindNoNetwork
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = runerr.KindTimeout
	}
	return runerr.Fatalf(kind, err, format, args...)
}
