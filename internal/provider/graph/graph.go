package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/embed-email/internal/provider"
)

const (
	graphEndpoint = "https://graph.microsoft.com/v1.0"
	loginEndpoint = "https://login.microsoftonline.com"
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox the message is sent from.
	Sender string
	// Recipients replaces the message's To and Cc when set.
	Recipients []string
	// HTTPClient is used for token and API calls. Nil means a client with a
	// 30 second timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GraphProvider sends rebuilt emails through the Graph sendMail action of
// the sender's mailbox. Embedded images travel as inline file attachments
// carrying their content id, so the cid: references in the body resolve.
type GraphProvider struct {
	sender     string
	recipients []string
	sendURL    string
	client     *http.Client
	creds      *credentials
	backoff    provider.Backoff
	logger     *slog.Logger
}

// New creates a GraphProvider for the given tenant and mailbox.
func New(cfg GraphProviderConfig) *GraphProvider {
	return newProvider(cfg, graphEndpoint, loginEndpoint)
}

// newProvider builds a GraphProvider against the given API and login base
// URLs.
func newProvider(cfg GraphProviderConfig, apiBase, loginBase string) *GraphProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginBase, url.PathEscape(cfg.TenantID))
	return &GraphProvider{
		sender:     cfg.Sender,
		recipients: cfg.Recipients,
		sendURL:    fmt.Sprintf("%s/users/%s/sendMail", apiBase, url.PathEscape(cfg.Sender)),
		client:     client,
		creds:      newCredentials(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		backoff:    provider.DefaultBackoff,
		logger:     logger,
	}
}

// Send posts out.Message to sendMail. Rate limiting (429, honoring
// Retry-After), server errors and transport failures are retried with
// backoff; a 401 gets one immediate retry with a fresh token; other
// statuses fail at once.
func (g *GraphProvider) Send(ctx context.Context, out *provider.Output) error {
	if out.Message == nil {
		return fmt.Errorf("output for %s has no message", out.Source)
	}

	body, err := json.Marshal(buildSendMailRequest(out.Message, g.recipients))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	reauthorized := false
	err = g.backoff.Do(ctx, g.logger, func(ctx context.Context, _ int) error {
		err := g.post(ctx, body)

		apiErr, ok := err.(*apiError)
		if !ok {
			return err
		}
		switch {
		case apiErr.status == http.StatusUnauthorized && !reauthorized:
			reauthorized = true
			g.creds.invalidate()
			return &provider.RetryableError{Err: apiErr, Now: true}
		case apiErr.status == http.StatusTooManyRequests:
			return &provider.RetryableError{Err: apiErr, After: apiErr.retryAfter}
		case apiErr.status >= 500:
			return provider.Retryable(apiErr)
		default:
			return apiErr
		}
	})
	if err != nil {
		return fmt.Errorf("graph sendMail for %s: %w", g.sender, err)
	}

	g.logger.Info("email sent via Graph", "file", out.Source, "sender", g.sender)
	return nil
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "graph"
}

// post performs one sendMail call. Non-2xx answers are *apiError; transport
// failures are retryable.
func (g *GraphProvider) post(ctx context.Context, body []byte) error {
	token, err := g.creds.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return provider.Retryable(fmt.Errorf("sendMail request failed: %w", err))
	}
	defer resp.Body.Close()

	// sendMail answers 202 Accepted.
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}

	return newAPIError(resp)
}

// apiError is a non-2xx answer from the Graph API.
type apiError struct {
	status     int
	code       string
	message    string
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.status, e.message)
}

func newAPIError(resp *http.Response) *apiError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	e := &apiError{status: resp.StatusCode}
	var body graphErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		e.code, e.message = body.Error.Code, body.Error.Message
	} else {
		e.message = strings.TrimSpace(string(raw))
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.retryAfter = time.Duration(secs) * time.Second
	}
	return e
}
