package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenExpiryBuffer is subtracted from a token's lifetime so it is never
// presented right as it expires.
const tokenExpiryBuffer = 5 * time.Minute

// graphScope is the client-credentials scope for the Graph API.
const graphScope = "https://graph.microsoft.com/.default"

// credentials obtains app-only access tokens with the OAuth2 client
// credentials grant and keeps the current one until shortly before it
// expires. Safe for concurrent use.
type credentials struct {
	endpoint string
	form     url.Values
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	current string
	expiry  time.Time
}

func newCredentials(endpoint, clientID, clientSecret string, client *http.Client) *credentials {
	return &credentials{
		endpoint: endpoint,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		client: client,
		now:    time.Now,
	}
}

// token returns the cached access token, requesting a new one when there is
// none or it is about to expire.
func (c *credentials) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != "" && c.now().Before(c.expiry) {
		return c.current, nil
	}

	tok, lifetime, err := c.request(ctx)
	if err != nil {
		return "", err
	}
	c.current = tok
	c.expiry = c.now().Add(lifetime - tokenExpiryBuffer)
	return tok, nil
}

// invalidate drops the cached token; the next call to token fetches a new
// one. Used after Graph rejects the token with 401.
func (c *credentials) invalidate() {
	c.mu.Lock()
	c.current = ""
	c.mu.Unlock()
}

func (c *credentials) request(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(c.form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}

	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
