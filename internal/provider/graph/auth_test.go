package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// tokenServer issues numbered tokens and counts requests.
func tokenServer(t *testing.T, lifetime int64) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var issued atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		for key, want := range map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     "app",
			"client_secret": "secret",
			"scope":         graphScope,
		} {
			if got := r.FormValue(key); got != want {
				t.Errorf("%s: got %q, want %q", key, got, want)
			}
		}
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+n)),
			ExpiresIn:   lifetime,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &issued
}

func TestCredentials_CachesUntilExpiry(t *testing.T) {
	t.Parallel()

	srv, issued := tokenServer(t, 3600)
	c := newCredentials(srv.URL, "app", "secret", srv.Client())

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	for range 3 {
		tok, err := c.token(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok != "token-1" {
			t.Errorf("token: got %q, want %q", tok, "token-1")
		}
	}
	if got := issued.Load(); got != 1 {
		t.Errorf("token requests: got %d, want 1", got)
	}

	// Inside the expiry buffer the token counts as expired.
	clock = clock.Add(time.Hour - tokenExpiryBuffer)
	tok, err := c.token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "token-2" {
		t.Errorf("token after expiry: got %q, want %q", tok, "token-2")
	}
}

func TestCredentials_Invalidate(t *testing.T) {
	t.Parallel()

	srv, issued := tokenServer(t, 3600)
	c := newCredentials(srv.URL, "app", "secret", srv.Client())

	if _, err := c.token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.invalidate()
	tok, err := c.token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tok != "token-2" || issued.Load() != 2 {
		t.Errorf("after invalidate: token %q after %d requests, want token-2 after 2", tok, issued.Load())
	}
}

func TestCredentials_ConcurrentCallersShareToken(t *testing.T) {
	t.Parallel()

	srv, issued := tokenServer(t, 3600)
	c := newCredentials(srv.URL, "app", "secret", srv.Client())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.token(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := issued.Load(); got != 1 {
		t.Errorf("token requests: got %d, want 1", got)
	}
}

func TestCredentials_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "invalid_client", http.StatusUnauthorized)
			},
		},
		{
			name: "missing token",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"token_type":"Bearer","expires_in":3600}`))
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte("<html>login</html>"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := newCredentials(srv.URL, "app", "secret", srv.Client())
			if _, err := c.token(context.Background()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCredentials_CancelledContext(t *testing.T) {
	t.Parallel()

	srv, issued := tokenServer(t, 3600)
	c := newCredentials(srv.URL, "app", "secret", srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.token(ctx); err == nil {
		t.Error("expected error for cancelled context, got nil")
	}
	if got := issued.Load(); got != 0 {
		t.Errorf("token requests: got %d, want 0", got)
	}
}
