package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shineum/embed-email/internal/email"
	"github.com/shineum/embed-email/internal/provider"
)

// fakeGraph serves the token endpoint and the sendMail action. sendMail
// answers with statuses in order, then 202.
type fakeGraph struct {
	t        *testing.T
	statuses []int
	header   http.Header

	mu      sync.Mutex
	tokens  int
	sends   int
	auth    []string
	lastReq sendMailRequest
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token"):
		f.tokens++
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+f.tokens)),
			ExpiresIn:   3600,
		})
	case strings.HasSuffix(r.URL.Path, "/sendMail"):
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		if err := json.NewDecoder(r.Body).Decode(&f.lastReq); err != nil {
			f.t.Errorf("failed to decode sendMail body: %v", err)
		}
		status := http.StatusAccepted
		if f.sends < len(f.statuses) {
			status = f.statuses[f.sends]
		}
		f.sends++
		for k, v := range f.header {
			w.Header()[k] = v
		}
		if status != http.StatusAccepted {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"code":"ErrorCode","message":"request failed"}}`))
			return
		}
		w.WriteHeader(status)
	default:
		f.t.Errorf("unexpected request path %s", r.URL.Path)
		http.NotFound(w, r)
	}
}

func (f *fakeGraph) counts() (sends, tokens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends, f.tokens
}

// newTestProvider points a GraphProvider at fake with millisecond backoff.
func newTestProvider(t *testing.T, fake *fakeGraph, recipients ...string) *GraphProvider {
	t.Helper()
	fake.t = t
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p := newProvider(GraphProviderConfig{
		TenantID:     "tenant",
		ClientID:     "app",
		ClientSecret: "secret",
		Sender:       "news@example.com",
		Recipients:   recipients,
		HTTPClient:   srv.Client(),
	}, srv.URL, srv.URL)
	p.backoff = provider.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Retries: 3}
	return p
}

func embeddedEmail() *email.Email {
	return &email.Email{
		To:       []string{"customer@example.com"},
		Cc:       []string{"manager@example.com"},
		Subject:  "Spring offers",
		TextBody: "plain",
		HtmlBody: `<img src="cid:abc.png">`,
		RawHeaders: map[string][]string{
			"X-Campaign": {"spring"},
			"Received":   {"from a by b"},
		},
		Attachments: []email.Attachment{
			{Filename: "abc.png", ContentType: "image/png", Content: []byte("png"), ContentID: "abc.png", Inline: true},
			{Filename: "logo.gif", ContentType: "image/gif", Content: []byte("gif"), Inline: true},
			{Filename: "terms.pdf", ContentType: "application/pdf", Content: []byte("pdf")},
		},
	}
}

func TestBuildSendMailRequest_InlineAttachments(t *testing.T) {
	t.Parallel()

	req := buildSendMailRequest(embeddedEmail(), nil)

	if req.Message.Body.ContentType != "html" || req.Message.Body.Content != `<img src="cid:abc.png">` {
		t.Errorf("Body: got %+v", req.Message.Body)
	}

	atts := req.Message.Attachments
	if len(atts) != 3 {
		t.Fatalf("Attachments count: got %d, want 3", len(atts))
	}
	if !atts[0].IsInline || atts[0].ContentID != "abc.png" {
		t.Errorf("embedded image: isInline=%v contentId=%q", atts[0].IsInline, atts[0].ContentID)
	}
	if !atts[1].IsInline || atts[1].ContentID != "logo.gif" {
		t.Errorf("inline part without content id should use its name, got %q", atts[1].ContentID)
	}
	if atts[2].IsInline || atts[2].ContentID != "" {
		t.Errorf("regular attachment: isInline=%v contentId=%q", atts[2].IsInline, atts[2].ContentID)
	}
	if atts[0].ContentBytes != "cG5n" {
		t.Errorf("contentBytes: got %q, want base64 of the content", atts[0].ContentBytes)
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("JSON marshal error: %v", err)
	}
	for _, want := range []string{`"contentId":"abc.png"`, `"isInline":true`, `"@odata.type":"#microsoft.graph.fileAttachment"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON missing %s: %s", want, data)
		}
	}
}

func TestBuildSendMailRequest_Recipients(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		override []string
		wantTo   []string
		wantCc   int
	}{
		{name: "from message", wantTo: []string{"customer@example.com"}, wantCc: 1},
		{name: "override", override: []string{"qa@example.com", "dev@example.com"}, wantTo: []string{"qa@example.com", "dev@example.com"}, wantCc: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := buildSendMailRequest(embeddedEmail(), tt.override).Message

			if len(msg.ToRecipients) != len(tt.wantTo) {
				t.Fatalf("ToRecipients: got %+v, want %v", msg.ToRecipients, tt.wantTo)
			}
			for i, want := range tt.wantTo {
				if got := msg.ToRecipients[i].EmailAddress.Address; got != want {
					t.Errorf("ToRecipients[%d]: got %q, want %q", i, got, want)
				}
			}
			if len(msg.CcRecipients) != tt.wantCc {
				t.Errorf("CcRecipients: got %d, want %d", len(msg.CcRecipients), tt.wantCc)
			}
		})
	}
}

func TestBuildSendMailRequest_CustomHeaders(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		HtmlBody: "<p>hi</p>",
		RawHeaders: map[string][]string{
			"X-Campaign": {"spring"},
			"X-A":        {"1"},
			"X-B":        {"2"},
			"X-C":        {"3"},
			"X-D":        {"4"},
			"X-E":        {"5"},
			"Received":   {"from a by b"},
		},
	}

	headers := buildSendMailRequest(msg, nil).Message.InternetMessageHeaders

	if len(headers) != maxCustomHeaders {
		t.Fatalf("headers: got %d, want %d", len(headers), maxCustomHeaders)
	}
	if headers[0].Name != "X-A" || headers[0].Value != "1" {
		t.Errorf("first header: got %+v", headers[0])
	}
	for _, h := range headers {
		if h.Name == "Received" {
			t.Error("non X- header should not be forwarded")
		}
	}
}

func TestSend_DeliversInlineImages(t *testing.T) {
	t.Parallel()

	fake := &fakeGraph{}
	p := newTestProvider(t, fake, "qa@example.com")

	if err := p.Send(context.Background(), &provider.Output{Source: "a.eml", Message: embeddedEmail()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.auth[0] != "Bearer token-1" {
		t.Errorf("Authorization: got %q", fake.auth[0])
	}
	got := fake.lastReq.Message
	if len(got.Attachments) != 3 || got.Attachments[0].ContentID != "abc.png" || !got.Attachments[0].IsInline {
		t.Errorf("Attachments: got %+v", got.Attachments)
	}
	if len(got.ToRecipients) != 1 || got.ToRecipients[0].EmailAddress.Address != "qa@example.com" {
		t.Errorf("ToRecipients: got %+v", got.ToRecipients)
	}
	if len(got.InternetMessageHeaders) != 1 || got.InternetMessageHeaders[0].Name != "X-Campaign" {
		t.Errorf("InternetMessageHeaders: got %+v", got.InternetMessageHeaders)
	}
}

func TestSend_StatusHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statuses   []int
		header     http.Header
		wantErr    bool
		wantSends  int
		wantTokens int
	}{
		{name: "accepted", wantSends: 1, wantTokens: 1},
		{name: "bad request is permanent", statuses: []int{400}, wantErr: true, wantSends: 1, wantTokens: 1},
		{name: "forbidden is permanent", statuses: []int{403}, wantErr: true, wantSends: 1, wantTokens: 1},
		{name: "server errors retried", statuses: []int{503, 500}, wantSends: 3, wantTokens: 1},
		{name: "server errors exhaust retries", statuses: []int{503, 503, 503, 503}, wantErr: true, wantSends: 4, wantTokens: 1},
		{
			name:       "rate limit honours retry-after",
			statuses:   []int{429},
			header:     http.Header{"Retry-After": {"1"}},
			wantSends:  2,
			wantTokens: 1,
		},
		{name: "401 refreshes token once", statuses: []int{401}, wantSends: 2, wantTokens: 2},
		{name: "second 401 fails", statuses: []int{401, 401}, wantErr: true, wantSends: 2, wantTokens: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeGraph{statuses: tt.statuses, header: tt.header}
			p := newTestProvider(t, fake)

			err := p.Send(context.Background(), &provider.Output{Source: "a.eml", Message: embeddedEmail()})
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			sends, tokens := fake.counts()
			if sends != tt.wantSends {
				t.Errorf("sendMail calls: got %d, want %d", sends, tt.wantSends)
			}
			if tokens != tt.wantTokens {
				t.Errorf("token requests: got %d, want %d", tokens, tt.wantTokens)
			}
		})
	}
}

func TestSend_ErrorCarriesGraphMessage(t *testing.T) {
	t.Parallel()

	fake := &fakeGraph{statuses: []int{400}}
	p := newTestProvider(t, fake)

	err := p.Send(context.Background(), &provider.Output{Source: "a.eml", Message: embeddedEmail()})

	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error: got %T %v, want *apiError", err, err)
	}
	if apiErr.status != 400 || apiErr.code != "ErrorCode" || apiErr.message != "request failed" {
		t.Errorf("apiError: got %+v", apiErr)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	t.Parallel()

	fake := &fakeGraph{statuses: []int{503, 503, 503, 503}}
	p := newTestProvider(t, fake)
	p.backoff.Initial = time.Hour
	p.backoff.Max = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := p.Send(ctx, &provider.Output{Source: "a.eml", Message: embeddedEmail()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error: got %v, want context.Canceled", err)
	}
}

func TestSend_NoMessage(t *testing.T) {
	t.Parallel()

	p := New(GraphProviderConfig{TenantID: "t", Sender: "s@example.com"})
	if err := p.Send(context.Background(), &provider.Output{Source: "a.eml"}); err == nil {
		t.Error("expected error for output without message, got nil")
	}
}

func TestNew_Endpoints(t *testing.T) {
	t.Parallel()

	p := New(GraphProviderConfig{TenantID: "contoso", Sender: "news letter@example.com"})

	if p.sendURL != "https://graph.microsoft.com/v1.0/users/news%20letter@example.com/sendMail" {
		t.Errorf("sendURL: got %q", p.sendURL)
	}
	if p.creds.endpoint != "https://login.microsoftonline.com/contoso/oauth2/v2.0/token" {
		t.Errorf("token endpoint: got %q", p.creds.endpoint)
	}
	if p.client == nil || p.Name() != "graph" {
		t.Error("default client or name not set")
	}
}
