// Package embed rewrites emails so that remote images referenced from the
// HTML body travel inside the message as inline parts.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shineum/embed-email/internal/composer"
	"github.com/shineum/embed-email/internal/document"
	"github.com/shineum/embed-email/internal/email"
	"github.com/shineum/embed-email/internal/parser"
	"github.com/shineum/embed-email/internal/registry"
)

var (
	// ErrNotHTML is returned for messages without an HTML body.
	ErrNotHTML = errors.New("email has no html body")
	// ErrInvalidHTML is returned when the HTML body cannot be parsed.
	ErrInvalidHTML = errors.New("cannot parse html body")
)

// URLFetcher downloads a set of URLs and maps each one that succeeded to the
// local path of its content.
type URLFetcher interface {
	FetchAll(ctx context.Context, urls []string) map[string]string
}

// Embedder runs the embedding pipeline for one message at a time.
type Embedder struct {
	fetcher URLFetcher
	logger  *slog.Logger
}

// New creates an Embedder that downloads images through fetcher.
func New(fetcher URLFetcher, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{fetcher: fetcher, logger: logger}
}

// Embed decodes raw, embeds its remote images and returns the re-encoded
// message.
func (e *Embedder) Embed(ctx context.Context, raw []byte) ([]byte, error) {
	_, out, err := e.Process(ctx, raw)
	return out, err
}

// Process is Embed that also returns the rebuilt message.
func (e *Embedder) Process(ctx context.Context, raw []byte) (*email.Email, []byte, error) {
	msg, err := parser.Parse(raw)
	if err != nil {
		return nil, nil, err
	}

	rebuilt, err := e.EmbedMessage(ctx, msg)
	if err != nil {
		return nil, nil, err
	}

	out, err := composer.Compose(rebuilt)
	if err != nil {
		return nil, nil, err
	}
	return rebuilt, out, nil
}

// EmbedMessage returns a copy of msg in which every remote image that could
// be downloaded and identified is carried as an inline attachment and
// referenced by content id. Images that failed are left pointing at their
// URL. msg itself is not modified.
func (e *Embedder) EmbedMessage(ctx context.Context, msg *email.Email) (*email.Email, error) {
	if strings.TrimSpace(msg.HtmlBody) == "" {
		return nil, ErrNotHTML
	}

	doc, err := document.Parse(msg.HtmlBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHTML, err)
	}

	urls := doc.ImageURLs()
	var fetched map[string]string
	if len(urls) > 0 {
		fetched = e.fetcher.FetchAll(ctx, urls)
		// Downloads cut short by cancellation fail quietly; an interrupted
		// email must not be written as if it were complete.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	res := registry.Register(fetched, msg.Attachments, e.logger)

	out := msg.Clone()
	out.Attachments = res.Attachments

	rewritten := doc.Rewrite(res.URLToID)
	if rewritten > 0 {
		html, err := doc.HTML()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHTML, err)
		}
		out.HtmlBody = html
	}

	e.logger.Info("embedded images",
		"found", len(urls),
		"downloaded", len(fetched),
		"embedded", len(res.URLToID),
		"rewritten", rewritten,
	)

	return out, nil
}
