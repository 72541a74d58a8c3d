// Package stdout implements a Provider that prints a summary of each rebuilt
// email to standard output instead of delivering it.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/embed-email/internal/document"
	"github.com/shineum/embed-email/internal/email"
	"github.com/shineum/embed-email/internal/provider"
)

// Provider prints rebuilt messages to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints a summary of the rebuilt message: addressing, the number of
// images still referenced remotely, and every part with its size.
func (p *Provider) Send(_ context.Context, out *provider.Output) error {
	msg := out.Message
	if msg == nil {
		msg = &email.Email{}
	}

	var b strings.Builder

	b.WriteString("========================================\n")
	if out.Source != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", out.Source))
	}
	b.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.To, ", ")))

	if len(msg.Cc) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\n", strings.Join(msg.Cc, ", ")))
	}

	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	b.WriteString(fmt.Sprintf("HTML: %s\n", formatSize(len(msg.HtmlBody))))

	if remote, err := document.ExtractImageURLs(msg.HtmlBody); err == nil && len(remote) > 0 {
		b.WriteString(fmt.Sprintf("Remote images: %d\n", len(remote)))
		for _, u := range remote {
			b.WriteString(fmt.Sprintf("  %s\n", u))
		}
	}

	var inline, attached []string
	for _, att := range msg.Attachments {
		if att.Inline {
			inline = append(inline, fmt.Sprintf("%s (%s, %s, cid:%s)", att.Filename, att.ContentType, formatSize(len(att.Content)), att.Ref()))
		} else {
			attached = append(attached, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
	}
	if len(inline) > 0 {
		b.WriteString(fmt.Sprintf("Inline: %s\n", strings.Join(inline, ", ")))
	}
	if len(attached) > 0 {
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(attached, ", ")))
	}

	b.WriteString(fmt.Sprintf("Size: %s\n", formatSize(len(out.Raw))))
	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
