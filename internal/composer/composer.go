// Package composer encodes the email model back into an RFC 5322 message.
package composer

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"sort"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/shineum/embed-email/internal/email"
)

// maxLineLen is the length header lines are folded at.
const maxLineLen = 78

// structural headers are regenerated for the new MIME tree and never copied
// from the source message.
var structural = map[string]bool{
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"Content-Disposition":       true,
	"Content-Id":                true,
	"Content-Length":            true,
	"Mime-Version":              true,
	"Date":                      true,
}

// Compose serializes e. The MIME tree is multipart/mixed around
// multipart/related around multipart/alternative, each level present only
// when needed; inline attachments go in the related part with their
// Content-ID. Every original header except the structural ones is written
// back unchanged, repeated headers as separate lines.
func Compose(e *email.Email) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTo(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the serialized message to w.
func WriteTo(w io.Writer, e *email.Email) error {
	m := gomail.NewMessage()

	if v := headerValues(e.RawHeaders, "Date"); len(v) > 0 {
		m.SetHeader("Date", v[0])
	}
	setMissing(m, e)
	setBody(m, e)

	for i := range e.Attachments {
		addAttachment(m, &e.Attachments[i])
	}

	var buf bytes.Buffer
	writePassthrough(&buf, e.RawHeaders, e.HeaderOrder)
	if _, err := m.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// setMissing fills the addressing headers from the model when the message
// has no original header for them.
func setMissing(m *gomail.Message, e *email.Email) {
	if e.From != "" && len(headerValues(e.RawHeaders, "From")) == 0 {
		m.SetHeader("From", e.From)
	}
	if len(e.To) > 0 && len(headerValues(e.RawHeaders, "To")) == 0 {
		m.SetHeader("To", e.To...)
	}
	if len(e.Cc) > 0 && len(headerValues(e.RawHeaders, "Cc")) == 0 {
		m.SetHeader("Cc", e.Cc...)
	}
	if e.Subject != "" && len(headerValues(e.RawHeaders, "Subject")) == 0 {
		m.SetHeader("Subject", e.Subject)
	}
	if e.MessageID != "" && len(headerValues(e.RawHeaders, "Message-Id")) == 0 {
		m.SetHeader("Message-ID", e.MessageID)
	}
}

func setBody(m *gomail.Message, e *email.Email) {
	switch {
	case e.TextBody != "" && e.HtmlBody != "":
		m.SetBody("text/plain", e.TextBody)
		m.AddAlternative("text/html", e.HtmlBody)
	case e.HtmlBody != "":
		m.SetBody("text/html", e.HtmlBody)
	default:
		m.SetBody("text/plain", e.TextBody)
	}
}

func addAttachment(m *gomail.Message, a *email.Attachment) {
	disposition := "attachment"
	if a.Inline {
		disposition = "inline"
	}

	header := map[string][]string{
		"Content-Type":        {partContentType(a)},
		"Content-Disposition": {formatParam(disposition, "filename", a.Filename)},
	}
	if a.Inline || a.ContentID != "" {
		header["Content-ID"] = []string{"<" + a.Ref() + ">"}
	}

	content := a.Content
	settings := []gomail.FileSetting{
		gomail.SetHeader(header),
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}),
	}

	if a.Inline {
		m.Embed(a.Filename, settings...)
	} else {
		m.Attach(a.Filename, settings...)
	}
}

func partContentType(a *email.Attachment) string {
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	if v := formatParam(ct, "name", a.Filename); v != "" {
		return v
	}
	return formatParam("application/octet-stream", "name", a.Filename)
}

// formatParam formats a media type or disposition with one parameter,
// falling back to the bare value when the parameter cannot be encoded.
func formatParam(value, key, param string) string {
	if param == "" {
		return mime.FormatMediaType(value, nil)
	}
	if v := mime.FormatMediaType(value, map[string]string{key: param}); v != "" {
		return v
	}
	return mime.FormatMediaType(value, nil)
}

// writePassthrough writes the non-structural original headers. Keys listed
// in order are written in that sequence, one value per occurrence; the
// remaining values follow in key order.
func writePassthrough(buf *bytes.Buffer, headers map[string][]string, order []string) {
	canonical := make(map[string]string, len(headers))
	for k := range headers {
		canonical[textproto.CanonicalMIMEHeaderKey(k)] = k
	}

	written := make(map[string]int, len(headers))
	for _, ck := range order {
		k, ok := canonical[ck]
		if !ok || structural[ck] {
			continue
		}
		values := headers[k]
		if written[k] >= len(values) {
			continue
		}
		buf.WriteString(foldHeader(k, values[written[k]]))
		buf.WriteString("\r\n")
		written[k]++
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		if !structural[textproto.CanonicalMIMEHeaderKey(k)] && written[k] < len(headers[k]) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range headers[k][written[k]:] {
			buf.WriteString(foldHeader(k, v))
			buf.WriteString("\r\n")
		}
	}
}

// foldHeader renders "key: value", inserting a line break before existing
// whitespace so no line exceeds maxLineLen where possible. The value is not
// otherwise changed, so unfolding restores it exactly.
func foldHeader(key, value string) string {
	line := key + ": " + value
	if len(line) <= maxLineLen {
		return line
	}

	var b strings.Builder
	// Never break between the colon and the first word.
	start := len(key) + 1
	for len(line) > maxLineLen {
		cut := strings.LastIndexAny(line[:maxLineLen], " \t")
		if cut <= start {
			from := max(maxLineLen, start+1)
			next := strings.IndexAny(line[from:], " \t")
			if next < 0 {
				break
			}
			cut = from + next
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n")
		line = line[cut:]
		start = 0
	}
	b.WriteString(line)
	return b.String()
}

func headerValues(headers map[string][]string, key string) []string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}
