// Package parser decodes RFC 5322 email messages with MIME multipart support
// into the email model.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/shineum/embed-email/internal/email"
)

// headerDecoder decodes RFC 2047 encoded words in headers and filenames,
// including non-UTF-8 charsets.
var headerDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		return decodeReader(charset, input), nil
	},
}

// Parse parses a raw RFC 5322 email message into an Email struct.
// It handles single part messages, nested multipart messages with text/plain
// and text/html bodies, attachments and inline parts. Unrecognized MIME parts
// are logged as warnings and skipped.
func Parse(raw []byte) (*email.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Email{
		RawHeaders: make(map[string][]string, len(msg.Header)),
	}
	for key, values := range msg.Header {
		result.RawHeaders[key] = append([]string(nil), values...)
	}
	result.HeaderOrder = headerOrder(raw)

	result.From = msg.Header.Get("From")
	result.Subject = decodeHeader(msg.Header.Get("Subject"))
	result.MessageID = msg.Header.Get("Message-Id")
	result.To = parseAddressList(msg.Header.Get("To"))
	result.Cc = parseAddressList(msg.Header.Get("Cc"))
	result.Bcc = parseAddressList(msg.Header.Get("Bcc"))

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.TextBody = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := readBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	switch mediaType {
	case "text/plain":
		result.TextBody = decodeText(body, params["charset"])
	case "text/html":
		result.HtmlBody = decodeText(body, params["charset"])
	default:
		slog.Warn("unrecognized top-level content type",
			"content_type", mediaType,
		)
		result.TextBody = string(body)
	}

	return result, nil
}

// parseMultipart walks a multipart body, extracting the first text/plain and
// text/html parts and collecting every other leaf part with a name as an
// attachment.
func parseMultipart(body io.Reader, boundary string, result *email.Email) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nestedBoundary, result); err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
			}
			continue
		}

		content, err := readBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		contentID := email.TrimContentID(part.Header.Get("Content-Id"))
		named := part.FileName() != "" || params["name"] != ""

		// The first text part of each kind not marked as an attachment is the
		// body, even when it carries a Content-ID (the root of a
		// multipart/related) or a filename.
		if disposition != "attachment" {
			switch {
			case mediaType == "text/plain" && result.TextBody == "":
				result.TextBody = decodeText(content, params["charset"])
				continue
			case mediaType == "text/html" && result.HtmlBody == "":
				result.HtmlBody = decodeText(content, params["charset"])
				continue
			}
		}

		if disposition == "" && contentID == "" && !named {
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
			)
			continue
		}

		result.Attachments = append(result.Attachments, email.Attachment{
			Filename:    extractFilename(part, mediaType, params, contentID),
			ContentType: mediaType,
			Content:     content,
			ContentID:   contentID,
			Inline:      disposition == "inline" || (disposition == "" && contentID != ""),
		})
	}

	return nil
}

// readBody reads the full content of a body or part, handling
// Content-Transfer-Encoding. multipart.Reader already removes
// quoted-printable encoding from parts, so the header is absent there.
func readBody(r io.Reader, encoding string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	switch encoding {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "", "\t", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			// Try with RawStdEncoding for unpadded base64
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode quoted-printable content: %w", err)
		}
		return decoded, nil
	default:
		return raw, nil
	}
}

// decodeText converts text in the given charset to UTF-8. Unknown charsets
// are passed through unchanged.
func decodeText(data []byte, charset string) string {
	decoded, err := io.ReadAll(decodeReader(charset, bytes.NewReader(data)))
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

// decodeReader returns a reader that decodes r from charset. For empty,
// us-ascii, utf-8 or unknown charsets r is returned as is.
func decodeReader(charset string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "us-ascii", "utf-8", "utf8":
		return r
	}
	enc, _ := ianaindex.MIME.Encoding(charset)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(charset)
	}
	if enc == nil {
		return r
	}
	return enc.NewDecoder().Reader(r)
}

// decodeHeader decodes RFC 2047 encoded words, returning the input when it
// cannot be decoded.
func decodeHeader(v string) string {
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// extractFilename extracts the filename from a MIME part, checking
// Content-Disposition, then the Content-Type name parameter, then the
// content id. Parts without any of them get a name derived from the media
// type.
func extractFilename(part *multipart.Part, mediaType string, params map[string]string, contentID string) string {
	if fn := part.FileName(); fn != "" {
		return decodeHeader(fn)
	}
	if name, ok := params["name"]; ok && name != "" {
		return decodeHeader(name)
	}
	if contentID != "" {
		return contentID
	}
	parts := strings.SplitN(mediaType, "/", 2)
	if len(parts) == 2 {
		return "attachment." + parts[1]
	}
	return "attachment"
}

// headerOrder returns the canonical key of each header line in raw, in order.
// Continuation lines belong to the line before them.
func headerOrder(raw []byte) []string {
	var keys []string
	for len(raw) > 0 {
		line := raw
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			raw = nil
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		if i := bytes.IndexByte(line, ':'); i > 0 {
			keys = append(keys, textproto.CanonicalMIMEHeaderKey(string(bytes.TrimSpace(line[:i]))))
		}
	}
	return keys
}

// parseAddressList splits a comma-separated address list into individual addresses.
func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
