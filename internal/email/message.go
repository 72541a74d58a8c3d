// Package email defines the email data model shared by the decoder, the
// embedding pipeline and the encoder.
package email

import "strings"

// Email represents a decoded email message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string

	// HeaderOrder lists the canonical key of every header line in the order
	// the lines appeared, repeats included.
	HeaderOrder []string
}

// Attachment represents a named MIME part carried by an email message.
// Inline parts are referenced from the HTML body by their content id.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte

	// ContentID is the part's Content-ID without the angle brackets.
	ContentID string
	Inline    bool
}

// Ref returns the identifier used in a "cid:" reference to this attachment.
func (a *Attachment) Ref() string {
	if a.ContentID != "" {
		return a.ContentID
	}
	return a.Filename
}

// Clone returns a copy of the message whose slices and header map can be
// modified without affecting the original. Attachment contents are shared.
func (e *Email) Clone() *Email {
	c := *e
	c.To = append([]string(nil), e.To...)
	c.Cc = append([]string(nil), e.Cc...)
	c.Bcc = append([]string(nil), e.Bcc...)
	c.Attachments = append([]Attachment(nil), e.Attachments...)
	c.HeaderOrder = append([]string(nil), e.HeaderOrder...)
	if e.RawHeaders != nil {
		c.RawHeaders = make(map[string][]string, len(e.RawHeaders))
		for k, v := range e.RawHeaders {
			c.RawHeaders[k] = append([]string(nil), v...)
		}
	}
	return &c
}

// TrimContentID strips surrounding whitespace and angle brackets from a
// Content-ID header value.
func TrimContentID(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "<")
	v = strings.TrimSuffix(v, ">")
	return v
}
