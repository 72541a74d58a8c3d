// Package graph implements a Provider that sends rebuilt emails via the
// Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"sort"
	"strings"

	"github.com/shineum/embed-email/internal/email"
)

// maxCustomHeaders is the number of internetMessageHeaders Graph accepts.
const maxCustomHeaders = 5

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
}

// graphAttachment represents a file attachment in a Graph API request.
// Inline attachments are referenced from the HTML body by ContentID.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
	IsInline     bool   `json:"isInline"`
	ContentID    string `json:"contentId,omitempty"`
}

// messageHeader is a custom X- header carried by the message.
type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Email into a Graph API sendMail
// request body. Non-empty recipients replace the message's To and Cc.
func buildSendMailRequest(msg *email.Email, recipients []string) *sendMailRequest {
	// Determine body content type and content
	body := messageBody{
		ContentType: "text",
		Content:     msg.TextBody,
	}
	if msg.HtmlBody != "" {
		body.ContentType = "html"
		body.Content = msg.HtmlBody
	}

	to, cc := msg.To, msg.Cc
	if len(recipients) > 0 {
		to, cc = recipients, nil
	}

	// Build attachments
	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		ga := graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
			IsInline:     att.Inline,
		}
		if att.Inline || att.ContentID != "" {
			ga.ContentID = att.Ref()
		}
		attachments = append(attachments, ga)
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:                msg.Subject,
			Body:                   body,
			ToRecipients:           toRecipients(to),
			CcRecipients:           toRecipients(cc),
			Attachments:            attachments,
			InternetMessageHeaders: customHeaders(msg.RawHeaders),
		},
	}
}

func toRecipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, recipient{
			EmailAddress: emailAddress{Address: addr},
		})
	}
	return out
}

// customHeaders returns the message's X- headers in name order, first value
// only, capped at what Graph accepts.
func customHeaders(headers map[string][]string) []messageHeader {
	names := make([]string, 0)
	for name, values := range headers {
		if len(values) > 0 && strings.HasPrefix(strings.ToLower(name), "x-") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > maxCustomHeaders {
		names = names[:maxCustomHeaders]
	}

	out := make([]messageHeader, 0, len(names))
	for _, name := range names {
		out = append(out, messageHeader{Name: name, Value: headers[name][0]})
	}
	return out
}
