// Package provider defines the interface for output backends that receive
// rebuilt email messages.
package provider

import (
	"context"

	"github.com/shineum/embed-email/internal/email"
)

// Output is one rebuilt email ready for delivery.
type Output struct {
	// Source is the path of the input file the message was read from.
	Source string
	// Message is the rebuilt message.
	Message *email.Email
	// Raw is the serialized RFC 5322 form of Message.
	Raw []byte
}

// Provider is the interface that output backends must implement.
// Each provider hands the rebuilt message to its destination
// (e.g., a sibling file, stdout, Amazon SES, Microsoft Graph).
type Provider interface {
	// Send delivers the output through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, out *Output) error

	// Name returns the human-readable name of this provider.
	Name() string
}
