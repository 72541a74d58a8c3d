// Package ses implements a Provider that sends rebuilt emails via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/embed-email/internal/provider"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender overrides the envelope sender. Empty uses the From header.
	Sender string
	// Recipients overrides the destinations. Empty uses the message's
	// To, Cc and Bcc headers.
	Recipients []string
	Logger     *slog.Logger
}

// SESProvider submits the serialized message as raw MIME, so inline parts
// and their content ids reach the recipient unchanged.
type SESProvider struct {
	sender     string
	recipients []string
	client     SendEmailAPI
	backoff    provider.Backoff
	logger     *slog.Logger
}

// SendEmailAPI is the SES v2 SendEmail operation.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New loads the AWS configuration for cfg.Region and returns a provider
// using the SES v2 client. Static keys are used when both are set,
// otherwise the default credential chain applies.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(cfg, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient returns a provider sending through client. Region and keys
// in cfg are ignored.
func NewWithClient(cfg SESProviderConfig, client SendEmailAPI) *SESProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESProvider{
		sender:     cfg.Sender,
		recipients: cfg.Recipients,
		client:     client,
		backoff:    provider.DefaultBackoff,
		logger:     logger,
	}
}

// Send submits out.Raw. Every failed call is retried with backoff until the
// retries run out or ctx is done.
func (s *SESProvider) Send(ctx context.Context, out *provider.Output) error {
	if len(out.Raw) == 0 {
		return fmt.Errorf("output for %s has no content", out.Source)
	}

	input := buildRawInput(s.sender, s.recipients, out.Raw)

	var messageID string
	err := s.backoff.Do(ctx, s.logger, func(ctx context.Context, _ int) error {
		resp, err := s.client.SendEmail(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return provider.Retryable(err)
		}
		messageID = aws.ToString(resp.MessageId)
		return nil
	})
	if err != nil {
		return fmt.Errorf("SES SendEmail for %s: %w", out.Source, err)
	}

	s.logger.Info("email sent via SES", "file", out.Source, "message_id", messageID)
	return nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// buildRawInput creates a SendEmailInput carrying the raw message.
// Without explicit recipients SES reads the destinations from the headers.
func buildRawInput(sender string, recipients []string, raw []byte) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
	if sender != "" {
		input.FromEmailAddress = aws.String(sender)
	}
	if len(recipients) > 0 {
		input.Destination = &types.Destination{ToAddresses: recipients}
	}
	return input
}
