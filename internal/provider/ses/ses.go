// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-mailmerge/internal/email"
	"github.com/shineum/smtp-mailmerge/internal/provider"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SESProvider sends emails via the AWS SES v2 API. Every message goes out
// as raw MIME so attachments and the Message-ID survive unchanged.
type SESProvider struct {
	client SendEmailAPI
	logger *slog.Logger
}

var _ provider.Provider = (*SESProvider)(nil)

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration. The SDK's
// own retryer is disabled; a failed message is reported, not retried.
func New(ctx context.Context, cfg SESProviderConfig, logger *slog.Logger) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	)

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, runerr.Fatalf(runerr.KindConfig, err, "failed to load AWS config")
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), logger), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI, logger *slog.Logger) *SESProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESProvider{client: client, logger: logger}
}

// Connect checks that the provider has a client. SES is stateless.
func (s *SESProvider) Connect(_ context.Context) error {
	if s.client == nil {
		return runerr.Fatalf(runerr.KindConfig, nil, "SES client is not configured")
	}
	return nil
}

// Send delivers one message via AWS SES v2. API errors fail only this
// message; a cancelled context ends the run.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email) error {
	raw, err := msg.Bytes()
	if err != nil {
		return runerr.Recoverablef(runerr.KindDelivery, err, "failed to build message for %s", msg.To)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if cerr := runerr.FromContext(err, "SES request for %s interrupted", msg.To); cerr != nil {
			return cerr
		}
		s.logger.Warn("SES API error", "to", msg.To, "error", err)
		return runerr.Recoverablef(runerr.KindDelivery, err, "SES rejected message to %s", msg.To)
	}

	if out != nil && out.MessageId != nil {
		s.logger.Debug("SES accepted message", "to", msg.To, "ses_message_id", *out.MessageId)
	}
	return nil
}

// Close is a no-op.
func (s *SESProvider) Close() error {
	return nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}
