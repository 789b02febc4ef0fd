// Package resend implements a Provider that sends emails via the Resend API.
package resend

import (
	"context"
	"log/slog"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/smtp-mailmerge/internal/email"
	"github.com/shineum/smtp-mailmerge/internal/provider"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

// Config holds Resend provider configuration.
type Config struct {
	APIKey string
}

// EmailSender is the subset of the Resend client used by the provider.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Provider sends each message as one Resend API call.
type Provider struct {
	emails EmailSender
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider backed by the Resend API client. Without an API
// key the provider fails on Connect.
func New(cfg Config, logger *slog.Logger) *Provider {
	if cfg.APIKey == "" {
		return NewWithSender(nil, logger)
	}
	return NewWithSender(resend.NewClient(cfg.APIKey).Emails, logger)
}

// NewWithSender creates a Provider with a custom sender, used for testing.
func NewWithSender(sender EmailSender, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{emails: sender, logger: logger}
}

// Connect checks that an API key is configured.
func (p *Provider) Connect(_ context.Context) error {
	if p.emails == nil {
		return runerr.Fatalf(runerr.KindConfig, nil, "resend API key is not configured")
	}
	return nil
}

// Send delivers one message.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.Display()},
		Subject: msg.Subject,
		Text:    msg.TextBody,
	}
	if msg.MessageID != "" {
		req.Headers = map[string]string{"Message-ID": msg.MessageID}
	}
	if len(msg.Attachments) > 0 {
		req.Attachments = convertAttachments(msg.Attachments)
	}

	resp, err := p.emails.SendWithContext(ctx, req)
	if err != nil {
		if cerr := runerr.FromContext(err, "resend request for %s interrupted", msg.To); cerr != nil {
			return cerr
		}
		p.logger.Warn("resend API error", "to", msg.To, "error", err)
		return runerr.Recoverablef(runerr.KindDelivery, err, "resend rejected message to %s", msg.To)
	}

	if resp != nil {
		p.logger.Debug("resend accepted message", "to", msg.To, "resend_id", resp.Id)
	}
	return nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

func convertAttachments(attachments []email.Attachment) []*resend.Attachment {
	result := make([]*resend.Attachment, len(attachments))
	for i, a := range attachments {
		result[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		}
	}
	return result
}
